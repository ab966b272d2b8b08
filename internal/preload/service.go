// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package preload

import (
	"context"

	"github.com/thejerf/suture/v4"

	"github.com/avkuzmin/serplens/internal/logging"
)

// Service adapts the coordinator to the suture.Service interface. The
// preload pass runs once per process start: after a clean pass the
// service asks the supervisor not to restart it.
type Service struct {
	coordinator *Coordinator
}

// NewService wraps a coordinator as a supervised one-shot service.
func NewService(coordinator *Coordinator) *Service {
	return &Service{coordinator: coordinator}
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.coordinator.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Error().Err(err).Msg("preload pass failed")
		return err
	}
	return suture.ErrDoNotRestart
}

// String implements fmt.Stringer for supervisor logs.
func (s *Service) String() string { return "preload" }
