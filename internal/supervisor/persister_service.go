// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package supervisor

import (
	"context"
	"time"

	"github.com/avkuzmin/serplens/internal/logging"
)

// Persister is satisfied by *cache.Store.
type Persister interface {
	Persist() error
}

// PersisterService periodically flushes the in-memory cache to disk so
// a restart starts warm even when no preload pass has run recently.
// Persist failures are logged and retried on the next tick; they never
// crash the service.
type PersisterService struct {
	store    Persister
	interval time.Duration
}

// NewPersisterService creates a periodic persister.
func NewPersisterService(store Persister, interval time.Duration) *PersisterService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &PersisterService{store: store, interval: interval}
}

// Serve implements suture.Service. A final persist runs at shutdown so
// the latest entries survive the restart.
func (s *PersisterService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.store.Persist(); err != nil {
				logging.Warn().Err(err).Msg("final cache persist failed")
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.store.Persist(); err != nil {
				logging.Warn().Err(err).Msg("periodic cache persist failed")
				continue
			}
			logging.Debug().Msg("cache persisted")
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *PersisterService) String() string { return "cache-persister" }
