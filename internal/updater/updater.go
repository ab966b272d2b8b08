// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package updater drives server-side data refresh jobs: it triggers an
// update on the backend and then polls the backend's status endpoint
// until the job reaches a terminal state or the configured timeout
// passes. The last observed status is kept for the dashboard to poll.
package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avkuzmin/serplens/internal/config"
	"github.com/avkuzmin/serplens/internal/logging"
	"github.com/avkuzmin/serplens/internal/metrics"
	"github.com/avkuzmin/serplens/internal/models"
)

// ErrUpdateRunning is returned by Trigger while a previous update is
// still being polled.
var ErrUpdateRunning = errors.New("update already in progress")

// Client is the slice of the backend client the poller needs.
type Client interface {
	TriggerUpdate(ctx context.Context) (*models.UpdateStarted, error)
	GetUpdateStatus(ctx context.Context) (*models.UpdateStatus, error)
}

// Poller triggers updates and tracks their progress. Construct with
// New and run Serve under a supervisor before calling Trigger.
type Poller struct {
	client Client
	cfg    config.UpdateConfig

	mu      sync.Mutex
	running bool
	status  models.UpdateStatus

	// wake signals the serve loop that a job was triggered. Buffer of
	// one so Trigger never blocks.
	wake chan struct{}

	// now is swappable for tests.
	now func() time.Time
}

// New creates an update poller.
func New(client Client, cfg config.UpdateConfig) *Poller {
	return &Poller{
		client: client,
		cfg:    cfg,
		status: models.UpdateStatus{Status: models.UpdateStatusIdle},
		wake:   make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Status returns the most recently observed update status.
func (p *Poller) Status() models.UpdateStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Running reports whether an update is currently being polled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) setStatus(s models.UpdateStatus) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// Trigger starts a backend data update. The job itself runs on the
// backend; the poller follows it until completion. Only one job is
// followed at a time.
func (p *Poller) Trigger(ctx context.Context) (*models.UpdateStarted, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrUpdateRunning
	}
	p.running = true
	p.mu.Unlock()

	started, err := p.client.TriggerUpdate(ctx)
	if err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return nil, fmt.Errorf("triggering update: %w", err)
	}

	p.setStatus(models.UpdateStatus{Status: models.UpdateStatusRunning})
	select {
	case p.wake <- struct{}{}:
	default:
	}
	logging.Info().Str("status", started.Status).Msg("backend data update triggered")
	return started, nil
}

// Serve implements suture.Service: it sleeps until an update is
// triggered, then polls the backend until the job ends.
func (p *Poller) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}
		p.follow(ctx)
	}
}

// String implements fmt.Stringer for supervisor logs.
func (p *Poller) String() string { return "update-poller" }

// follow polls one running job to completion, timeout or cancellation.
func (p *Poller) follow(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	deadline := p.now().Add(p.cfg.Timeout)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := p.client.GetUpdateStatus(ctx)
		if err != nil {
			metrics.UpdatePollsTotal.WithLabelValues("error").Inc()
			logging.Warn().Err(err).Msg("update status poll failed")
			// Transient poll failures keep the previous status; only
			// the deadline ends the watch.
			if p.now().After(deadline) {
				p.timeOut()
				return
			}
			continue
		}

		metrics.UpdatePollsTotal.WithLabelValues("success").Inc()
		p.setStatus(*status)

		if status.Terminal() {
			logging.Info().
				Str("status", status.Status).
				Int("domains_processed", status.DomainsProcessed).
				Int("domains_total", status.DomainsTotal).
				Strs("errors", status.Errors).
				Msg("backend data update finished")
			return
		}
		if p.now().After(deadline) {
			p.timeOut()
			return
		}
	}
}

func (p *Poller) timeOut() {
	metrics.UpdatePollsTotal.WithLabelValues("timeout").Inc()
	logging.Warn().Dur("timeout", p.cfg.Timeout).Msg("update polling timed out")
	p.setStatus(models.UpdateStatus{
		Status: models.UpdateStatusError,
		Errors: []string{fmt.Sprintf("update not finished after %s", p.cfg.Timeout)},
	})
}
