// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package gsc

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/avkuzmin/serplens/internal/config"
	"github.com/avkuzmin/serplens/internal/logging"
	"github.com/avkuzmin/serplens/internal/metrics"
	"github.com/avkuzmin/serplens/internal/models"
)

const (
	// breakerInterval resets the failure counts while closed.
	breakerInterval = time.Minute
	// breakerTimeout is how long the circuit stays open before probing.
	breakerTimeout = 2 * time.Minute
)

// CircuitBreakerClient wraps Client with a circuit breaker so a dead or
// struggling backend stops receiving traffic instead of pinning every
// dashboard request on a timeout.
//
// The breaker uses real time for its interval and timeout windows.
// Tests mock the underlying client rather than the breaker.
type CircuitBreakerClient struct {
	client ClientInterface
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewCircuitBreakerClient creates a backend client with circuit breaker
// protection. The circuit opens after a 60% failure rate over at least
// 10 requests, stays open for two minutes, then allows 3 probes in
// half-open state.
func NewCircuitBreakerClient(cfg *config.APIConfig) *CircuitBreakerClient {
	return WrapWithCircuitBreaker(NewClient(cfg))
}

// WrapWithCircuitBreaker wraps an existing client implementation. Split
// out from NewCircuitBreakerClient so tests can wrap mocks.
func WrapWithCircuitBreaker(client ClientInterface) *CircuitBreakerClient {
	cbName := "gsc-backend"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &CircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// execute runs one backend call through the circuit breaker and keeps
// the outcome metrics current.
func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(fn)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	return result, nil
}

// castResult safely type-casts the circuit breaker result.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CheckAuth verifies backend connectivity with circuit breaker protection.
func (cbc *CircuitBreakerClient) CheckAuth(ctx context.Context) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.client.CheckAuth(ctx)
	})
	return err
}

// GetSummary retrieves the all-domains summary with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetSummary(ctx context.Context, date string) (models.RecordList, error) {
	return castResult[models.RecordList](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetSummary(ctx, date)
	}))
}

// GetSummaryRange retrieves a summary range with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetSummaryRange(ctx context.Context, startDate, endDate string) (models.RecordList, error) {
	return castResult[models.RecordList](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetSummaryRange(ctx, startDate, endDate)
	}))
}

// GetDomainSummary retrieves one domain's metrics with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetDomainSummary(ctx context.Context, domain, date string) (models.RecordList, error) {
	return castResult[models.RecordList](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetDomainSummary(ctx, domain, date)
	}))
}

// GetDomainRangeSummary retrieves one domain's range with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetDomainRangeSummary(ctx context.Context, domain, startDate, endDate string) (models.RecordList, error) {
	return castResult[models.RecordList](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetDomainRangeSummary(ctx, domain, startDate, endDate)
	}))
}

// GetCountrySummary retrieves per-country metrics with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetCountrySummary(ctx context.Context, date string) (models.RecordList, error) {
	return castResult[models.RecordList](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetCountrySummary(ctx, date)
	}))
}

// GetCountryRangeSummary retrieves a per-country range with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetCountryRangeSummary(ctx context.Context, startDate, endDate string) (models.RecordList, error) {
	return castResult[models.RecordList](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetCountryRangeSummary(ctx, startDate, endDate)
	}))
}

// GetLastDates retrieves one domain's last data date with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetLastDates(ctx context.Context, domain string) (*models.LastDates, error) {
	return castResult[*models.LastDates](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetLastDates(ctx, domain)
	}))
}

// GetAllDomainsLastDates retrieves all last data dates with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetAllDomainsLastDates(ctx context.Context) (map[string]string, error) {
	return castResult[map[string]string](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetAllDomainsLastDates(ctx)
	}))
}

// TriggerUpdate starts a server-side refresh with circuit breaker protection.
func (cbc *CircuitBreakerClient) TriggerUpdate(ctx context.Context) (*models.UpdateStarted, error) {
	return castResult[*models.UpdateStarted](cbc.execute(func() (interface{}, error) {
		return cbc.client.TriggerUpdate(ctx)
	}))
}

// GetUpdateStatus reads refresh progress with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetUpdateStatus(ctx context.Context) (*models.UpdateStatus, error) {
	return castResult[*models.UpdateStatus](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetUpdateStatus(ctx)
	}))
}

// ClearServerCache drops the backend cache with circuit breaker protection.
func (cbc *CircuitBreakerClient) ClearServerCache(ctx context.Context) (*models.ClearCacheResult, error) {
	return castResult[*models.ClearCacheResult](cbc.execute(func() (interface{}, error) {
		return cbc.client.ClearServerCache(ctx)
	}))
}
