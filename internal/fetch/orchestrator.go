// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package fetch orchestrates upstream data retrieval for every metric
// resource: single-day and date-range fetches for the all-domains
// summary, per-domain series and per-country breakdowns.
//
// Each range fetch walks a fallback ladder. The bulk range endpoint is
// tried first; on failure the range is split into day batches (country
// ranges first try calendar-month bulk calls, then day batches for the
// months that fail). A failing single day contributes no data but never
// aborts the enclosing range. All results come back sorted ascending by
// date, and everything passes through the shared TTL cache: a fresh
// entry skips the network, an expired one feeds the stale fallback.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/avkuzmin/serplens/internal/cache"
	"github.com/avkuzmin/serplens/internal/config"
	"github.com/avkuzmin/serplens/internal/gsc"
	"github.com/avkuzmin/serplens/internal/logging"
	"github.com/avkuzmin/serplens/internal/metrics"
	"github.com/avkuzmin/serplens/internal/models"
	"github.com/avkuzmin/serplens/internal/progress"
)

// Resource names used in cache keys, metrics labels and logs.
const (
	ResourceSummary = "summary"
	ResourceDomain  = "domain"
	ResourceCountry = "country"
)

// initialRangePercent is reported as soon as a range fetch starts, so
// the status line moves before the first batch settles.
const initialRangePercent = 10

// Defaults applied when the batch configuration is zero-valued.
const (
	defaultSummaryBatchSize = 15
	defaultDomainBatchSize  = 15
	defaultCountryBatchSize = 7
)

// Orchestrator coordinates cached, fallback-aware fetching against the
// data backend. Construct with New; safe for concurrent use.
type Orchestrator struct {
	client  gsc.ClientInterface
	store   *cache.Store
	cfg     config.FetchConfig
	limiter *rate.Limiter
}

// New creates an orchestrator on top of a backend client and a cache
// store. Zero batch sizes are replaced with per-resource defaults; a
// zero rate disables request pacing.
func New(client gsc.ClientInterface, store *cache.Store, cfg config.FetchConfig) *Orchestrator {
	if cfg.SummaryBatchSize < 1 {
		cfg.SummaryBatchSize = defaultSummaryBatchSize
	}
	if cfg.DomainBatchSize < 1 {
		cfg.DomainBatchSize = defaultDomainBatchSize
	}
	if cfg.CountryBatchSize < 1 {
		cfg.CountryBatchSize = defaultCountryBatchSize
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Orchestrator{
		client:  client,
		store:   store,
		cfg:     cfg,
		limiter: limiter,
	}
}

// pace blocks until the rate limiter admits one more upstream request.
func (o *Orchestrator) pace(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	return o.limiter.Wait(ctx)
}

// SummaryDay fetches the all-domains summary for one date through the
// cache.
func (o *Orchestrator) SummaryDay(ctx context.Context, date string, force bool) (models.RecordList, error) {
	key := cache.Key("summary", date)
	return cache.GetOrFetch(o.store, key, force, func() (models.RecordList, error) {
		records, err := o.client.GetSummary(ctx, date)
		metrics.RecordFetch(ResourceSummary, "day", err)
		return records, err
	})
}

// DomainDay fetches one domain's metrics for one date through the cache.
func (o *Orchestrator) DomainDay(ctx context.Context, domain, date string, force bool) (models.RecordList, error) {
	key := cache.Key("domain_summary", domain, date)
	return cache.GetOrFetch(o.store, key, force, func() (models.RecordList, error) {
		records, err := o.client.GetDomainSummary(ctx, domain, date)
		metrics.RecordFetch(ResourceDomain, "day", err)
		return records, err
	})
}

// CountryDay fetches the per-country breakdown for one date through the
// cache.
func (o *Orchestrator) CountryDay(ctx context.Context, date string, force bool) (models.RecordList, error) {
	key := cache.Key("country_summary", date)
	return cache.GetOrFetch(o.store, key, force, func() (models.RecordList, error) {
		records, err := o.client.GetCountrySummary(ctx, date)
		metrics.RecordFetch(ResourceCountry, "day", err)
		return records, err
	})
}

// SummaryRange fetches the all-domains summary for an inclusive date
// range: bulk endpoint first, day batches on failure.
func (o *Orchestrator) SummaryRange(ctx context.Context, startDate, endDate string, force bool, onProgress progress.Func) (models.RecordList, error) {
	return o.fetchRange(ctx, rangeSpec{
		resource:  ResourceSummary,
		key:       cache.Key("summary_range", startDate, endDate),
		start:     startDate,
		end:       endDate,
		batchSize: o.cfg.SummaryBatchSize,
		bulk: func(ctx context.Context, start, end string) (models.RecordList, error) {
			return o.client.GetSummaryRange(ctx, start, end)
		},
		day: func(ctx context.Context, date string) (models.RecordList, error) {
			return o.SummaryDay(ctx, date, force)
		},
	}, force, onProgress)
}

// DomainRange fetches one domain's series for an inclusive date range:
// bulk endpoint first, day batches on failure.
func (o *Orchestrator) DomainRange(ctx context.Context, domain, startDate, endDate string, force bool, onProgress progress.Func) (models.RecordList, error) {
	return o.fetchRange(ctx, rangeSpec{
		resource:  ResourceDomain,
		key:       cache.Key("domain_range", domain, startDate, endDate),
		start:     startDate,
		end:       endDate,
		batchSize: o.cfg.DomainBatchSize,
		bulk: func(ctx context.Context, start, end string) (models.RecordList, error) {
			return o.client.GetDomainRangeSummary(ctx, domain, start, end)
		},
		day: func(ctx context.Context, date string) (models.RecordList, error) {
			return o.DomainDay(ctx, domain, date, force)
		},
	}, force, onProgress)
}

// CountryRange fetches the per-country breakdown for an inclusive date
// range. Country data is the heaviest query, so it gets the full
// ladder: bulk range, then one bulk call per calendar month, then day
// batches only for the months whose bulk call fails.
func (o *Orchestrator) CountryRange(ctx context.Context, startDate, endDate string, force bool, onProgress progress.Func) (models.RecordList, error) {
	return o.fetchRange(ctx, rangeSpec{
		resource:  ResourceCountry,
		key:       cache.Key("country_range", startDate, endDate),
		start:     startDate,
		end:       endDate,
		batchSize: o.cfg.CountryBatchSize,
		monthTier: true,
		bulk: func(ctx context.Context, start, end string) (models.RecordList, error) {
			return o.client.GetCountryRangeSummary(ctx, start, end)
		},
		day: func(ctx context.Context, date string) (models.RecordList, error) {
			return o.CountryDay(ctx, date, force)
		},
	}, force, onProgress)
}

// rangeSpec parametrizes one range fetch: which resource, which cache
// key, and how to reach the backend at bulk and single-day granularity.
type rangeSpec struct {
	resource  string
	key       string
	start     string
	end       string
	batchSize int
	// monthTier inserts the per-month bulk tier between the full-range
	// bulk call and day batches.
	monthTier bool
	bulk      func(ctx context.Context, start, end string) (models.RecordList, error)
	day       func(ctx context.Context, date string) (models.RecordList, error)
}

// fetchRange runs one cached range fetch. On total failure with no
// cache entry to fall back on, it returns an empty list together with
// the error; callers serving background work log it, callers serving
// an explicit refresh surface it.
func (o *Orchestrator) fetchRange(ctx context.Context, spec rangeSpec, force bool, onProgress progress.Func) (models.RecordList, error) {
	report := func(r progress.Report) {
		if onProgress != nil {
			onProgress(r)
		}
	}

	report(progress.Report{Percent: initialRangePercent})
	started := time.Now()

	records, err := cache.GetOrFetch(o.store, spec.key, force, func() (models.RecordList, error) {
		return o.executeRange(ctx, spec, report)
	})
	metrics.RecordFetchDuration(spec.resource, time.Since(started))

	if err != nil {
		metrics.FetchFallbacksTotal.WithLabelValues(spec.resource, "empty").Inc()
		logging.Warn().
			Str("resource", spec.resource).
			Str("start", spec.start).
			Str("end", spec.end).
			Err(err).
			Msg("range fetch failed with no cached fallback, returning empty result")
		return models.RecordList{}, err
	}

	report(progress.Report{Percent: 100, Remaining: 0})
	return records, nil
}

// executeRange walks the fallback ladder below the cache layer.
func (o *Orchestrator) executeRange(ctx context.Context, spec rangeSpec, report progress.Func) (models.RecordList, error) {
	records, bulkErr := spec.bulk(ctx, spec.start, spec.end)
	metrics.RecordFetch(spec.resource, "bulk", bulkErr)
	if bulkErr == nil {
		out := append(models.RecordList(nil), records...)
		models.SortByDate(out)
		return out, nil
	}

	logging.Warn().
		Str("resource", spec.resource).
		Str("start", spec.start).
		Str("end", spec.end).
		Err(bulkErr).
		Msg("bulk range fetch failed, entering fallback")

	days, err := datesBetween(spec.start, spec.end)
	if err != nil {
		return nil, err
	}

	tracker := progress.NewTracker()
	total := len(days)
	completed := 0
	succeeded := 0
	var out models.RecordList

	if spec.monthTier {
		metrics.FetchFallbacksTotal.WithLabelValues(spec.resource, "month_split").Inc()
		spans, err := monthSpans(spec.start, spec.end)
		if err != nil {
			return nil, err
		}
		for _, span := range spans {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			records, err := spec.bulk(ctx, span.start, span.end)
			metrics.RecordFetch(spec.resource, "month", err)
			if err == nil {
				out = append(out, records...)
				completed += span.days
				succeeded += span.days
				report(tracker.Report(completed, total))
				continue
			}

			logging.Warn().
				Str("resource", spec.resource).
				Str("month_start", span.start).
				Str("month_end", span.end).
				Err(err).
				Msg("month bulk fetch failed, falling back to day batches")
			metrics.FetchFallbacksTotal.WithLabelValues(spec.resource, "day_batch").Inc()

			monthDays, err := datesBetween(span.start, span.end)
			if err != nil {
				return nil, err
			}
			batchRecords, ok := o.dayBatches(ctx, spec, monthDays, tracker, &completed, total, report)
			out = append(out, batchRecords...)
			succeeded += ok
		}
	} else {
		metrics.FetchFallbacksTotal.WithLabelValues(spec.resource, "day_batch").Inc()
		batchRecords, ok := o.dayBatches(ctx, spec, days, tracker, &completed, total, report)
		out = append(out, batchRecords...)
		succeeded += ok
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// Nothing at all came back: report failure so the empty result is
	// not cached for a full TTL and recovery is not masked.
	if succeeded == 0 && total > 0 {
		return nil, fmt.Errorf("all fallback units failed for %s..%s: %w", spec.start, spec.end, bulkErr)
	}

	models.SortByDate(out)
	return out, nil
}

// dayBatches fetches days in fixed-size batches: concurrent within a
// batch, strictly sequential across batches. Returns the collected
// records and how many days succeeded.
func (o *Orchestrator) dayBatches(ctx context.Context, spec rangeSpec, days []string, tracker *progress.Tracker, completed *int, total int, report progress.Func) (models.RecordList, int) {
	var out models.RecordList
	succeeded := 0

	for batchStart := 0; batchStart < len(days); batchStart += spec.batchSize {
		if ctx.Err() != nil {
			return out, succeeded
		}

		batchEnd := batchStart + spec.batchSize
		if batchEnd > len(days) {
			batchEnd = len(days)
		}
		batch := days[batchStart:batchEnd]

		results := make([]models.RecordList, len(batch))
		errs := make([]error, len(batch))

		var wg sync.WaitGroup
		for i, date := range batch {
			wg.Add(1)
			go func(i int, date string) {
				defer wg.Done()
				if err := o.pace(ctx); err != nil {
					errs[i] = err
					return
				}
				results[i], errs[i] = spec.day(ctx, date)
			}(i, date)
		}
		wg.Wait()

		for i := range batch {
			if errs[i] != nil {
				metrics.FetchPartialFailures.WithLabelValues(spec.resource).Inc()
				logging.Warn().
					Str("resource", spec.resource).
					Str("date", batch[i]).
					Err(errs[i]).
					Msg("day fetch failed, contributing empty data")
				continue
			}
			out = append(out, results[i]...)
			succeeded++
		}

		*completed += len(batch)
		report(tracker.Report(*completed, total))
	}

	return out, succeeded
}
