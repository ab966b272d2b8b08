// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package preload warms the cache at startup: one pass of concurrent
// range fetches covering the overall summary, the per-country
// breakdown and a set of per-domain series over the lookback window.
// The domain set is the configured priority list when one is set,
// otherwise the highest-click domains from the preloaded summary.
//
// Tasks are isolated: a failing range fetch is logged and counted but
// never aborts the other tasks or the pass itself. Progress from all
// tasks is merged into a single status stream that the dashboard
// consumes over websocket. When the pass finishes the cache is
// persisted so the next restart starts warm.
package preload

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avkuzmin/serplens/internal/aggregate"
	"github.com/avkuzmin/serplens/internal/cache"
	"github.com/avkuzmin/serplens/internal/config"
	"github.com/avkuzmin/serplens/internal/fetch"
	"github.com/avkuzmin/serplens/internal/logging"
	"github.com/avkuzmin/serplens/internal/metrics"
	"github.com/avkuzmin/serplens/internal/models"
	"github.com/avkuzmin/serplens/internal/progress"
)

// Phase values carried by Status.
const (
	PhaseIdle      = "idle"
	PhaseRunning   = "running"
	PhaseCompleted = "completed"
)

// Task names used in logs, metrics and status detail.
const (
	TaskSummary = "summary"
	TaskCountry = "country"
	TaskDomains = "domains"
)

// Status is one observation of the preload pass, broadcast to
// subscribers and served to the dashboard.
type Status struct {
	RunID   string `json:"run_id"`
	Phase   string `json:"phase"`
	Percent int    `json:"percent"`
	// Message is the human status line, e.g. "Preloading data... 40% ~25s left".
	Message string `json:"message"`
	// Failed lists tasks that errored; empty on a clean pass.
	Failed []string `json:"failed,omitempty"`
}

// StatusSink receives typed status broadcasts, normally the websocket
// hub.
type StatusSink interface {
	BroadcastJSON(messageType string, data interface{})
}

// Websocket message types emitted by the coordinator.
const (
	MessageTypeProgress  = "preload_progress"
	MessageTypeCompleted = "preload_completed"
)

// RangeFetcher is the slice of the fetch orchestrator the coordinator
// needs.
type RangeFetcher interface {
	SummaryRange(ctx context.Context, startDate, endDate string, force bool, onProgress progress.Func) (models.RecordList, error)
	DomainRange(ctx context.Context, domain, startDate, endDate string, force bool, onProgress progress.Func) (models.RecordList, error)
	CountryRange(ctx context.Context, startDate, endDate string, force bool, onProgress progress.Func) (models.RecordList, error)
}

// Coordinator runs the bulk preload pass. Construct with New; Run may
// be called at most once per coordinator.
type Coordinator struct {
	orchestrator RangeFetcher
	store        *cache.Store
	cfg          config.PreloadConfig
	sink         StatusSink

	mu     sync.Mutex
	status Status

	// now is swappable for tests.
	now func() time.Time
}

// New creates a preload coordinator. sink may be nil; status is then
// only logged and kept for polling.
func New(orchestrator RangeFetcher, store *cache.Store, cfg config.PreloadConfig, sink StatusSink) *Coordinator {
	return &Coordinator{
		orchestrator: orchestrator,
		store:        store,
		cfg:          cfg,
		sink:         sink,
		status:       Status{Phase: PhaseIdle},
		now:          time.Now,
	}
}

// Status returns the most recent status observation.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) publish(s Status, messageType string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.BroadcastJSON(messageType, s)
	}
}

// taskProgress tracks merged completion across preload tasks. Each
// task contributes its own 0-100 percent; the overall percent is the
// mean, so one slow task cannot report the pass as done.
type taskProgress struct {
	mu       sync.Mutex
	percents map[string]int
	started  time.Time
	now      func() time.Time
}

func newTaskProgress(tasks []string, started time.Time, now func() time.Time) *taskProgress {
	percents := make(map[string]int, len(tasks))
	for _, t := range tasks {
		percents[t] = 0
	}
	return &taskProgress{percents: percents, started: started, now: now}
}

// update records one task's percent and returns the merged report.
func (p *taskProgress) update(task string, percent int) progress.Report {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.percents[task]; ok {
		p.percents[task] = percent
	}
	sum := 0
	for _, v := range p.percents {
		sum += v
	}
	overall := sum / len(p.percents)

	elapsed := p.now().Sub(p.started)
	return progress.Estimate(overall, 100, elapsed)
}

// Run executes one preload pass. The returned error is nil unless the
// pass was canceled; individual task failures are absorbed.
func (c *Coordinator) Run(ctx context.Context) error {
	runID := uuid.NewString()
	started := c.now()
	startDate, endDate := fetch.LookbackRange(started, c.cfg.LookbackMonths)

	log := logging.With().
		Str("run_id", runID).
		Str("start_date", startDate).
		Str("end_date", endDate).
		Logger()
	log.Info().Int("top_domains", c.cfg.TopDomains).Msg("starting bulk preload")

	tracker := newTaskProgress([]string{TaskSummary, TaskCountry, TaskDomains}, started, c.now)
	c.publish(Status{
		RunID:   runID,
		Phase:   PhaseRunning,
		Percent: 0,
		Message: "Preloading data... 0%",
	}, MessageTypeProgress)

	report := func(task string) progress.Func {
		return func(r progress.Report) {
			merged := tracker.update(task, r.Percent)
			msg := fmt.Sprintf("Preloading data... %d%%", merged.Percent)
			if rem := progress.FormatRemaining(merged.Remaining); rem != "" {
				msg += " " + rem
			}
			c.publish(Status{
				RunID:   runID,
				Phase:   PhaseRunning,
				Percent: merged.Percent,
				Message: msg,
			}, MessageTypeProgress)
		}
	}

	var (
		failedMu sync.Mutex
		failed   []string
	)
	fail := func(task string, err error) {
		metrics.PreloadTasksTotal.WithLabelValues(task, "error").Inc()
		log.Warn().Str("task", task).Err(err).Msg("preload task failed, continuing")
		failedMu.Lock()
		failed = append(failed, task)
		failedMu.Unlock()
	}
	succeed := func(task string) {
		metrics.PreloadTasksTotal.WithLabelValues(task, "success").Inc()
	}

	var wg sync.WaitGroup
	var summary models.RecordList

	priority := c.cfg.PriorityDomains

	wg.Add(1)
	go func() {
		defer wg.Done()
		records, err := c.orchestrator.SummaryRange(ctx, startDate, endDate, false, report(TaskSummary))
		if err != nil {
			fail(TaskSummary, err)
			return
		}
		summary = records
		succeed(TaskSummary)

		// Without a configured priority list the domain preloads are
		// derived from the summary: the domains with the most clicks
		// over the window.
		if len(priority) == 0 {
			c.preloadTopDomains(ctx, summary, startDate, endDate, report(TaskDomains), fail, succeed)
		}
	}()

	// A configured priority list does not wait on the summary.
	if len(priority) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.preloadDomains(ctx, priority, startDate, endDate, report(TaskDomains), fail, succeed)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := c.orchestrator.CountryRange(ctx, startDate, endDate, false, report(TaskCountry)); err != nil {
			fail(TaskCountry, err)
			return
		}
		succeed(TaskCountry)
	}()

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := c.store.Persist(); err != nil {
		log.Warn().Err(err).Msg("cache persist after preload failed")
	}

	elapsed := c.now().Sub(started)
	metrics.PreloadDuration.Observe(elapsed.Seconds())

	sort.Strings(failed)
	c.publish(Status{
		RunID:   runID,
		Phase:   PhaseCompleted,
		Percent: 100,
		Message: fmt.Sprintf("Preload completed in %s", elapsed.Round(time.Second)),
		Failed:  failed,
	}, MessageTypeCompleted)

	log.Info().
		Dur("elapsed", elapsed).
		Int("cache_entries", c.store.Len()).
		Strs("failed_tasks", failed).
		Msg("bulk preload finished")
	return nil
}

// preloadTopDomains ranks domains by clicks over the preloaded summary
// and fetches each of the top entries' range series.
func (c *Coordinator) preloadTopDomains(ctx context.Context, summary models.RecordList, startDate, endDate string, onProgress progress.Func, fail func(string, error), succeed func(string)) {
	n := c.cfg.TopDomains
	if n <= 0 || len(summary) == 0 {
		onProgress(progress.Report{Percent: 100})
		succeed(TaskDomains)
		return
	}

	totals := aggregate.GroupByEntity(summary, aggregate.EntityDomain)
	top := aggregate.TopN(totals, aggregate.MetricClicks, n)
	domains := make([]string, 0, len(top))
	for _, t := range top {
		domains = append(domains, t.Entity)
	}
	c.preloadDomains(ctx, domains, startDate, endDate, onProgress, fail, succeed)
}

// preloadDomains fetches each listed domain's range series
// concurrently, failing the task only if every domain fails.
func (c *Coordinator) preloadDomains(ctx context.Context, domains []string, startDate, endDate string, onProgress progress.Func, fail func(string, error), succeed func(string)) {
	if len(domains) == 0 {
		onProgress(progress.Report{Percent: 100})
		succeed(TaskDomains)
		return
	}

	var wg sync.WaitGroup
	var doneMu sync.Mutex
	done := 0
	errCount := 0
	var firstErr error

	for _, d := range domains {
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			_, err := c.orchestrator.DomainRange(ctx, domain, startDate, endDate, false, nil)

			doneMu.Lock()
			done++
			if err != nil {
				errCount++
				if firstErr == nil {
					firstErr = fmt.Errorf("domain %s: %w", domain, err)
				}
			}
			percent := done * 100 / len(domains)
			doneMu.Unlock()

			if err != nil {
				logging.Warn().Str("domain", domain).Err(err).Msg("domain preload failed, continuing")
			}
			onProgress(progress.Report{Percent: percent})
		}(d)
	}
	wg.Wait()

	if errCount == len(domains) {
		fail(TaskDomains, firstErr)
		return
	}
	succeed(TaskDomains)
}
