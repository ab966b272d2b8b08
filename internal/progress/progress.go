// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package progress computes completion percentages and remaining-time
// estimates for long-running fetch operations.
//
// The estimator is deliberately paranoid about arithmetic edge cases:
// whatever the inputs, the output percent is a finite integer in
// [0,100] and the remaining duration is finite and non-negative. NaN
// and Infinity never escape this package.
package progress

import (
	"fmt"
	"math"
	"time"
)

// Report is one progress observation.
type Report struct {
	// Percent complete, always in [0,100].
	Percent int

	// Remaining is the estimated time to completion, never negative.
	Remaining time.Duration
}

// Func receives progress reports during a range fetch. Implementations
// must be fast; they are invoked synchronously between batches.
type Func func(Report)

// Estimate computes completion percent and remaining time from completed
// and total unit counts plus elapsed time.
//
// Percent is 0 when either count is non-positive, otherwise
// round(completed/total*100) capped at 100. Remaining extrapolates total
// duration linearly from elapsed/completed and is clamped to be finite
// and non-negative.
func Estimate(completed, total int, elapsed time.Duration) Report {
	if completed <= 0 || total <= 0 {
		return Report{Percent: 0, Remaining: 0}
	}

	percent := int(math.Round(float64(completed) / float64(total) * 100))
	if percent > 100 {
		percent = 100
	}

	estimatedTotal := float64(elapsed) / float64(completed) * float64(total)
	remaining := time.Duration(0)
	if math.IsInf(estimatedTotal, 0) || math.IsNaN(estimatedTotal) {
		estimatedTotal = 0
	}
	if r := time.Duration(estimatedTotal) - elapsed; r > 0 {
		remaining = r
	}

	return Report{Percent: percent, Remaining: remaining}
}

// Sanitize normalizes an externally produced report: non-finite or NaN
// percent inputs become 0, percent is clamped to [0,100] and negative
// remaining durations become 0.
func Sanitize(percent float64, remaining time.Duration) Report {
	p := 0
	if !math.IsNaN(percent) && !math.IsInf(percent, 0) {
		p = int(math.Round(percent))
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return Report{Percent: p, Remaining: remaining}
}

// Tracker ties the estimator to a wall-clock start time for one
// operation. The zero value is not usable; construct with NewTracker.
type Tracker struct {
	start time.Time
	// now is swappable for tests.
	now func() time.Time
}

// NewTracker starts tracking an operation beginning now.
func NewTracker() *Tracker {
	return &Tracker{start: time.Now(), now: time.Now}
}

// newTrackerAt is the test constructor with an injected clock.
func newTrackerAt(start time.Time, now func() time.Time) *Tracker {
	return &Tracker{start: start, now: now}
}

// Report estimates progress for completed of total units since the
// tracker started.
func (t *Tracker) Report(completed, total int) Report {
	return Estimate(completed, total, t.now().Sub(t.start))
}

// FormatRemaining renders a remaining-time estimate the way the
// dashboard status line shows it: seconds under a minute, minutes
// otherwise, empty when no estimate is available.
func FormatRemaining(remaining time.Duration) string {
	if remaining <= 0 {
		return ""
	}
	if remaining < time.Minute {
		return fmt.Sprintf("~%ds left", int(math.Ceil(remaining.Seconds())))
	}
	return fmt.Sprintf("~%dm left", int(math.Ceil(remaining.Minutes())))
}
