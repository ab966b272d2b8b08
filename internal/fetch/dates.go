// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package fetch

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar days throughout the API.
const DateLayout = "2006-01-02"

// datesBetween expands an inclusive date range into individual days.
func datesBetween(startDate, endDate string) ([]string, error) {
	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s before start date %s", endDate, startDate)
	}

	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateLayout))
	}
	return days, nil
}

// monthSpan is one calendar month clipped to the requested range.
type monthSpan struct {
	start string
	end   string
	days  int
}

// monthSpans splits an inclusive date range along calendar month
// boundaries. The first and last spans are clipped to the range.
func monthSpans(startDate, endDate string) ([]monthSpan, error) {
	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s before start date %s", endDate, startDate)
	}

	var spans []monthSpan
	for cur := start; !cur.After(end); {
		monthEnd := time.Date(cur.Year(), cur.Month(), 1, 0, 0, 0, 0, time.UTC).
			AddDate(0, 1, -1)
		if monthEnd.After(end) {
			monthEnd = end
		}
		spans = append(spans, monthSpan{
			start: cur.Format(DateLayout),
			end:   monthEnd.Format(DateLayout),
			days:  int(monthEnd.Sub(cur).Hours()/24) + 1,
		})
		cur = monthEnd.AddDate(0, 0, 1)
	}
	return spans, nil
}

// LookbackRange returns the default preload window: months calendar
// months back, ending yesterday. Yesterday rather than today because
// the upstream data lags at least a day.
func LookbackRange(now time.Time, months int) (startDate, endDate string) {
	yesterday := now.AddDate(0, 0, -1)
	start := yesterday.AddDate(0, -months, 0)
	return start.Format(DateLayout), yesterday.Format(DateLayout)
}
