// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package aggregate derives dashboard views from raw metric records.
//
// All transforms are pure and stateless: they never mutate their input
// and always allocate fresh output. The central rule of this package is
// that CTR and average position are ratio metrics and must be
// aggregated as impression-weighted means; an arithmetic mean of
// per-record ratios is statistically wrong whenever impression counts
// vary between records.
//
// A bucket whose records carry zero impressions in total reports CTR
// and position of 0, never NaN. Callers treat a 0 position as "no
// data", not as rank zero.
package aggregate

import (
	"sort"

	"github.com/avkuzmin/serplens/internal/models"
)

// Metric identifies one of the four dashboard metrics.
type Metric string

const (
	MetricClicks      Metric = "traffic_clicks"
	MetricImpressions Metric = "impressions"
	MetricCTR         Metric = "ctr"
	MetricAvgPosition Metric = "avg_position"
)

// EntityKey selects the grouping dimension for GroupByEntity.
type EntityKey string

const (
	EntityDomain  EntityKey = "domain"
	EntityCountry EntityKey = "country"
)

// SeriesPoint is one aggregated bucket of an ordered-by-date series.
// GroupCount records how many raw rows contributed to the bucket.
type SeriesPoint struct {
	Date        string  `json:"date"`
	Clicks      int64   `json:"traffic_clicks"`
	Impressions int64   `json:"impressions"`
	CTR         float64 `json:"ctr"`
	AvgPosition float64 `json:"avg_position"`
	GroupCount  int     `json:"group_count"`
}

// Series is a date-ascending sequence of aggregated points. It is
// derived and transient: recomputed on demand, never cached.
type Series []SeriesPoint

// Totals is the aggregate for one entity (domain or country) over a
// whole range.
type Totals struct {
	Entity      string  `json:"entity"`
	Clicks      int64   `json:"traffic_clicks"`
	Impressions int64   `json:"impressions"`
	CTR         float64 `json:"ctr"`
	AvgPosition float64 `json:"avg_position"`
	GroupCount  int     `json:"group_count"`
}

// MetricValue returns the named metric from the totals.
func (t Totals) MetricValue(m Metric) float64 {
	switch m {
	case MetricClicks:
		return float64(t.Clicks)
	case MetricImpressions:
		return float64(t.Impressions)
	case MetricCTR:
		return t.CTR
	case MetricAvgPosition:
		return t.AvgPosition
	default:
		return 0
	}
}

// weightedAccum accumulates one bucket under the impression-weighted
// rule shared by all groupings.
type weightedAccum struct {
	clicks      int64
	impressions int64
	ctrWeighted float64
	posWeighted float64
	count       int
}

func (a *weightedAccum) add(r models.MetricRecord) {
	a.clicks += r.Clicks
	a.impressions += r.Impressions
	if r.Impressions > 0 {
		a.ctrWeighted += r.CTR * float64(r.Impressions)
		a.posWeighted += r.AvgPosition * float64(r.Impressions)
	}
	a.count++
}

// finalCTR and finalPosition divide out the weights, defaulting to 0
// for impression-less buckets.
func (a *weightedAccum) finalCTR() float64 {
	if a.impressions <= 0 {
		return 0
	}
	return a.ctrWeighted / float64(a.impressions)
}

func (a *weightedAccum) finalPosition() float64 {
	if a.impressions <= 0 {
		return 0
	}
	return a.posWeighted / float64(a.impressions)
}

// GroupByDate buckets records by calendar day, summing clicks and
// impressions and re-deriving CTR and position as impression-weighted
// means. The returned series is sorted ascending by date.
func GroupByDate(records []models.MetricRecord) Series {
	buckets := make(map[string]*weightedAccum)
	for _, r := range records {
		acc, ok := buckets[r.Date]
		if !ok {
			acc = &weightedAccum{}
			buckets[r.Date] = acc
		}
		acc.add(r)
	}

	series := make(Series, 0, len(buckets))
	for date, acc := range buckets {
		series = append(series, SeriesPoint{
			Date:        date,
			Clicks:      acc.clicks,
			Impressions: acc.impressions,
			CTR:         acc.finalCTR(),
			AvgPosition: acc.finalPosition(),
			GroupCount:  acc.count,
		})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date < series[j].Date })
	return series
}

// GroupByEntity buckets records by domain or country across the whole
// range, applying the same weighted-aggregation rule. Records with an
// empty entity value are skipped.
func GroupByEntity(records []models.MetricRecord, key EntityKey) map[string]Totals {
	buckets := make(map[string]*weightedAccum)
	for _, r := range records {
		var entity string
		switch key {
		case EntityCountry:
			entity = r.Country
		default:
			entity = r.Domain
		}
		if entity == "" {
			continue
		}
		acc, ok := buckets[entity]
		if !ok {
			acc = &weightedAccum{}
			buckets[entity] = acc
		}
		acc.add(r)
	}

	totals := make(map[string]Totals, len(buckets))
	for entity, acc := range buckets {
		totals[entity] = Totals{
			Entity:      entity,
			Clicks:      acc.clicks,
			Impressions: acc.impressions,
			CTR:         acc.finalCTR(),
			AvgPosition: acc.finalPosition(),
			GroupCount:  acc.count,
		}
	}
	return totals
}

// TopN ranks entities by the chosen metric and returns the best n.
//
// Ranking is descending for every metric except avg_position, which
// ranks ascending because a lower search rank is better. The inversion
// is a domain rule, not a bug. Ties break on entity name so output is
// deterministic.
func TopN(totals map[string]Totals, metric Metric, n int) []Totals {
	ranked := make([]Totals, 0, len(totals))
	for _, t := range totals {
		ranked = append(ranked, t)
	}

	ascending := metric == MetricAvgPosition
	sort.Slice(ranked, func(i, j int) bool {
		vi, vj := ranked[i].MetricValue(metric), ranked[j].MetricValue(metric)
		if vi == vj {
			return ranked[i].Entity < ranked[j].Entity
		}
		if ascending {
			return vi < vj
		}
		return vi > vj
	})

	if n < 0 {
		n = 0
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// Change compares one metric between the two halves of a range.
type Change struct {
	Current  float64 `json:"current"`
	Previous float64 `json:"previous"`
	Delta    float64 `json:"delta"`
	// Percent follows the dashboard display convention: for
	// avg_position the sign is inverted, so a falling position number
	// (an improvement) reports as positive.
	Percent float64 `json:"percent"`
}

// PeriodOverPeriod splits a date-ordered series into two equal halves
// and compares each metric between them. When the series has odd
// length the earliest point is dropped so both halves are equal.
// Clicks and impressions compare as sums; CTR and position compare as
// arithmetic means of the per-point values.
//
// A series shorter than two points yields all-zero changes.
func PeriodOverPeriod(series Series) map[Metric]Change {
	changes := map[Metric]Change{
		MetricClicks:      {},
		MetricImpressions: {},
		MetricCTR:         {},
		MetricAvgPosition: {},
	}
	if len(series) < 2 {
		return changes
	}

	trimmed := series
	if len(trimmed)%2 != 0 {
		trimmed = trimmed[1:]
	}
	half := len(trimmed) / 2
	first, second := trimmed[:half], trimmed[half:]

	for metric := range changes {
		previous := halfValue(first, metric)
		current := halfValue(second, metric)

		percent := 0.0
		switch {
		case previous != 0:
			percent = (current - previous) / previous * 100
		case current != 0:
			percent = 100
		}
		if metric == MetricAvgPosition {
			percent = -percent
		}

		changes[metric] = Change{
			Current:  current,
			Previous: previous,
			Delta:    current - previous,
			Percent:  percent,
		}
	}
	return changes
}

// halfValue is the sum for count metrics and the mean for ratio metrics
// over one half of a split series.
func halfValue(points Series, metric Metric) float64 {
	if len(points) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range points {
		switch metric {
		case MetricClicks:
			sum += float64(p.Clicks)
		case MetricImpressions:
			sum += float64(p.Impressions)
		case MetricCTR:
			sum += p.CTR
		case MetricAvgPosition:
			sum += p.AvgPosition
		}
	}
	if metric == MetricCTR || metric == MetricAvgPosition {
		return sum / float64(len(points))
	}
	return sum
}
