// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package aggregate

import (
	"math"
	"testing"

	"github.com/avkuzmin/serplens/internal/models"
)

const epsilon = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestGroupByDateWeightedCTR(t *testing.T) {
	// 100 impressions at 0.1 plus 300 at 0.5 must aggregate to 0.4,
	// not the arithmetic mean 0.3.
	records := []models.MetricRecord{
		{Date: "2026-08-01", Domain: "a.com", Impressions: 100, CTR: 0.1, Clicks: 10, AvgPosition: 5},
		{Date: "2026-08-01", Domain: "b.com", Impressions: 300, CTR: 0.5, Clicks: 150, AvgPosition: 15},
	}

	series := GroupByDate(records)
	if len(series) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(series))
	}
	p := series[0]
	if !almostEqual(p.CTR, 0.4) {
		t.Errorf("CTR = %v, want 0.4", p.CTR)
	}
	// Position: (5*100 + 15*300) / 400 = 12.5
	if !almostEqual(p.AvgPosition, 12.5) {
		t.Errorf("AvgPosition = %v, want 12.5", p.AvgPosition)
	}
	if p.Clicks != 160 || p.Impressions != 400 {
		t.Errorf("sums wrong: clicks=%d impressions=%d", p.Clicks, p.Impressions)
	}
	if p.GroupCount != 2 {
		t.Errorf("GroupCount = %d, want 2", p.GroupCount)
	}
}

func TestGroupByDateZeroImpressions(t *testing.T) {
	records := []models.MetricRecord{
		{Date: "2026-08-01", Domain: "a.com", Impressions: 0, CTR: 0.5, AvgPosition: 3},
		{Date: "2026-08-01", Domain: "b.com", Impressions: 0, CTR: 0.2, AvgPosition: 9},
	}

	series := GroupByDate(records)
	p := series[0]
	if p.CTR != 0 {
		t.Errorf("CTR = %v, want 0 for zero-impression bucket", p.CTR)
	}
	if p.AvgPosition != 0 {
		t.Errorf("AvgPosition = %v, want 0 for zero-impression bucket", p.AvgPosition)
	}
	if math.IsNaN(p.CTR) || math.IsNaN(p.AvgPosition) {
		t.Error("NaN escaped aggregation")
	}
}

func TestGroupByDateSortedAscending(t *testing.T) {
	records := []models.MetricRecord{
		{Date: "2026-08-03", Impressions: 10, Domain: "a.com"},
		{Date: "2026-08-01", Impressions: 10, Domain: "a.com"},
		{Date: "2026-08-02", Impressions: 10, Domain: "a.com"},
	}

	series := GroupByDate(records)
	want := []string{"2026-08-01", "2026-08-02", "2026-08-03"}
	for i, w := range want {
		if series[i].Date != w {
			t.Fatalf("position %d: got %s, want %s", i, series[i].Date, w)
		}
	}
}

func TestGroupByDateDoesNotMutateInput(t *testing.T) {
	records := []models.MetricRecord{
		{Date: "2026-08-02", Impressions: 10, CTR: 0.1},
		{Date: "2026-08-01", Impressions: 20, CTR: 0.2},
	}
	GroupByDate(records)
	if records[0].Date != "2026-08-02" || records[1].Date != "2026-08-01" {
		t.Error("input slice order changed")
	}
}

func TestGroupByEntity(t *testing.T) {
	records := []models.MetricRecord{
		{Date: "2026-08-01", Country: "EE", Clicks: 5, Impressions: 100, CTR: 0.05, AvgPosition: 4},
		{Date: "2026-08-02", Country: "EE", Clicks: 15, Impressions: 300, CTR: 0.05, AvgPosition: 8},
		{Date: "2026-08-01", Country: "DE", Clicks: 1, Impressions: 50, CTR: 0.02, AvgPosition: 20},
		{Date: "2026-08-01", Country: ""},
	}

	totals := GroupByEntity(records, EntityCountry)
	if len(totals) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(totals))
	}

	ee := totals["EE"]
	if ee.Clicks != 20 || ee.Impressions != 400 {
		t.Errorf("EE sums wrong: %+v", ee)
	}
	// Position: (4*100 + 8*300)/400 = 7
	if !almostEqual(ee.AvgPosition, 7) {
		t.Errorf("EE AvgPosition = %v, want 7", ee.AvgPosition)
	}
	if ee.GroupCount != 2 {
		t.Errorf("EE GroupCount = %d, want 2", ee.GroupCount)
	}
}

func TestTopNDescendingForClicks(t *testing.T) {
	totals := map[string]Totals{
		"a.com": {Entity: "a.com", Clicks: 10},
		"b.com": {Entity: "b.com", Clicks: 40},
		"c.com": {Entity: "c.com", Clicks: 30},
		"d.com": {Entity: "d.com", Clicks: 20},
	}

	top := TopN(totals, MetricClicks, 3)
	want := []string{"b.com", "c.com", "d.com"}
	for i, w := range want {
		if top[i].Entity != w {
			t.Fatalf("rank %d: got %s, want %s", i, top[i].Entity, w)
		}
	}
}

func TestTopNAscendingForPosition(t *testing.T) {
	// Lower position is better: the inversion is deliberate.
	totals := map[string]Totals{
		"a.com": {Entity: "a.com", AvgPosition: 12.0},
		"b.com": {Entity: "b.com", AvgPosition: 3.5},
		"c.com": {Entity: "c.com", AvgPosition: 7.1},
		"d.com": {Entity: "d.com", AvgPosition: 25.0},
	}

	top := TopN(totals, MetricAvgPosition, 3)
	want := []string{"b.com", "c.com", "a.com"}
	for i, w := range want {
		if top[i].Entity != w {
			t.Fatalf("rank %d: got %s, want %s", i, top[i].Entity, w)
		}
	}
}

func TestTopNBounds(t *testing.T) {
	totals := map[string]Totals{
		"a.com": {Entity: "a.com", Clicks: 1},
		"b.com": {Entity: "b.com", Clicks: 2},
	}

	if got := TopN(totals, MetricClicks, 10); len(got) != 2 {
		t.Errorf("n beyond size: got %d entries, want 2", len(got))
	}
	if got := TopN(totals, MetricClicks, 0); len(got) != 0 {
		t.Errorf("n=0: got %d entries, want 0", len(got))
	}
	if got := TopN(totals, MetricClicks, -1); len(got) != 0 {
		t.Errorf("negative n: got %d entries, want 0", len(got))
	}
	if got := TopN(nil, MetricClicks, 3); len(got) != 0 {
		t.Errorf("nil totals: got %d entries, want 0", len(got))
	}
}

func TestPeriodOverPeriodSums(t *testing.T) {
	series := Series{
		{Date: "2026-08-01", Clicks: 10, Impressions: 100},
		{Date: "2026-08-02", Clicks: 20, Impressions: 200},
		{Date: "2026-08-03", Clicks: 30, Impressions: 300},
		{Date: "2026-08-04", Clicks: 30, Impressions: 300},
	}

	changes := PeriodOverPeriod(series)
	clicks := changes[MetricClicks]
	if clicks.Previous != 30 || clicks.Current != 60 {
		t.Errorf("clicks halves wrong: %+v", clicks)
	}
	if !almostEqual(clicks.Percent, 100) {
		t.Errorf("clicks percent = %v, want 100", clicks.Percent)
	}
}

func TestPeriodOverPeriodOddLengthDropsEarliest(t *testing.T) {
	series := Series{
		{Date: "2026-08-01", Clicks: 999}, // dropped
		{Date: "2026-08-02", Clicks: 10},
		{Date: "2026-08-03", Clicks: 10},
		{Date: "2026-08-04", Clicks: 20},
		{Date: "2026-08-05", Clicks: 20},
	}

	changes := PeriodOverPeriod(series)
	clicks := changes[MetricClicks]
	if clicks.Previous != 20 || clicks.Current != 40 {
		t.Errorf("odd-length split wrong: %+v", clicks)
	}
}

func TestPeriodOverPeriodPositionSignInversion(t *testing.T) {
	// Position improving from 10.0 to 8.0 is a 20% numeric decrease
	// that must display as +20%.
	series := Series{
		{Date: "2026-08-01", AvgPosition: 10.0},
		{Date: "2026-08-02", AvgPosition: 8.0},
	}

	changes := PeriodOverPeriod(series)
	pos := changes[MetricAvgPosition]
	if !almostEqual(pos.Percent, 20) {
		t.Errorf("position percent = %v, want +20", pos.Percent)
	}
	if !almostEqual(pos.Current, 8.0) || !almostEqual(pos.Previous, 10.0) {
		t.Errorf("position halves wrong: %+v", pos)
	}
}

func TestPeriodOverPeriodZeroPrevious(t *testing.T) {
	series := Series{
		{Date: "2026-08-01", Clicks: 0},
		{Date: "2026-08-02", Clicks: 50},
	}
	changes := PeriodOverPeriod(series)
	if got := changes[MetricClicks].Percent; !almostEqual(got, 100) {
		t.Errorf("zero->nonzero percent = %v, want 100", got)
	}

	flat := Series{
		{Date: "2026-08-01", Clicks: 0},
		{Date: "2026-08-02", Clicks: 0},
	}
	changes = PeriodOverPeriod(flat)
	if got := changes[MetricClicks].Percent; got != 0 {
		t.Errorf("zero->zero percent = %v, want 0", got)
	}
}

func TestPeriodOverPeriodShortSeries(t *testing.T) {
	for _, series := range []Series{nil, {}, {{Date: "2026-08-01", Clicks: 5}}} {
		changes := PeriodOverPeriod(series)
		for metric, c := range changes {
			if c.Percent != 0 || c.Current != 0 || c.Previous != 0 {
				t.Errorf("short series len %d: %s = %+v, want zeros", len(series), metric, c)
			}
		}
	}
}

func TestPeriodOverPeriodCTRUsesMean(t *testing.T) {
	series := Series{
		{Date: "2026-08-01", CTR: 0.10},
		{Date: "2026-08-02", CTR: 0.20},
		{Date: "2026-08-03", CTR: 0.20},
		{Date: "2026-08-04", CTR: 0.40},
	}

	changes := PeriodOverPeriod(series)
	ctr := changes[MetricCTR]
	if !almostEqual(ctr.Previous, 0.15) || !almostEqual(ctr.Current, 0.30) {
		t.Errorf("ctr halves wrong: %+v", ctr)
	}
	if !almostEqual(ctr.Percent, 100) {
		t.Errorf("ctr percent = %v, want 100", ctr.Percent)
	}
}
