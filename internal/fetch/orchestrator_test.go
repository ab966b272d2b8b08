// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avkuzmin/serplens/internal/cache"
	"github.com/avkuzmin/serplens/internal/config"
	"github.com/avkuzmin/serplens/internal/models"
	"github.com/avkuzmin/serplens/internal/progress"
)

// mockClient implements gsc.ClientInterface with injectable behavior
// and thread-safe call counting.
type mockClient struct {
	mu    sync.Mutex
	calls map[string]int

	summaryDay   func(date string) (models.RecordList, error)
	summaryRange func(start, end string) (models.RecordList, error)
	domainDay    func(domain, date string) (models.RecordList, error)
	domainRange  func(domain, start, end string) (models.RecordList, error)
	countryDay   func(date string) (models.RecordList, error)
	countryRange func(start, end string) (models.RecordList, error)
}

func newMockClient() *mockClient {
	return &mockClient{calls: make(map[string]int)}
}

func (m *mockClient) count(key string) {
	m.mu.Lock()
	m.calls[key]++
	m.mu.Unlock()
}

func (m *mockClient) callCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

func (m *mockClient) CheckAuth(ctx context.Context) error { return nil }

func (m *mockClient) GetSummary(ctx context.Context, date string) (models.RecordList, error) {
	m.count("summary_day")
	if m.summaryDay == nil {
		return nil, nil
	}
	return m.summaryDay(date)
}

func (m *mockClient) GetSummaryRange(ctx context.Context, start, end string) (models.RecordList, error) {
	m.count("summary_range")
	if m.summaryRange == nil {
		return nil, nil
	}
	return m.summaryRange(start, end)
}

func (m *mockClient) GetDomainSummary(ctx context.Context, domain, date string) (models.RecordList, error) {
	m.count("domain_day")
	if m.domainDay == nil {
		return nil, nil
	}
	return m.domainDay(domain, date)
}

func (m *mockClient) GetDomainRangeSummary(ctx context.Context, domain, start, end string) (models.RecordList, error) {
	m.count("domain_range")
	if m.domainRange == nil {
		return nil, nil
	}
	return m.domainRange(domain, start, end)
}

func (m *mockClient) GetCountrySummary(ctx context.Context, date string) (models.RecordList, error) {
	m.count("country_day")
	if m.countryDay == nil {
		return nil, nil
	}
	return m.countryDay(date)
}

func (m *mockClient) GetCountryRangeSummary(ctx context.Context, start, end string) (models.RecordList, error) {
	m.count("country_range")
	if m.countryRange == nil {
		return nil, nil
	}
	return m.countryRange(start, end)
}

func (m *mockClient) GetLastDates(ctx context.Context, domain string) (*models.LastDates, error) {
	return &models.LastDates{Domain: domain}, nil
}

func (m *mockClient) GetAllDomainsLastDates(ctx context.Context) (map[string]string, error) {
	return nil, nil
}

func (m *mockClient) TriggerUpdate(ctx context.Context) (*models.UpdateStarted, error) {
	return &models.UpdateStarted{Status: "started"}, nil
}

func (m *mockClient) GetUpdateStatus(ctx context.Context) (*models.UpdateStatus, error) {
	return &models.UpdateStatus{Status: models.UpdateStatusIdle}, nil
}

func (m *mockClient) ClearServerCache(ctx context.Context) (*models.ClearCacheResult, error) {
	return &models.ClearCacheResult{Success: true}, nil
}

func dayRecord(date string) models.MetricRecord {
	return models.MetricRecord{Date: date, Clicks: 1, Impressions: 10}
}

func newOrchestrator(client *mockClient, cfg config.FetchConfig) *Orchestrator {
	return New(client, cache.New(time.Hour), cfg)
}

func assertSorted(t *testing.T, records models.RecordList) {
	t.Helper()
	for i := 1; i < len(records); i++ {
		if records[i].Date < records[i-1].Date {
			t.Fatalf("records out of order at %d: %s before %s", i, records[i-1].Date, records[i].Date)
		}
	}
}

func TestSummaryRangeBulkSuccess(t *testing.T) {
	client := newMockClient()
	client.summaryRange = func(start, end string) (models.RecordList, error) {
		// Deliberately unsorted to exercise the mandatory sort.
		return models.RecordList{dayRecord("2026-08-03"), dayRecord("2026-08-01"), dayRecord("2026-08-02")}, nil
	}

	o := newOrchestrator(client, config.FetchConfig{})
	records, err := o.SummaryRange(context.Background(), "2026-08-01", "2026-08-03", false, nil)
	if err != nil {
		t.Fatalf("SummaryRange failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	assertSorted(t, records)
	if client.callCount("summary_day") != 0 {
		t.Error("bulk success must not issue day requests")
	}
}

func TestSummaryRangeFallbackToBatches(t *testing.T) {
	client := newMockClient()
	client.summaryRange = func(start, end string) (models.RecordList, error) {
		return nil, errors.New("HTTP 500")
	}
	client.summaryDay = func(date string) (models.RecordList, error) {
		return models.RecordList{dayRecord(date)}, nil
	}

	var reports []progress.Report
	o := newOrchestrator(client, config.FetchConfig{SummaryBatchSize: 7})
	records, err := o.SummaryRange(context.Background(), "2026-08-01", "2026-08-14", false, func(r progress.Report) {
		reports = append(reports, r)
	})
	if err != nil {
		t.Fatalf("SummaryRange failed: %v", err)
	}

	// 14-day range with batch size 7: one bulk attempt, 14 day calls.
	if got := client.callCount("summary_range"); got != 1 {
		t.Errorf("bulk calls = %d, want 1", got)
	}
	if got := client.callCount("summary_day"); got != 14 {
		t.Errorf("day calls = %d, want 14", got)
	}
	if len(records) != 14 {
		t.Fatalf("got %d records, want 14", len(records))
	}
	assertSorted(t, records)

	// Progress: start at 10, one report per batch, 100 at completion.
	if len(reports) != 4 {
		t.Fatalf("got %d progress reports, want 4: %v", len(reports), reports)
	}
	if reports[0].Percent != 10 {
		t.Errorf("first report = %d%%, want 10", reports[0].Percent)
	}
	if reports[1].Percent != 50 {
		t.Errorf("after first batch = %d%%, want 50", reports[1].Percent)
	}
	if last := reports[len(reports)-1]; last.Percent != 100 || last.Remaining != 0 {
		t.Errorf("final report = %+v, want 100%% / 0 remaining", last)
	}
	for _, r := range reports {
		if r.Percent < 0 || r.Percent > 100 || r.Remaining < 0 {
			t.Errorf("unsanitized report %+v", r)
		}
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	client := newMockClient()
	client.summaryRange = func(start, end string) (models.RecordList, error) {
		return nil, errors.New("HTTP 500")
	}
	client.summaryDay = func(date string) (models.RecordList, error) {
		if date == "2026-08-03" {
			return nil, errors.New("day unavailable")
		}
		return models.RecordList{dayRecord(date)}, nil
	}

	o := newOrchestrator(client, config.FetchConfig{SummaryBatchSize: 15})
	records, err := o.SummaryRange(context.Background(), "2026-08-01", "2026-08-10", false, nil)
	if err != nil {
		t.Fatalf("partial failure must not surface an error: %v", err)
	}
	if len(records) != 9 {
		t.Fatalf("got %d records, want 9", len(records))
	}
	for _, r := range records {
		if r.Date == "2026-08-03" {
			t.Error("failed day must contribute no data")
		}
	}
}

func TestTotalFailureReturnsEmptyAndError(t *testing.T) {
	client := newMockClient()
	client.summaryRange = func(start, end string) (models.RecordList, error) {
		return nil, errors.New("HTTP 500")
	}
	client.summaryDay = func(date string) (models.RecordList, error) {
		return nil, errors.New("down")
	}

	o := newOrchestrator(client, config.FetchConfig{})
	records, err := o.SummaryRange(context.Background(), "2026-08-01", "2026-08-03", false, nil)
	if err == nil {
		t.Fatal("expected error when every unit fails and no cache exists")
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want empty", len(records))
	}
}

func TestTotalFailureNotCached(t *testing.T) {
	client := newMockClient()
	failing := true
	client.summaryRange = func(start, end string) (models.RecordList, error) {
		if failing {
			return nil, errors.New("HTTP 500")
		}
		return models.RecordList{dayRecord("2026-08-01")}, nil
	}
	client.summaryDay = func(date string) (models.RecordList, error) {
		return nil, errors.New("down")
	}

	o := newOrchestrator(client, config.FetchConfig{})
	if _, err := o.SummaryRange(context.Background(), "2026-08-01", "2026-08-01", false, nil); err == nil {
		t.Fatal("expected error on first attempt")
	}

	// Backend recovers: the next call must reach it instead of serving
	// a cached empty result.
	failing = false
	records, err := o.SummaryRange(context.Background(), "2026-08-01", "2026-08-01", false, nil)
	if err != nil {
		t.Fatalf("recovered fetch failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records after recovery, want 1", len(records))
	}
}

func TestRangeResultCached(t *testing.T) {
	client := newMockClient()
	client.summaryRange = func(start, end string) (models.RecordList, error) {
		return models.RecordList{dayRecord("2026-08-01")}, nil
	}

	o := newOrchestrator(client, config.FetchConfig{})
	for i := 0; i < 3; i++ {
		if _, err := o.SummaryRange(context.Background(), "2026-08-01", "2026-08-01", false, nil); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	if got := client.callCount("summary_range"); got != 1 {
		t.Errorf("bulk calls = %d, want 1 (cache must absorb repeats)", got)
	}
}

func TestForceRefreshBypassesCache(t *testing.T) {
	client := newMockClient()
	client.summaryRange = func(start, end string) (models.RecordList, error) {
		return models.RecordList{dayRecord("2026-08-01")}, nil
	}

	o := newOrchestrator(client, config.FetchConfig{})
	if _, err := o.SummaryRange(context.Background(), "2026-08-01", "2026-08-01", false, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := o.SummaryRange(context.Background(), "2026-08-01", "2026-08-01", true, nil); err != nil {
		t.Fatal(err)
	}
	if got := client.callCount("summary_range"); got != 2 {
		t.Errorf("bulk calls = %d, want 2 with forceRefresh", got)
	}
}

func TestCountryRangeMonthTier(t *testing.T) {
	client := newMockClient()
	var rangeCalls []string
	var mu sync.Mutex
	client.countryRange = func(start, end string) (models.RecordList, error) {
		mu.Lock()
		rangeCalls = append(rangeCalls, start+".."+end)
		mu.Unlock()
		// Full range fails, individual months succeed.
		if start == "2026-06-15" && end == "2026-07-10" {
			return nil, errors.New("HTTP 504")
		}
		return models.RecordList{dayRecord(start)}, nil
	}

	o := newOrchestrator(client, config.FetchConfig{})
	records, err := o.CountryRange(context.Background(), "2026-06-15", "2026-07-10", false, nil)
	if err != nil {
		t.Fatalf("CountryRange failed: %v", err)
	}

	want := []string{
		"2026-06-15..2026-07-10", // full bulk
		"2026-06-15..2026-06-30", // June, clipped
		"2026-07-01..2026-07-10", // July, clipped
	}
	if len(rangeCalls) != len(want) {
		t.Fatalf("range calls = %v, want %v", rangeCalls, want)
	}
	for i := range want {
		if rangeCalls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, rangeCalls[i], want[i])
		}
	}
	if got := client.callCount("country_day"); got != 0 {
		t.Errorf("day calls = %d, month tier success must not reach day tier", got)
	}
	assertSorted(t, records)
}

func TestCountryRangeMonthFailureFallsToDays(t *testing.T) {
	client := newMockClient()
	client.countryRange = func(start, end string) (models.RecordList, error) {
		// Full range and June fail; July succeeds at month granularity.
		if start == "2026-07-01" {
			return models.RecordList{dayRecord("2026-07-01")}, nil
		}
		return nil, errors.New("HTTP 504")
	}
	client.countryDay = func(date string) (models.RecordList, error) {
		return models.RecordList{dayRecord(date)}, nil
	}

	o := newOrchestrator(client, config.FetchConfig{CountryBatchSize: 7})
	records, err := o.CountryRange(context.Background(), "2026-06-25", "2026-07-05", false, nil)
	if err != nil {
		t.Fatalf("CountryRange failed: %v", err)
	}

	// June 25-30 fell to the day tier, July came back in one month call.
	if got := client.callCount("country_day"); got != 6 {
		t.Errorf("day calls = %d, want 6 (June 25-30 only)", got)
	}
	if len(records) != 7 {
		t.Errorf("got %d records, want 7", len(records))
	}
	assertSorted(t, records)
}

func TestDomainRangeUsesDomainEndpoints(t *testing.T) {
	client := newMockClient()
	client.domainRange = func(domain, start, end string) (models.RecordList, error) {
		if domain != "example.com" {
			t.Errorf("domain = %q", domain)
		}
		return nil, errors.New("HTTP 500")
	}
	client.domainDay = func(domain, date string) (models.RecordList, error) {
		if domain != "example.com" {
			t.Errorf("domain = %q", domain)
		}
		return models.RecordList{dayRecord(date)}, nil
	}

	o := newOrchestrator(client, config.FetchConfig{DomainBatchSize: 15})
	records, err := o.DomainRange(context.Background(), "example.com", "2026-08-01", "2026-08-05", false, nil)
	if err != nil {
		t.Fatalf("DomainRange failed: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}
	if got := client.callCount("domain_day"); got != 5 {
		t.Errorf("day calls = %d, want 5", got)
	}
}

func TestSingleDayCached(t *testing.T) {
	client := newMockClient()
	client.summaryDay = func(date string) (models.RecordList, error) {
		return models.RecordList{dayRecord(date)}, nil
	}

	o := newOrchestrator(client, config.FetchConfig{})
	for i := 0; i < 2; i++ {
		if _, err := o.SummaryDay(context.Background(), "2026-08-01", false); err != nil {
			t.Fatal(err)
		}
	}
	if got := client.callCount("summary_day"); got != 1 {
		t.Errorf("day calls = %d, want 1", got)
	}
}

func TestInvalidRangeRejected(t *testing.T) {
	client := newMockClient()
	client.summaryRange = func(start, end string) (models.RecordList, error) {
		return nil, errors.New("HTTP 500")
	}

	o := newOrchestrator(client, config.FetchConfig{})
	if _, err := o.SummaryRange(context.Background(), "2026-08-10", "2026-08-01", false, nil); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestDatesBetween(t *testing.T) {
	days, err := datesBetween("2026-02-27", "2026-03-02")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2026-02-27", "2026-02-28", "2026-03-01", "2026-03-02"}
	if len(days) != len(want) {
		t.Fatalf("days = %v, want %v", days, want)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Errorf("day %d = %q, want %q", i, days[i], want[i])
		}
	}
}

func TestMonthSpans(t *testing.T) {
	spans, err := monthSpans("2026-06-15", "2026-08-03")
	if err != nil {
		t.Fatal(err)
	}
	want := []monthSpan{
		{start: "2026-06-15", end: "2026-06-30", days: 16},
		{start: "2026-07-01", end: "2026-07-31", days: 31},
		{start: "2026-08-01", end: "2026-08-03", days: 3},
	}
	if len(spans) != len(want) {
		t.Fatalf("spans = %v, want %v", spans, want)
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Errorf("span %d = %+v, want %+v", i, spans[i], want[i])
		}
	}
}

func TestLookbackRange(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	start, end := LookbackRange(now, 3)
	if end != "2026-08-31" {
		t.Errorf("end = %q, want yesterday", end)
	}
	if start != "2026-05-31" {
		t.Errorf("start = %q, want 3 months before yesterday", start)
	}
}
