// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/avkuzmin/serplens/internal/models"
)

func TestKey(t *testing.T) {
	tests := []struct {
		resource string
		params   []string
		want     string
	}{
		{"summary", []string{"2026-08-01"}, "summary:2026-08-01"},
		{"summary_range", []string{"2026-05-01", "2026-08-01"}, "summary_range:2026-05-01:2026-08-01"},
		{"domain_range", []string{"example.com", "2026-05-01", "2026-08-01"}, "domain_range:example.com:2026-05-01:2026-08-01"},
		{"all_last_dates", nil, "all_last_dates"},
	}
	for _, tt := range tests {
		if got := Key(tt.resource, tt.params...); got != tt.want {
			t.Errorf("Key(%q, %v) = %q, want %q", tt.resource, tt.params, got, tt.want)
		}
	}
}

func TestGetOrFetchHitIdempotence(t *testing.T) {
	s := New(time.Hour)
	calls := 0
	fetch := func() ([]models.MetricRecord, error) {
		calls++
		return []models.MetricRecord{{Date: "2026-08-01", Clicks: 5}}, nil
	}

	first, err := GetOrFetch(s, "k", false, fetch)
	if err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	second, err := GetOrFetch(s, "k", false, fetch)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}
	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Errorf("calls returned different data: %v vs %v", first, second)
	}
}

func TestGetOrFetchTTLExpiry(t *testing.T) {
	s := New(time.Hour)
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	calls := 0
	fetch := func() (string, error) {
		calls++
		return "fresh", nil
	}

	if _, err := GetOrFetch(s, "k", false, fetch); err != nil {
		t.Fatal(err)
	}
	// Within TTL: no refetch.
	current = current.Add(30 * time.Minute)
	if _, err := GetOrFetch(s, "k", false, fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("fetch called %d times within TTL, want 1", calls)
	}

	// Past TTL: refetch even though the entry still exists.
	current = current.Add(time.Hour)
	if _, err := GetOrFetch(s, "k", false, fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("fetch called %d times after expiry, want 2", calls)
	}
}

func TestGetOrFetchStaleFallback(t *testing.T) {
	s := New(time.Hour)
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	fetch := func() ([]models.MetricRecord, error) {
		return []models.MetricRecord{{Date: "2026-08-01", Clicks: 42}}, nil
	}
	if _, err := GetOrFetch(s, "k", false, fetch); err != nil {
		t.Fatal(err)
	}

	// Expire the entry, then fail the refetch: the stale data must come
	// back without an error.
	current = current.Add(2 * time.Hour)
	failing := func() ([]models.MetricRecord, error) {
		return nil, errors.New("upstream down")
	}

	got, err := GetOrFetch(s, "k", false, failing)
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if len(got) != 1 || got[0].Clicks != 42 {
		t.Errorf("stale data wrong: %v", got)
	}

	stats := s.GetStats()
	if stats.StaleServed != 1 {
		t.Errorf("StaleServed = %d, want 1", stats.StaleServed)
	}
}

func TestGetOrFetchColdFailure(t *testing.T) {
	s := New(time.Hour)
	wantErr := errors.New("upstream down")
	got, err := GetOrFetch(s, "missing", false, func() ([]models.MetricRecord, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected fetch error, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestGetOrFetchForceRefresh(t *testing.T) {
	s := New(time.Hour)
	calls := 0
	fetch := func() (int, error) {
		calls++
		return calls, nil
	}

	if _, err := GetOrFetch(s, "k", false, fetch); err != nil {
		t.Fatal(err)
	}
	got, err := GetOrFetch(s, "k", true, fetch)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("fetch called %d times with forceRefresh, want 2", calls)
	}
	if got != 2 {
		t.Errorf("forceRefresh returned cached value %d, want 2", got)
	}
}

func TestClear(t *testing.T) {
	s := New(time.Hour)
	s.Put("a", 1)
	s.Put("b", 2)
	s.Put("c", 3)

	s.Clear("b")
	if _, ok, _ := s.Get("b"); ok {
		t.Error("expected b to be cleared")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len after full clear = %d, want 0", s.Len())
	}
}

func TestInfo(t *testing.T) {
	s := New(time.Hour)
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	s.Put("k", []models.MetricRecord{{Date: "2026-08-01"}})
	current = current.Add(10 * time.Minute)

	info := s.Info()
	if len(info) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(info))
	}
	if info[0].Key != "k" {
		t.Errorf("key = %q, want k", info[0].Key)
	}
	if info[0].SizeBytes <= 0 {
		t.Errorf("size = %d, want > 0", info[0].SizeBytes)
	}
	if info[0].Age != 10*time.Minute {
		t.Errorf("age = %v, want 10m", info[0].Age)
	}
}

func TestStatsCounting(t *testing.T) {
	s := New(time.Hour)
	fetch := func() (string, error) { return "v", nil }

	_, _ = GetOrFetch(s, "k", false, fetch) // miss
	_, _ = GetOrFetch(s, "k", false, fetch) // hit
	_, _ = GetOrFetch(s, "k", false, fetch) // hit

	stats := s.GetStats()
	if stats.Hits != 2 {
		t.Errorf("Hits = %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
}
