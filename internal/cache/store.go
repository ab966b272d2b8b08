// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package cache provides the TTL cache store backing the fetch
// orchestrator.
//
// The store is a thread-safe key -> {data, timestamp} map. Entries past
// their TTL are not evicted: an expired entry is a miss for normal
// reads but remains available as a stale fallback when a fresh fetch
// fails. Only Clear removes entries from memory.
//
// Entries can be persisted to a local BadgerDB key-value store and
// restored on startup; see persist.go. A corrupt persisted entry is
// discarded silently and never fails initialization.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/avkuzmin/serplens/internal/logging"
	"github.com/avkuzmin/serplens/internal/metrics"
)

// DefaultTTL is how long an entry stays fresh. The upstream
// search-analytics data updates at most daily with multi-day lag, so
// anything in the 12-24h band is reasonable.
const DefaultTTL = 24 * time.Hour

// Entry is a cached item. Data is either the typed value stored by
// GetOrFetch or a json.RawMessage when the entry was restored from disk
// and not yet decoded.
type Entry struct {
	Data      interface{}
	Timestamp time.Time
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits        int64
	Misses      int64
	StaleServed int64
	Evictions   int64
}

// Store is a thread-safe in-memory TTL cache. Construct with New.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration

	statsMu sync.Mutex
	stats   Stats

	// now is swappable for TTL tests.
	now func() time.Time

	persistence *persistence
}

// New creates a cache store with the given TTL. A non-positive TTL
// falls back to DefaultTTL.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Key builds a deterministic cache key from a resource type and its
// parameters, e.g. Key("summary_range", "2026-05-01", "2026-08-01").
func Key(resource string, params ...string) string {
	if len(params) == 0 {
		return resource
	}
	return resource + ":" + strings.Join(params, ":")
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration { return s.ttl }

// Get returns the entry for key, expired or not. The second return
// value reports presence, the third freshness.
func (s *Store) Get(key string) (Entry, bool, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false, false
	}
	fresh := s.now().Sub(entry.Timestamp) < s.ttl
	return entry, true, fresh
}

// Put stores data under key with the current timestamp, overwriting any
// existing entry.
func (s *Store) Put(key string, data interface{}) {
	s.mu.Lock()
	s.entries[key] = Entry{Data: data, Timestamp: s.now()}
	size := len(s.entries)
	s.mu.Unlock()

	metrics.CacheEntries.Set(float64(size))
}

// Clear removes the named entries, or every entry when called without
// arguments.
func (s *Store) Clear(keys ...string) {
	s.mu.Lock()
	if len(keys) == 0 {
		evicted := int64(len(s.entries))
		s.entries = make(map[string]Entry)
		s.mu.Unlock()
		s.recordEvictions(evicted)
		metrics.CacheEntries.Set(0)
		return
	}
	evicted := int64(0)
	for _, key := range keys {
		if _, ok := s.entries[key]; ok {
			delete(s.entries, key)
			evicted++
		}
	}
	size := len(s.entries)
	s.mu.Unlock()

	s.recordEvictions(evicted)
	metrics.CacheEntries.Set(float64(size))
}

// Len returns the number of entries currently held, fresh or stale.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// GetStats returns a snapshot of the hit/miss counters.
func (s *Store) GetStats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// KeyInfo describes one entry for the cache inspection endpoint.
type KeyInfo struct {
	Key       string        `json:"key"`
	SizeBytes int           `json:"size_bytes"`
	Age       time.Duration `json:"age"`
}

// Info returns per-entry sizes (approximate, serialized) and ages for
// diagnostics.
func (s *Store) Info() []KeyInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	info := make([]KeyInfo, 0, len(s.entries))
	for key, entry := range s.entries {
		size := 0
		if data, err := json.Marshal(entry.Data); err == nil {
			size = len(data)
		}
		info = append(info, KeyInfo{
			Key:       key,
			SizeBytes: size,
			Age:       now.Sub(entry.Timestamp),
		})
	}
	return info
}

// GetOrFetch returns cached data for key, calling fetch on a miss.
//
// Semantics, in order:
//  1. Without forceRefresh, a fresh entry is returned as-is and fetch
//     is not called.
//  2. Otherwise fetch runs; on success the result is stored and
//     returned.
//  3. On fetch failure an existing entry is returned even when expired
//     (stale fallback) with a nil error. With no entry at all the zero
//     value and the fetch error are returned; callers that prefer
//     degrading to an empty result over surfacing the error drop it.
//
// Entries restored from disk hold raw JSON and are decoded into T on
// first access.
func GetOrFetch[T any](s *Store, key string, forceRefresh bool, fetch func() (T, error)) (T, error) {
	if !forceRefresh {
		if data, ok := lookupTyped[T](s, key, true); ok {
			s.recordHit()
			return data, nil
		}
		s.recordMiss()
	}

	result, err := fetch()
	if err == nil {
		s.Put(key, result)
		return result, nil
	}

	if stale, ok := lookupTyped[T](s, key, false); ok {
		s.recordStale()
		logging.Warn().Err(err).Str("key", key).Msg("fetch failed, serving stale cache entry")
		return stale, nil
	}

	var zero T
	return zero, err
}

// lookupTyped fetches an entry and coerces it to T, decoding restored
// raw-JSON entries in place. With requireFresh set, expired entries are
// treated as absent.
func lookupTyped[T any](s *Store, key string, requireFresh bool) (T, bool) {
	var zero T

	entry, ok, fresh := s.Get(key)
	if !ok || (requireFresh && !fresh) {
		return zero, false
	}

	if typed, ok := entry.Data.(T); ok {
		return typed, true
	}

	if raw, ok := entry.Data.(json.RawMessage); ok {
		var decoded T
		if err := json.Unmarshal(raw, &decoded); err != nil {
			// Restored blob does not decode as the requested type.
			// Treat as absent rather than failing the caller.
			logging.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
			s.Clear(key)
			return zero, false
		}
		// Re-store decoded so later hits skip the unmarshal. The
		// original timestamp is preserved.
		s.mu.Lock()
		if current, ok := s.entries[key]; ok && current.Timestamp.Equal(entry.Timestamp) {
			current.Data = decoded
			s.entries[key] = current
		}
		s.mu.Unlock()
		return decoded, true
	}

	return zero, false
}

func (s *Store) recordHit() {
	s.statsMu.Lock()
	s.stats.Hits++
	s.statsMu.Unlock()
	metrics.CacheHits.Inc()
}

func (s *Store) recordMiss() {
	s.statsMu.Lock()
	s.stats.Misses++
	s.statsMu.Unlock()
	metrics.CacheMisses.Inc()
}

func (s *Store) recordStale() {
	s.statsMu.Lock()
	s.stats.StaleServed++
	s.statsMu.Unlock()
	metrics.CacheStaleServed.Inc()
}

func (s *Store) recordEvictions(n int64) {
	if n == 0 {
		return
	}
	s.statsMu.Lock()
	s.stats.Evictions += n
	s.statsMu.Unlock()
}
