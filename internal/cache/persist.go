// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/avkuzmin/serplens/internal/logging"
	"github.com/avkuzmin/serplens/internal/metrics"
)

// DefaultMaxEntryBytes caps the serialized size of a single persisted
// entry. Oversized entries stay valid in memory but are excluded from
// persistence to keep the on-disk store bounded.
const DefaultMaxEntryBytes = 500_000

// entryKeyPrefix namespaces cache entries inside the shared BadgerDB.
const entryKeyPrefix = "apicache:"

// persistedEntry is the on-disk wrapper for one cache entry.
type persistedEntry struct {
	Timestamp int64           `json:"t"` // epoch milliseconds
	Data      json.RawMessage `json:"d"`
}

type persistence struct {
	db            *badger.DB
	maxEntryBytes int
}

// EnablePersistence attaches a BadgerDB handle used by Persist and
// Restore. maxEntryBytes below or equal zero selects
// DefaultMaxEntryBytes.
func (s *Store) EnablePersistence(db *badger.DB, maxEntryBytes int) {
	if maxEntryBytes <= 0 {
		maxEntryBytes = DefaultMaxEntryBytes
	}
	s.persistence = &persistence{db: db, maxEntryBytes: maxEntryBytes}
}

// Persist serializes every entry whose encoded size is under the byte
// threshold into the key-value store. Oversized entries are skipped
// silently. Persist is best-effort: an error is returned for logging
// but the in-memory cache is unaffected either way.
func (s *Store) Persist() error {
	p := s.persistence
	if p == nil {
		return nil
	}

	s.mu.RLock()
	snapshot := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	written := 0
	skipped := 0

	err := p.db.Update(func(txn *badger.Txn) error {
		for key, entry := range snapshot {
			data, err := json.Marshal(entry.Data)
			if err != nil {
				skipped++
				continue
			}
			if len(data) >= p.maxEntryBytes {
				skipped++
				metrics.CachePersistSkipped.Inc()
				continue
			}
			wrapped, err := json.Marshal(persistedEntry{
				Timestamp: entry.Timestamp.UnixMilli(),
				Data:      data,
			})
			if err != nil {
				skipped++
				continue
			}
			if err := txn.Set([]byte(entryKeyPrefix+key), wrapped); err != nil {
				return fmt.Errorf("persist %s: %w", key, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache persist: %w", err)
	}

	metrics.CachePersistedEntries.Set(float64(written))
	logging.Debug().Int("written", written).Int("skipped", skipped).Msg("cache persisted")
	return nil
}

// Restore loads previously persisted entries into memory. Entries that
// fail to decode are dropped from the store and skipped; Restore never
// fails initialization because of corrupt data. Restored entries hold
// raw JSON and are decoded lazily on first typed access.
func (s *Store) Restore() error {
	p := s.persistence
	if p == nil {
		return nil
	}

	restored := 0
	dropped := 0
	var corrupt [][]byte

	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(entryKeyPrefix):])

			err := item.Value(func(val []byte) error {
				var pe persistedEntry
				if err := json.Unmarshal(val, &pe); err != nil {
					return err
				}
				if pe.Data == nil {
					return fmt.Errorf("missing data")
				}
				s.mu.Lock()
				s.entries[key] = Entry{
					Data:      pe.Data,
					Timestamp: time.UnixMilli(pe.Timestamp),
				}
				s.mu.Unlock()
				restored++
				return nil
			})
			if err != nil {
				dropped++
				metrics.CacheRestoreDropped.Inc()
				corrupt = append(corrupt, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		// A failing scan means no usable persisted cache; cold start.
		logging.Warn().Err(err).Msg("cache restore failed, starting cold")
		return nil
	}

	// Discard corrupt blobs so they do not resurface next start.
	if len(corrupt) > 0 {
		if derr := p.db.Update(func(txn *badger.Txn) error {
			for _, key := range corrupt {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		}); derr != nil {
			logging.Warn().Err(derr).Msg("failed to delete corrupt cache entries")
		}
	}

	metrics.CacheEntries.Set(float64(s.Len()))
	logging.Info().Int("restored", restored).Int("dropped", dropped).Msg("cache restored")
	return nil
}

// DropPersisted removes all persisted entries from the key-value store.
// Used by the explicit clear-cache operation alongside Clear().
func (s *Store) DropPersisted() error {
	p := s.persistence
	if p == nil {
		return nil
	}
	return p.db.DropPrefix([]byte(entryKeyPrefix))
}
