// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package models defines the data shapes exchanged with the search
// analytics API and shared across the fetch, cache and aggregation
// layers.
package models

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// MetricRecord is one row of raw search-performance data for a single
// (date, domain[, country]) combination.
//
// CTR and AvgPosition are per-record values at source granularity, not
// pre-aggregated: any aggregation across records must re-derive them as
// impression-weighted means (see the aggregate package). Missing numeric
// fields decode to zero.
type MetricRecord struct {
	Date        string  `json:"date"`
	Domain      string  `json:"domain,omitempty"`
	Country     string  `json:"country,omitempty"`
	Clicks      int64   `json:"traffic_clicks"`
	Impressions int64   `json:"impressions"`
	CTR         float64 `json:"ctr"`
	AvgPosition float64 `json:"avg_position"`

	// Indexation counters, present only on per-domain summaries.
	PagesIndexed    int64 `json:"pages_indexed,omitempty"`
	PagesNotIndexed int64 `json:"pages_not_indexed,omitempty"`
}

// RecordList is a slice of MetricRecord that knows how to decode every
// response encoding used by the API: a plain array of row objects, the
// column-oriented envelope {"keys": [...], "values": [[...], ...]} that
// the range endpoints emit for large payloads, and the bare single
// object that the per-domain single-day endpoint returns.
type RecordList []MetricRecord

// columnarEnvelope is the column-oriented wire format: keys[i] names the
// column holding values[j][i].
type columnarEnvelope struct {
	Keys   []string          `json:"keys"`
	Values [][]json.RawMessage `json:"values"`
}

// UnmarshalJSON decodes any of the encodings into a flat row slice.
func (l *RecordList) UnmarshalJSON(data []byte) error {
	// Row-oriented form first; it is the common case.
	var rows []MetricRecord
	if err := json.Unmarshal(data, &rows); err == nil {
		*l = rows
		return nil
	}

	var env columnarEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("record list: unrecognized encoding: %w", err)
	}
	if env.Keys == nil || env.Values == nil {
		// Not columnar; the single-day domain summary endpoint returns
		// one bare record object.
		var rec MetricRecord
		if err := json.Unmarshal(data, &rec); err == nil && rec.Date != "" {
			*l = RecordList{rec}
			return nil
		}
		return fmt.Errorf("record list: columnar envelope missing keys or values")
	}

	decoded, err := decompressColumnar(env)
	if err != nil {
		return err
	}
	*l = decoded
	return nil
}

// decompressColumnar rebuilds row objects from the columnar envelope and
// decodes them as MetricRecords.
func decompressColumnar(env columnarEnvelope) ([]MetricRecord, error) {
	records := make([]MetricRecord, 0, len(env.Values))

	for j, row := range env.Values {
		obj := make(map[string]json.RawMessage, len(env.Keys))
		for i, key := range env.Keys {
			if i >= len(row) {
				break
			}
			obj[key] = row[i]
		}

		rowBytes, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("record list: row %d: %w", j, err)
		}
		var rec MetricRecord
		if err := json.Unmarshal(rowBytes, &rec); err != nil {
			return nil, fmt.Errorf("record list: row %d: %w", j, err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// SortByDate sorts records ascending by date in place. The sort is
// stable: same-date records keep their original relative order, which
// matters when concatenated batch results interleave multiple entities
// per day. ISO dates compare correctly as strings.
func SortByDate(records []MetricRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date < records[j].Date
	})
}
