// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package models

// Update statuses reported by GET /update_status. The server owns this
// state machine; Serplens only reads it.
const (
	UpdateStatusIdle              = "idle"
	UpdateStatusRunning           = "running"
	UpdateStatusUpdatingCountries = "updating_countries"
	UpdateStatusCompleted         = "completed"
	UpdateStatusError             = "error"
)

// UpdateStatus describes the progress of a server-side data refresh.
type UpdateStatus struct {
	Status           string   `json:"status"`
	DomainsProcessed int      `json:"domains_processed"`
	DomainsTotal     int      `json:"domains_total"`
	CurrentDomain    string   `json:"current_domain"`
	Progress         float64  `json:"progress"`
	Errors           []string `json:"errors,omitempty"`
}

// Terminal reports whether the refresh has finished, successfully or not.
func (s *UpdateStatus) Terminal() bool {
	return s.Status == UpdateStatusCompleted || s.Status == UpdateStatusError
}

// UpdateStarted is the response to POST /update_data.
type UpdateStarted struct {
	Status string `json:"status"`
}

// LastDates reports the most recent date with data for one domain.
type LastDates struct {
	Domain   string `json:"domain,omitempty"`
	LastDate string `json:"last_date"`
}

// ClearCacheResult is the response to POST /clear_cache.
type ClearCacheResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
