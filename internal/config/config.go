// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package config loads and validates the application configuration from
// defaults, an optional YAML file, and environment variables, in that
// order of precedence (env highest).
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the root application configuration.
type Config struct {
	API     APIConfig     `koanf:"api"`
	Cache   CacheConfig   `koanf:"cache"`
	Fetch   FetchConfig   `koanf:"fetch"`
	Preload PreloadConfig `koanf:"preload"`
	Update  UpdateConfig  `koanf:"update"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// APIConfig configures the upstream search-metrics API connection.
type APIConfig struct {
	// BaseURL is the root URL of the metrics API, e.g. "https://metrics.example.com".
	BaseURL string `koanf:"base_url"`
	// Username and Password are sent as HTTP basic auth on every request.
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`
}

// CacheConfig configures the in-memory response cache and its
// on-disk persistence.
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
	// StorePath is the BadgerDB directory for persisted cache entries.
	// Empty disables persistence.
	StorePath string `koanf:"store_path"`
	// MaxEntryBytes caps the serialized size of a single persisted
	// entry. Larger entries stay memory-only.
	MaxEntryBytes int `koanf:"max_entry_bytes"`
	// PersistInterval is how often the persister service snapshots the
	// cache to disk.
	PersistInterval time.Duration `koanf:"persist_interval"`
}

// FetchConfig tunes the fetch orchestrator's batching and pacing.
type FetchConfig struct {
	SummaryBatchSize int `koanf:"summary_batch_size"`
	DomainBatchSize  int `koanf:"domain_batch_size"`
	CountryBatchSize int `koanf:"country_batch_size"`
	// RequestsPerSecond paces upstream calls during batch fallback.
	// Zero disables pacing.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// PreloadConfig controls the startup bulk-preload pass.
type PreloadConfig struct {
	Enabled bool `koanf:"enabled"`
	// LookbackMonths is how far back the preloaded date range reaches.
	LookbackMonths int `koanf:"lookback_months"`
	// TopDomains is how many of the highest-click domains get their
	// per-domain series preloaded.
	TopDomains int `koanf:"top_domains"`
	// PriorityDomains preloads a fixed list of domains alongside the
	// summary fetch. When empty, the top domains are derived from the
	// preloaded summary instead.
	PriorityDomains []string `koanf:"priority_domains"`
}

// UpdateConfig controls polling of server-side data refresh jobs.
type UpdateConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	// Timeout bounds how long a single update job is polled before it
	// is reported as timed out.
	Timeout time.Duration `koanf:"timeout"`
}

// ServerConfig configures the HTTP server and its admin credentials.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
	// AdminUsername and AdminPasswordHash protect the mutating
	// endpoints (cache clear, update trigger). The hash is bcrypt.
	// Both empty disables auth.
	AdminUsername     string   `koanf:"admin_username"`
	AdminPasswordHash string   `koanf:"admin_password_hash"`
	CORSOrigins       []string `koanf:"cors_origins"`
	// RateLimitRequests caps per-client requests to the API per
	// RateLimitWindow. Zero disables rate limiting.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port the HTTP server binds to.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AuthEnabled reports whether admin endpoints require credentials.
func (s ServerConfig) AuthEnabled() bool {
	return s.AdminUsername != "" || s.AdminPasswordHash != ""
}
