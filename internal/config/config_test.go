// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.API.BaseURL = "https://metrics.example.com"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("default cache TTL = %v, want 24h", cfg.Cache.TTL)
	}
	if cfg.Cache.MaxEntryBytes != 500_000 {
		t.Errorf("default max entry bytes = %d, want 500000", cfg.Cache.MaxEntryBytes)
	}
	if cfg.Fetch.SummaryBatchSize != 15 {
		t.Errorf("default summary batch size = %d, want 15", cfg.Fetch.SummaryBatchSize)
	}
	if cfg.Fetch.CountryBatchSize != 7 {
		t.Errorf("default country batch size = %d, want 7", cfg.Fetch.CountryBatchSize)
	}
	if cfg.Preload.LookbackMonths != 3 {
		t.Errorf("default lookback months = %d, want 3", cfg.Preload.LookbackMonths)
	}
	if cfg.Server.Addr() != "0.0.0.0:8480" {
		t.Errorf("default addr = %q, want 0.0.0.0:8480", cfg.Server.Addr())
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("METRICS_API_URL", "https://metrics.test.internal")
	t.Setenv("METRICS_API_USERNAME", "svc")
	t.Setenv("METRICS_API_PASSWORD", "secret")
	t.Setenv("CACHE_TTL", "6h")
	t.Setenv("FETCH_COUNTRY_BATCH_SIZE", "3")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("PRELOAD_PRIORITY_DOMAINS", "alpha.example, beta.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.BaseURL != "https://metrics.test.internal" {
		t.Errorf("base URL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Username != "svc" || cfg.API.Password != "secret" {
		t.Error("credentials not loaded from env")
	}
	if cfg.Cache.TTL != 6*time.Hour {
		t.Errorf("cache TTL = %v, want 6h", cfg.Cache.TTL)
	}
	if cfg.Fetch.CountryBatchSize != 3 {
		t.Errorf("country batch size = %d, want 3", cfg.Fetch.CountryBatchSize)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Errorf("cors origins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
	wantDomains := []string{"alpha.example", "beta.example"}
	if len(cfg.Preload.PriorityDomains) != 2 || cfg.Preload.PriorityDomains[0] != wantDomains[0] || cfg.Preload.PriorityDomains[1] != wantDomains[1] {
		t.Errorf("priority domains = %v, want %v", cfg.Preload.PriorityDomains, wantDomains)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
api:
  base_url: https://metrics.file.internal
  timeout: 45s
fetch:
  domain_batch_size: 20
preload:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.BaseURL != "https://metrics.file.internal" {
		t.Errorf("base URL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 45*time.Second {
		t.Errorf("timeout = %v, want 45s", cfg.API.Timeout)
	}
	if cfg.Fetch.DomainBatchSize != 20 {
		t.Errorf("domain batch size = %d, want 20", cfg.Fetch.DomainBatchSize)
	}
	if cfg.Preload.Enabled {
		t.Error("preload should be disabled by file")
	}
	// Untouched sections keep their defaults.
	if cfg.Fetch.SummaryBatchSize != 15 {
		t.Errorf("summary batch size = %d, want default 15", cfg.Fetch.SummaryBatchSize)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
api:
  base_url: https://from-file.internal
server:
  port: 7000
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "7001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("port = %d, env should win over file", cfg.Server.Port)
	}
	if cfg.API.BaseURL != "https://from-file.internal" {
		t.Errorf("base URL = %q, file value should survive", cfg.API.BaseURL)
	}
}

func TestEnvTransformDropsUnknown(t *testing.T) {
	if got := envTransformFunc("PATH"); got != "" {
		t.Errorf("PATH mapped to %q, want dropped", got)
	}
	if got := envTransformFunc("METRICS_API_URL"); got != "api.base_url" {
		t.Errorf("METRICS_API_URL mapped to %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing base URL",
			mutate:  func(c *Config) { c.API.BaseURL = "" },
			wantErr: "api.base_url",
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.API.BaseURL = "ftp://metrics.example.com" },
			wantErr: "http or https",
		},
		{
			name:    "zero cache TTL",
			mutate:  func(c *Config) { c.Cache.TTL = 0 },
			wantErr: "cache.ttl",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Fetch.CountryBatchSize = 0 },
			wantErr: "country_batch_size",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "username without hash",
			mutate:  func(c *Config) { c.Server.AdminUsername = "admin" },
			wantErr: "must be set together",
		},
		{
			name: "plaintext password hash",
			mutate: func(c *Config) {
				c.Server.AdminUsername = "admin"
				c.Server.AdminPasswordHash = "hunter2"
			},
			wantErr: "bcrypt",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "update timeout below poll interval",
			mutate:  func(c *Config) { c.Update.Timeout = time.Second },
			wantErr: "update.timeout",
		},
		{
			name:    "preload lookback zero",
			mutate:  func(c *Config) { c.Preload.LookbackMonths = 0 },
			wantErr: "lookback_months",
		},
		{
			name: "preload disabled skips preload checks",
			mutate: func(c *Config) {
				c.Preload.Enabled = false
				c.Preload.LookbackMonths = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}
