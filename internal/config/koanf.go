// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/serplens/config.yaml",
	"/etc/serplens/config.yml",
}

// ConfigPathEnvVar overrides the config file search entirely.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults applied. These are
// layered first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:  "",
			Username: "",
			Password: "",
			Timeout:  30 * time.Second,
		},
		Cache: CacheConfig{
			TTL:             24 * time.Hour,
			StorePath:       "/data/serplens/cache",
			MaxEntryBytes:   500_000,
			PersistInterval: 5 * time.Minute,
		},
		Fetch: FetchConfig{
			SummaryBatchSize:  15,
			DomainBatchSize:   15,
			CountryBatchSize:  7,
			RequestsPerSecond: 8,
		},
		Preload: PreloadConfig{
			Enabled:        true,
			LookbackMonths: 3,
			TopDomains:     10,
		},
		Update: UpdateConfig{
			PollInterval: 5 * time.Second,
			Timeout:      30 * time.Minute,
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8480,
			Timeout:           60 * time.Second,
			AdminUsername:     "",
			AdminPasswordHash: "",
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
//
// Precedence is ENV > file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when they arrive as env var strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"preload.priority_domains",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML): nothing to do.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config
// paths. Unmapped variables are dropped so arbitrary environment noise
// never pollutes the configuration.
//
// Examples:
//   - METRICS_API_URL -> api.base_url
//   - CACHE_TTL -> cache.ttl
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Upstream API mappings
		"metrics_api_url":      "api.base_url",
		"metrics_api_username": "api.username",
		"metrics_api_password": "api.password",
		"metrics_api_timeout":  "api.timeout",

		// Cache mappings
		"cache_ttl":              "cache.ttl",
		"cache_store_path":       "cache.store_path",
		"cache_max_entry_bytes":  "cache.max_entry_bytes",
		"cache_persist_interval": "cache.persist_interval",

		// Fetch mappings
		"fetch_summary_batch_size":  "fetch.summary_batch_size",
		"fetch_domain_batch_size":   "fetch.domain_batch_size",
		"fetch_country_batch_size":  "fetch.country_batch_size",
		"fetch_requests_per_second": "fetch.requests_per_second",

		// Preload mappings
		"preload_enabled":          "preload.enabled",
		"preload_lookback_months":  "preload.lookback_months",
		"preload_top_domains":      "preload.top_domains",
		"preload_priority_domains": "preload.priority_domains",

		// Update polling mappings
		"update_poll_interval": "update.poll_interval",
		"update_timeout":       "update.timeout",

		// Server mappings
		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_timeout":        "server.timeout",
		"admin_username":      "server.admin_username",
		"admin_password_hash": "server.admin_password_hash",
		"cors_origins":        "server.cors_origins",
		"rate_limit_requests": "server.rate_limit_requests",
		"rate_limit_window":   "server.rate_limit_window",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}
