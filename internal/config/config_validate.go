// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for values that would make the
// service misbehave at runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validatePreload(); err != nil {
		return err
	}
	if err := c.validateUpdate(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required (set METRICS_API_URL)")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("api.base_url is missing a host")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %v", c.API.Timeout)
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %v", c.Cache.TTL)
	}
	if c.Cache.MaxEntryBytes < 0 {
		return fmt.Errorf("cache.max_entry_bytes must not be negative, got %d", c.Cache.MaxEntryBytes)
	}
	if c.Cache.StorePath != "" && c.Cache.PersistInterval <= 0 {
		return fmt.Errorf("cache.persist_interval must be positive when persistence is enabled, got %v", c.Cache.PersistInterval)
	}
	return nil
}

func (c *Config) validateFetch() error {
	if c.Fetch.SummaryBatchSize < 1 {
		return fmt.Errorf("fetch.summary_batch_size must be at least 1, got %d", c.Fetch.SummaryBatchSize)
	}
	if c.Fetch.DomainBatchSize < 1 {
		return fmt.Errorf("fetch.domain_batch_size must be at least 1, got %d", c.Fetch.DomainBatchSize)
	}
	if c.Fetch.CountryBatchSize < 1 {
		return fmt.Errorf("fetch.country_batch_size must be at least 1, got %d", c.Fetch.CountryBatchSize)
	}
	if c.Fetch.RequestsPerSecond < 0 {
		return fmt.Errorf("fetch.requests_per_second must not be negative, got %v", c.Fetch.RequestsPerSecond)
	}
	return nil
}

func (c *Config) validatePreload() error {
	if !c.Preload.Enabled {
		return nil
	}
	if c.Preload.LookbackMonths < 1 {
		return fmt.Errorf("preload.lookback_months must be at least 1, got %d", c.Preload.LookbackMonths)
	}
	if c.Preload.TopDomains < 0 {
		return fmt.Errorf("preload.top_domains must not be negative, got %d", c.Preload.TopDomains)
	}
	return nil
}

func (c *Config) validateUpdate() error {
	if c.Update.PollInterval <= 0 {
		return fmt.Errorf("update.poll_interval must be positive, got %v", c.Update.PollInterval)
	}
	if c.Update.Timeout <= c.Update.PollInterval {
		return fmt.Errorf("update.timeout (%v) must exceed update.poll_interval (%v)", c.Update.Timeout, c.Update.PollInterval)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %v", c.Server.Timeout)
	}
	// Admin auth is all-or-nothing: a username without a password hash
	// (or vice versa) would lock the admin endpoints permanently.
	if (c.Server.AdminUsername == "") != (c.Server.AdminPasswordHash == "") {
		return fmt.Errorf("server.admin_username and server.admin_password_hash must be set together")
	}
	if c.Server.AdminPasswordHash != "" && !strings.HasPrefix(c.Server.AdminPasswordHash, "$2") {
		return fmt.Errorf("server.admin_password_hash must be a bcrypt hash")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
