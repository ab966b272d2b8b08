// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package gsc implements the HTTP client for the Search Console data
// backend. The backend owns the raw Search Console exports and the
// refresh pipeline; Serplens reads aggregated daily metrics from it.
//
// All requests carry HTTP basic auth. A request that fails at the
// transport level is retried exactly once with an X-Requested-With
// header, which some reverse proxies in front of the backend require
// before letting a non-browser client through.
package gsc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/avkuzmin/serplens/internal/config"
	"github.com/avkuzmin/serplens/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read
// for diagnostics.
const maxErrorBodySize = 64 * 1024 // 64KB

// retryHeader is added on the second attempt after a transport failure.
const retryHeader = "XMLHttpRequest"

// ClientInterface defines the operations the rest of the application
// uses against the data backend. Implemented by Client for production
// and by mocks in tests.
//
// All methods accept a context for cancellation and return an error on
// transport failures, non-2xx statuses, or undecodable bodies. Methods
// are safe for concurrent use.
type ClientInterface interface {
	CheckAuth(ctx context.Context) error
	GetSummary(ctx context.Context, date string) (models.RecordList, error)
	GetSummaryRange(ctx context.Context, startDate, endDate string) (models.RecordList, error)
	GetDomainSummary(ctx context.Context, domain, date string) (models.RecordList, error)
	GetDomainRangeSummary(ctx context.Context, domain, startDate, endDate string) (models.RecordList, error)
	GetCountrySummary(ctx context.Context, date string) (models.RecordList, error)
	GetCountryRangeSummary(ctx context.Context, startDate, endDate string) (models.RecordList, error)
	GetLastDates(ctx context.Context, domain string) (*models.LastDates, error)
	GetAllDomainsLastDates(ctx context.Context) (map[string]string, error)
	TriggerUpdate(ctx context.Context) (*models.UpdateStarted, error)
	GetUpdateStatus(ctx context.Context) (*models.UpdateStatus, error)
	ClearServerCache(ctx context.Context) (*models.ClearCacheResult, error)
}

// Client communicates with the Search Console data backend.
//
// Thread safety: safe for concurrent use; each call builds its own
// request.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

// NewClient creates a backend client from the API configuration.
func NewClient(cfg *config.APIConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		username: cfg.Username,
		password: cfg.Password,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// readBodyForError reads at most maxErrorBodySize of the response body
// for inclusion in error messages.
func readBodyForError(r io.Reader) []byte {
	limited := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// doRequest performs one HTTP request, retrying once with the
// X-Requested-With header if the transport itself fails. HTTP error
// statuses are not retried; the backend is authoritative about those.
func (c *Client) doRequest(ctx context.Context, method, reqURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= 1; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.SetBasicAuth(c.username, c.password)
		if attempt > 0 {
			req.Header.Set("X-Requested-With", retryHeader)
		}

		resp, err := c.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("HTTP request failed after retry: %w", lastErr)
}

// makeRequest handles the shared request boilerplate: URL assembly,
// basic auth, the transport retry, status checking, and JSON decoding
// into result. A nil result skips body decoding.
func (c *Client) makeRequest(ctx context.Context, method, path string, params url.Values, result interface{}) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	resp, err := c.doRequest(ctx, method, reqURL)
	if err != nil {
		return fmt.Errorf("failed to make %s %s request: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s request rejected with status %d: %w", path, resp.StatusCode, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := readBodyForError(resp.Body)
		return fmt.Errorf("%s request failed with status %d: %s", path, resp.StatusCode, string(body))
	}

	if result == nil {
		return nil
	}

	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// CheckAuth verifies connectivity and credentials against the backend.
// It returns ErrUnauthorized (wrapped) when the credentials are
// rejected, and other errors when the backend is unreachable.
func (c *Client) CheckAuth(ctx context.Context) error {
	return c.makeRequest(ctx, http.MethodGet, "/api/health", nil, nil)
}

// GetSummary retrieves the all-domains summary for a single date.
func (c *Client) GetSummary(ctx context.Context, date string) (models.RecordList, error) {
	params := url.Values{}
	params.Set("target_date", date)

	var records models.RecordList
	if err := c.makeRequest(ctx, http.MethodGet, "/api/summary", params, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetSummaryRange retrieves the all-domains summary for an inclusive
// date range in a single call.
func (c *Client) GetSummaryRange(ctx context.Context, startDate, endDate string) (models.RecordList, error) {
	params := url.Values{}
	params.Set("start_date", startDate)
	params.Set("end_date", endDate)

	var records models.RecordList
	if err := c.makeRequest(ctx, http.MethodGet, "/api/summary_range", params, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetDomainSummary retrieves one domain's metrics for a single date.
func (c *Client) GetDomainSummary(ctx context.Context, domain, date string) (models.RecordList, error) {
	params := url.Values{}
	params.Set("target_date", date)

	path := "/api/domain/" + url.PathEscape(domain) + "/summary"
	var records models.RecordList
	if err := c.makeRequest(ctx, http.MethodGet, path, params, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetDomainRangeSummary retrieves one domain's metrics for an inclusive
// date range in a single call.
func (c *Client) GetDomainRangeSummary(ctx context.Context, domain, startDate, endDate string) (models.RecordList, error) {
	params := url.Values{}
	params.Set("domain_name", domain)
	params.Set("start_date", startDate)
	params.Set("end_date", endDate)

	var records models.RecordList
	if err := c.makeRequest(ctx, http.MethodGet, "/api/domain_range_summary", params, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetCountrySummary retrieves per-country metrics for a single date.
func (c *Client) GetCountrySummary(ctx context.Context, date string) (models.RecordList, error) {
	params := url.Values{}
	params.Set("target_date", date)

	var records models.RecordList
	if err := c.makeRequest(ctx, http.MethodGet, "/api/country_summary", params, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetCountryRangeSummary retrieves per-country metrics for an inclusive
// date range in a single call. This is the heaviest backend query and
// the most likely to time out on long ranges.
func (c *Client) GetCountryRangeSummary(ctx context.Context, startDate, endDate string) (models.RecordList, error) {
	params := url.Values{}
	params.Set("start_date", startDate)
	params.Set("end_date", endDate)

	var records models.RecordList
	if err := c.makeRequest(ctx, http.MethodGet, "/api/country_range_summary", params, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetLastDates retrieves the most recent date with data for one domain.
func (c *Client) GetLastDates(ctx context.Context, domain string) (*models.LastDates, error) {
	path := "/api/domain/" + url.PathEscape(domain) + "/last_dates"
	var result models.LastDates
	if err := c.makeRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if result.Domain == "" {
		result.Domain = domain
	}
	return &result, nil
}

// GetAllDomainsLastDates retrieves the most recent data date per
// domain, keyed by domain name.
func (c *Client) GetAllDomainsLastDates(ctx context.Context) (map[string]string, error) {
	var result map[string]string
	if err := c.makeRequest(ctx, http.MethodGet, "/api/all_domains_last_dates", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// TriggerUpdate asks the backend to start a data refresh. The refresh
// runs server-side; poll GetUpdateStatus for progress.
func (c *Client) TriggerUpdate(ctx context.Context) (*models.UpdateStarted, error) {
	var result models.UpdateStarted
	if err := c.makeRequest(ctx, http.MethodPost, "/api/update_data", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetUpdateStatus reads the current state of the server-side refresh.
func (c *Client) GetUpdateStatus(ctx context.Context) (*models.UpdateStatus, error) {
	var result models.UpdateStatus
	if err := c.makeRequest(ctx, http.MethodGet, "/api/update_status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ClearServerCache drops the backend's own response cache.
func (c *Client) ClearServerCache(ctx context.Context) (*models.ClearCacheResult, error) {
	var result models.ClearCacheResult
	if err := c.makeRequest(ctx, http.MethodPost, "/api/clear_cache", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
