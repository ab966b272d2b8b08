// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	gorillaws "github.com/gorilla/websocket"

	"github.com/avkuzmin/serplens/internal/aggregate"
	"github.com/avkuzmin/serplens/internal/cache"
	"github.com/avkuzmin/serplens/internal/fetch"
	"github.com/avkuzmin/serplens/internal/logging"
	"github.com/avkuzmin/serplens/internal/models"
	"github.com/avkuzmin/serplens/internal/preload"
	"github.com/avkuzmin/serplens/internal/progress"
	"github.com/avkuzmin/serplens/internal/updater"
	"github.com/avkuzmin/serplens/internal/websocket"
)

// Fetcher is the slice of the fetch orchestrator the handlers use.
type Fetcher interface {
	SummaryRange(ctx context.Context, startDate, endDate string, force bool, onProgress progress.Func) (models.RecordList, error)
	DomainRange(ctx context.Context, domain, startDate, endDate string, force bool, onProgress progress.Func) (models.RecordList, error)
	CountryRange(ctx context.Context, startDate, endDate string, force bool, onProgress progress.Func) (models.RecordList, error)
}

// Backend is the slice of the upstream client the handlers call
// directly, outside the cache and fallback machinery.
type Backend interface {
	CheckAuth(ctx context.Context) error
	GetLastDates(ctx context.Context, domain string) (*models.LastDates, error)
	GetAllDomainsLastDates(ctx context.Context) (map[string]string, error)
	ClearServerCache(ctx context.Context) (*models.ClearCacheResult, error)
}

// Updates drives and reports server-side data refresh jobs.
type Updates interface {
	Trigger(ctx context.Context) (*models.UpdateStarted, error)
	Status() models.UpdateStatus
	Running() bool
}

// Preloads reports the startup preload pass.
type Preloads interface {
	Status() preload.Status
}

// Handler serves the dashboard API. All fields are required except
// hub, which may be nil when websocket streaming is disabled.
type Handler struct {
	store    *cache.Store
	fetcher  Fetcher
	backend  Backend
	updates  Updates
	preloads Preloads
	hub      *websocket.Hub
	upgrader gorillaws.Upgrader

	// now is swappable for tests.
	now func() time.Time
}

// NewHandler wires the handler's dependencies.
func NewHandler(store *cache.Store, fetcher Fetcher, backend Backend, updates Updates, preloads Preloads, hub *websocket.Hub) *Handler {
	return &Handler{
		store:    store,
		fetcher:  fetcher,
		backend:  backend,
		updates:  updates,
		preloads: preloads,
		hub:      hub,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement happens in the CORS middleware; the
			// dashboard may be served from a different host.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// defaultLookbackMonths is the range served when a dashboard request
// carries no explicit dates.
const defaultLookbackMonths = 1

// rangeParams extracts and validates start_date/end_date plus the
// force-refresh flag.
func (h *Handler) rangeParams(r *http.Request) (startDate, endDate string, force bool, err error) {
	q := r.URL.Query()
	startDate = q.Get("start_date")
	endDate = q.Get("end_date")
	force = q.Get("force") == "true"

	if startDate == "" && endDate == "" {
		startDate, endDate = fetch.LookbackRange(h.now(), defaultLookbackMonths)
		return startDate, endDate, force, nil
	}
	if startDate == "" || endDate == "" {
		return "", "", false, errors.New("start_date and end_date must be provided together")
	}
	start, perr := time.Parse(fetch.DateLayout, startDate)
	if perr != nil {
		return "", "", false, errors.New("start_date must be YYYY-MM-DD")
	}
	end, perr := time.Parse(fetch.DateLayout, endDate)
	if perr != nil {
		return "", "", false, errors.New("end_date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return "", "", false, errors.New("end_date before start_date")
	}
	return startDate, endDate, force, nil
}

// healthData is the health endpoint payload.
type healthData struct {
	Status       string `json:"status"`
	BackendAuth  bool   `json:"backend_auth"`
	CacheEntries int    `json:"cache_entries"`
}

// Health reports liveness plus a live probe of the backend
// credentials. Auth failures degrade the payload, never the status
// code: the dashboard itself is still up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	authOK := h.backend.CheckAuth(r.Context()) == nil
	rw.Success(healthData{
		Status:       "ok",
		BackendAuth:  authOK,
		CacheEntries: h.store.Len(),
	})
}

// summaryData is the dashboard summary payload: the per-date series
// plus period-over-period changes across the range.
type summaryData struct {
	StartDate string                                `json:"start_date"`
	EndDate   string                                `json:"end_date"`
	Series    aggregate.Series                      `json:"series"`
	Changes   map[aggregate.Metric]aggregate.Change `json:"changes"`
}

// DashboardSummary serves the aggregated all-domains series.
func (h *Handler) DashboardSummary(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	startDate, endDate, force, err := h.rangeParams(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	records, err := h.fetcher.SummaryRange(r.Context(), startDate, endDate, force, nil)
	if err != nil {
		rw.ServiceUnavailable("summary data unavailable: " + err.Error())
		return
	}

	series := aggregate.GroupByDate(records)
	rw.Success(summaryData{
		StartDate: startDate,
		EndDate:   endDate,
		Series:    series,
		Changes:   aggregate.PeriodOverPeriod(series),
	})
}

// entityData is the payload for domain and country breakdowns.
type entityData struct {
	StartDate string             `json:"start_date"`
	EndDate   string             `json:"end_date"`
	Metric    aggregate.Metric   `json:"metric"`
	Entities  []aggregate.Totals `json:"entities"`
}

// parseMetric maps the metric query param, defaulting to clicks.
func parseMetric(r *http.Request) (aggregate.Metric, bool) {
	switch m := r.URL.Query().Get("metric"); m {
	case "", string(aggregate.MetricClicks):
		return aggregate.MetricClicks, true
	case string(aggregate.MetricImpressions):
		return aggregate.MetricImpressions, true
	case string(aggregate.MetricCTR):
		return aggregate.MetricCTR, true
	case string(aggregate.MetricAvgPosition):
		return aggregate.MetricAvgPosition, true
	default:
		return "", false
	}
}

// parseLimit maps the limit query param, defaulting to def.
func parseLimit(r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// DashboardDomains ranks domains over the range by the chosen metric.
func (h *Handler) DashboardDomains(w http.ResponseWriter, r *http.Request) {
	h.serveEntityRanking(w, r, aggregate.EntityDomain)
}

// DashboardCountries ranks countries over the range by the chosen
// metric.
func (h *Handler) DashboardCountries(w http.ResponseWriter, r *http.Request) {
	h.serveEntityRanking(w, r, aggregate.EntityCountry)
}

func (h *Handler) serveEntityRanking(w http.ResponseWriter, r *http.Request, entity aggregate.EntityKey) {
	rw := NewResponseWriter(w, r)
	startDate, endDate, force, err := h.rangeParams(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	metric, ok := parseMetric(r)
	if !ok {
		rw.BadRequest("unknown metric")
		return
	}
	limit, ok := parseLimit(r, 10)
	if !ok {
		rw.BadRequest("limit must be a positive integer")
		return
	}

	var records models.RecordList
	if entity == aggregate.EntityCountry {
		records, err = h.fetcher.CountryRange(r.Context(), startDate, endDate, force, nil)
	} else {
		records, err = h.fetcher.SummaryRange(r.Context(), startDate, endDate, force, nil)
	}
	if err != nil {
		rw.ServiceUnavailable("range data unavailable: " + err.Error())
		return
	}

	totals := aggregate.GroupByEntity(records, entity)
	rw.Success(entityData{
		StartDate: startDate,
		EndDate:   endDate,
		Metric:    metric,
		Entities:  aggregate.TopN(totals, metric, limit),
	})
}

// DomainSeries serves one domain's aggregated series.
func (h *Handler) DomainSeries(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		rw.BadRequest("domain is required")
		return
	}
	startDate, endDate, force, err := h.rangeParams(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	records, err := h.fetcher.DomainRange(r.Context(), domain, startDate, endDate, force, nil)
	if err != nil {
		rw.ServiceUnavailable("domain data unavailable: " + err.Error())
		return
	}

	series := aggregate.GroupByDate(records)
	rw.Success(summaryData{
		StartDate: startDate,
		EndDate:   endDate,
		Series:    series,
		Changes:   aggregate.PeriodOverPeriod(series),
	})
}

// LastDates serves one domain's most recent data date.
func (h *Handler) LastDates(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		rw.BadRequest("domain is required")
		return
	}
	last, err := h.backend.GetLastDates(r.Context(), domain)
	if err != nil {
		rw.ServiceUnavailable("last dates unavailable: " + err.Error())
		return
	}
	rw.Success(last)
}

// AllLastDates serves every domain's most recent data date.
func (h *Handler) AllLastDates(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	dates, err := h.backend.GetAllDomainsLastDates(r.Context())
	if err != nil {
		rw.ServiceUnavailable("last dates unavailable: " + err.Error())
		return
	}
	rw.Success(dates)
}

// cacheInfoData is the cache inspection payload.
type cacheInfoData struct {
	Entries    int             `json:"entries"`
	TTLSeconds int64           `json:"ttl_seconds"`
	Stats      cache.Stats     `json:"stats"`
	Keys       []cache.KeyInfo `json:"keys"`
}

// CacheInfo reports entry count, hit statistics and per-key sizes and
// ages.
func (h *Handler) CacheInfo(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success(cacheInfoData{
		Entries:    h.store.Len(),
		TTLSeconds: int64(h.store.TTL().Seconds()),
		Stats:      h.store.GetStats(),
		Keys:       h.store.Info(),
	})
}

// CacheClear empties the local cache, including its persisted copy.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	cleared := h.store.Len()
	h.store.Clear()
	if err := h.store.DropPersisted(); err != nil {
		logging.Warn().Err(err).Msg("failed to drop persisted cache entries")
	}
	logging.Info().Int("entries_cleared", cleared).Msg("local cache cleared")
	rw.Success(models.ClearCacheResult{Success: true, Message: "local cache cleared"})
}

// CacheClearServer asks the backend to clear its own cache.
func (h *Handler) CacheClearServer(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	result, err := h.backend.ClearServerCache(r.Context())
	if err != nil {
		rw.ServiceUnavailable("server cache clear failed: " + err.Error())
		return
	}
	rw.Success(result)
}

// UpdateTrigger starts a backend data refresh.
func (h *Handler) UpdateTrigger(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	started, err := h.updates.Trigger(r.Context())
	if err != nil {
		if errors.Is(err, updater.ErrUpdateRunning) {
			rw.Conflict("an update is already in progress")
			return
		}
		rw.ServiceUnavailable("update trigger failed: " + err.Error())
		return
	}
	if h.hub != nil {
		h.hub.BroadcastJSON(websocket.MessageTypeUpdateStatus, h.updates.Status())
	}
	rw.Success(started)
}

// updateStatusData wraps the backend status with the poller's view.
type updateStatusData struct {
	Running bool                `json:"running"`
	Status  models.UpdateStatus `json:"status"`
}

// UpdateStatus serves the last observed refresh status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success(updateStatusData{
		Running: h.updates.Running(),
		Status:  h.updates.Status(),
	})
}

// PreloadStatus serves the startup preload pass status.
func (h *Handler) PreloadStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success(h.preloads.Status())
}

// WebSocket upgrades the connection and attaches it to the status hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		NewResponseWriter(w, r).NotFound("websocket streaming disabled")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := websocket.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}
