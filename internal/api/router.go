// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avkuzmin/serplens/internal/config"
	"github.com/avkuzmin/serplens/internal/middleware"
)

// NewRouter builds the chi router for the dashboard API.
//
// Read endpoints are open; mutating endpoints (cache clears, update
// trigger) sit behind admin basic auth when credentials are
// configured. Prometheus exposition lives outside /api/v1 so scrape
// traffic never shows up in the API request metrics.
func NewRouter(handler *Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	admin := middleware.AdminAuth(cfg.AdminUsername, cfg.AdminPasswordHash)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// ========================
		// Health and Status
		// ========================
		r.Get("/health", handler.Health)
		r.Get("/preload/status", handler.PreloadStatus)
		r.Get("/ws", handler.WebSocket)

		// ========================
		// Dashboard Data
		// ========================
		r.Get("/dashboard/summary", handler.DashboardSummary)
		r.Get("/dashboard/domains", handler.DashboardDomains)
		r.Get("/dashboard/countries", handler.DashboardCountries)
		r.Get("/dashboard/domain/{domain}", handler.DomainSeries)
		r.Get("/domains/last-dates", handler.AllLastDates)
		r.Get("/domains/{domain}/last-dates", handler.LastDates)

		// ========================
		// Cache Administration
		// ========================
		r.Get("/cache", handler.CacheInfo)
		r.With(admin).Post("/cache/clear", handler.CacheClear)
		r.With(admin).Post("/cache/clear-server", handler.CacheClearServer)

		// ========================
		// Data Updates
		// ========================
		r.Get("/update/status", handler.UpdateStatus)
		r.With(admin).Post("/update", handler.UpdateTrigger)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
