// Serplens - Search Performance Analytics Dashboard
// Copyright 2026 A. Kuzmin (avkuzmin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/avkuzmin/serplens

// Package main is the entry point for the Serplens server.
//
// Serplens sits between a search-metrics backend and its dashboard: it
// fetches daily and range metrics over HTTP+basic-auth, caches them
// with a TTL and a badger-backed persistent copy, aggregates them into
// dashboard series, and serves the result through a chi HTTP API with
// websocket status streaming.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, optional YAML file, env vars)
//  2. Logging (zerolog)
//  3. Badger store and cache restore
//  4. Backend client with circuit breaker, fetch orchestrator
//  5. Supervisor tree: cache persister (data layer); websocket hub,
//     preload pass, update poller (sync layer); HTTP server (api
//     layer)
//
// Shutdown on SIGINT/SIGTERM is graceful: the HTTP server drains, the
// persister flushes the cache a final time, badger closes last.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/avkuzmin/serplens/internal/api"
	"github.com/avkuzmin/serplens/internal/cache"
	"github.com/avkuzmin/serplens/internal/config"
	"github.com/avkuzmin/serplens/internal/fetch"
	"github.com/avkuzmin/serplens/internal/gsc"
	"github.com/avkuzmin/serplens/internal/logging"
	"github.com/avkuzmin/serplens/internal/preload"
	"github.com/avkuzmin/serplens/internal/supervisor"
	"github.com/avkuzmin/serplens/internal/updater"
	ws "github.com/avkuzmin/serplens/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("api_url", cfg.API.BaseURL).
		Str("store_path", cfg.Cache.StorePath).
		Bool("preload", cfg.Preload.Enabled).
		Bool("admin_auth", cfg.Server.AuthEnabled()).
		Msg("Starting Serplens")

	// Badger backs the cache across restarts. A failure to open is not
	// fatal: the dashboard still works, just with a cold cache.
	var db *badger.DB
	if cfg.Cache.StorePath != "" {
		opts := badger.DefaultOptions(cfg.Cache.StorePath).WithLogger(nil)
		db, err = badger.Open(opts)
		if err != nil {
			logging.Warn().Err(err).Str("path", cfg.Cache.StorePath).
				Msg("Failed to open cache store, continuing without persistence")
			db = nil
		}
	}
	if db != nil {
		defer func() {
			if err := db.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing cache store")
			}
		}()
	}

	store := cache.New(cfg.Cache.TTL)
	if db != nil {
		store.EnablePersistence(db, cfg.Cache.MaxEntryBytes)
		if err := store.Restore(); err != nil {
			logging.Warn().Err(err).Msg("Cache restore failed, starting cold")
		} else {
			logging.Info().Int("entries", store.Len()).Msg("Cache restored")
		}
	}

	// The circuit breaker keeps a failing backend from being hammered;
	// while it is open the orchestrator's stale-cache fallback serves.
	client := gsc.NewCircuitBreakerClient(&cfg.API)
	if err := client.CheckAuth(context.Background()); err != nil {
		if errors.Is(err, gsc.ErrUnauthorized) {
			logging.Error().Msg("Backend rejected credentials, check METRICS_API_USERNAME/METRICS_API_PASSWORD")
		} else {
			logging.Warn().Err(err).Msg("Backend not reachable yet (will retry on demand)")
		}
	} else {
		logging.Info().Msg("Connected to metrics backend")
	}

	orchestrator := fetch.New(client, store, cfg.Fetch)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	hub := ws.NewHub()
	tree.AddSyncService(hub)

	poller := updater.New(client, cfg.Update)
	tree.AddSyncService(poller)

	coordinator := preload.New(orchestrator, store, cfg.Preload, hub)
	if cfg.Preload.Enabled {
		tree.AddSyncService(preload.NewService(coordinator))
	}

	if db != nil {
		tree.AddDataService(supervisor.NewPersisterService(store, cfg.Cache.PersistInterval))
	}

	handler := api.NewHandler(store, orchestrator, client, poller, coordinator, hub)
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handler, cfg.Server),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, supervisor.DefaultTreeConfig().ShutdownTimeout))

	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Serplens ready")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Supervisor tree failed")
	}
	logging.Info().Msg("Serplens stopped")
}
