// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package main is the change-data-capture sync process.
//
// It tails the per-tenant visitors and events change streams and replicates
// them into the DuckDB analytical store through a bounded applier pool.
// Tenant topology is dynamic: the watcher attaches and detaches tailers as
// tenants are activated or suspended.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalweave/signalweave/internal/api"
	"github.com/signalweave/signalweave/internal/cdc"
	"github.com/signalweave/signalweave/internal/config"
	"github.com/signalweave/signalweave/internal/logging"
	"github.com/signalweave/signalweave/internal/store"
	"github.com/signalweave/signalweave/internal/supervisor"
	"github.com/signalweave/signalweave/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Configuration load failed")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().Msg("Signalweave CDC sync starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := store.New(ctx, cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Record store connection failed")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = records.Close(closeCtx)
	}()

	wh, err := warehouse.Open(cfg.Warehouse)
	if err != nil {
		logging.Fatal().Err(err).Msg("Warehouse open failed")
	}
	defer func() {
		_ = wh.Close()
	}()

	pool := cdc.NewPool(cfg.CDC, wh, records)
	source := cdc.NewSource(records)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(pool)
	tree.AddDataService(cdc.NewWatcher(source, source, pool, tree.Data()))
	if cfg.Admin.Port > 0 {
		tree.AddAPIService(api.NewServer(config.ServerConfig{
			Host:    cfg.Server.Host,
			Port:    cfg.Admin.Port,
			Timeout: cfg.Server.Timeout,
		}, adminMux()))
	}

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor exited")
	}
	logging.Info().Msg("Signalweave CDC sync stopped")
}

// adminMux serves metrics and liveness on the admin port.
func adminMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
