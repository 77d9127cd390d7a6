// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package main is the waterfall identity resolver process.
//
// The resolver consumes the raw-events stream through a durable queue group,
// attributes every event to exactly one visitor, writes the resolution audit
// log, and announces matches on identity-updates. Multiple replicas scale
// horizontally; idempotency keeps redelivery and replica overlap safe.
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
	"github.com/signalweave/signalweave/internal/config"
	"github.com/signalweave/signalweave/internal/eventbus"
	"github.com/signalweave/signalweave/internal/logging"
	"github.com/signalweave/signalweave/internal/resolver"
	"github.com/signalweave/signalweave/internal/store"
	"github.com/signalweave/signalweave/internal/supervisor"
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
	logging.Info().Msg("Signalweave resolver starting")

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

	streams, conn, err := eventbus.NewStreamInitializer(cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Bus connection failed")
	}
	defer conn.Close()
	if err := streams.EnsureStreams(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Stream provisioning failed")
	}

	publisher, err := eventbus.NewPublisher(cfg.NATS, eventbus.NewLoggerAdapter())
	if err != nil {
		logging.Fatal().Err(err).Msg("Publisher setup failed")
	}
	defer func() {
		_ = publisher.Close()
	}()

	ledger, err := resolver.OpenBadgerLedger(cfg.Resolver.LedgerPath, cfg.Resolver.LedgerTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Idempotency ledger open failed")
	}
	defer func() {
		_ = ledger.Close()
	}()
	go ledger.RunGC(ctx, 10*time.Minute)

	processor := resolver.NewProcessor(records, ledger, publisher, cfg.Resolver.SessionWindow)
	service, err := resolver.NewService(cfg.NATS, processor, publisher.WatermillPublisher(), eventbus.NewLoggerAdapter())
	if err != nil {
		logging.Fatal().Err(err).Msg("Resolver service setup failed")
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(service)
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
	logging.Info().Msg("Signalweave resolver stopped")
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
