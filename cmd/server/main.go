// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package main is the ingestion gateway process.
//
// The gateway authenticates pixel batches, persists raw events, runs the
// synchronous coalesce merge, and publishes every accepted event to the
// raw-events stream for the resolver. With NATS_EMBEDDED_SERVER=true it runs
// its own JetStream broker for standalone deployments.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalweave/signalweave/internal/api"
	"github.com/signalweave/signalweave/internal/config"
	"github.com/signalweave/signalweave/internal/eventbus"
	"github.com/signalweave/signalweave/internal/identity"
	"github.com/signalweave/signalweave/internal/logging"
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
	logging.Info().Msg("Signalweave gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.NATS.EmbeddedServer {
		broker, err := eventbus.NewEmbeddedServer(cfg.NATS)
		if err != nil {
			logging.Fatal().Err(err).Msg("Embedded broker start failed")
		}
		defer broker.Shutdown()
		cfg.NATS.URL = broker.ClientURL()
		logging.Info().Str("url", cfg.NATS.URL).Msg("Embedded broker running")
	}

	records, err := store.New(ctx, cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Record store connection failed")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = records.Close(closeCtx)
	}()

	tenants, err := records.ListActiveTenants(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("Tenant enumeration failed")
	}
	for _, tenant := range tenants {
		if err := records.EnsureTenantIndexes(ctx, tenant.ID); err != nil {
			logging.Fatal().Err(err).Str("tenant_id", tenant.ID).Msg("Index provisioning failed")
		}
	}

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

	coalescer := identity.NewCoalescer(records, cfg.Resolver.SessionWindow)
	handler := api.NewHandler(records, records, coalescer, publisher, cfg.Ingest)
	router := api.NewRouter(handler, cfg.Ingest)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddAPIService(api.NewServer(cfg.Server, router.Setup()))

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor exited")
	}
	logging.Info().Msg("Signalweave gateway stopped")
}
