// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package warehouse maintains the DuckDB analytical store that the CDC sync
// replicates into. Writes are idempotent so change redelivery and tailer
// restarts are safe: events insert with conflict-ignore, visitors upsert with
// the same skip-empty merge rule the record store uses.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/signalweave/signalweave/internal/config"
	"github.com/signalweave/signalweave/internal/logging"
)

// Warehouse wraps the DuckDB connection pool.
type Warehouse struct {
	db           *sql.DB
	writeTimeout time.Duration
}

// Open opens (or creates) the DuckDB database and initializes the schema.
func Open(cfg config.WarehouseConfig) (*Warehouse, error) {
	connStr := fmt.Sprintf("%s?access_mode=read_write&autoinstall_known_extensions=false&autoload_known_extensions=false", cfg.Path)

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	w := &Warehouse{db: db, writeTimeout: writeTimeout}
	if err := w.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().Str("path", cfg.Path).Msg("Warehouse opened")
	return w, nil
}

// initSchema creates the analytical tables if missing. Idempotent.
func (w *Warehouse) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS visitors (
			id VARCHAR PRIMARY KEY,
			tenant_id VARCHAR NOT NULL,
			uuid VARCHAR,
			first_name VARCHAR,
			last_name VARCHAR,
			email VARCHAR,
			business_email VARCHAR,
			hem_sha256 VARCHAR,
			phone VARCHAR,
			company_name VARCHAR,
			company_domain VARCHAR,
			job_title VARCHAR,
			linkedin_url VARCHAR,
			city VARCHAR,
			region VARCHAR,
			country VARCHAR,
			ip_address VARCHAR,
			user_agent VARCHAR,
			event_count BIGINT NOT NULL DEFAULT 0,
			session_count BIGINT NOT NULL DEFAULT 0,
			first_seen_at TIMESTAMP,
			last_seen_at TIMESTAMP,
			identity_status VARCHAR,
			intent_score DOUBLE,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id VARCHAR PRIMARY KEY,
			tenant_id VARCHAR NOT NULL,
			pixel_id VARCHAR,
			visitor_id VARCHAR,
			event_type VARCHAR NOT NULL,
			url VARCHAR,
			referrer VARCHAR,
			time_on_page_sec INTEGER,
			scroll_depth INTEGER,
			element_id VARCHAR,
			element_text VARCHAR,
			metadata JSON,
			event_timestamp TIMESTAMP,
			created_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_visitors_tenant ON visitors (tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant_ts ON events (tenant_id, event_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_visitor ON events (visitor_id)`,
	}

	for _, stmt := range stmts {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// writeCtx bounds a warehouse write.
func (w *Warehouse) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, w.writeTimeout)
}

// Close closes the connection pool.
func (w *Warehouse) Close() error {
	return w.db.Close()
}
