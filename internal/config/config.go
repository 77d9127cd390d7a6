// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package config loads and validates configuration for all Signalweave
// processes. Configuration is layered via Koanf v2: built-in defaults, then an
// optional YAML file, then environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration shared by the gateway, resolver and
// cdcsync binaries. Each binary reads only the sections it needs.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Admin     AdminConfig     `koanf:"admin"`
	Store     StoreConfig     `koanf:"store"`
	NATS      NATSConfig      `koanf:"nats"`
	Warehouse WarehouseConfig `koanf:"warehouse"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Resolver  ResolverConfig  `koanf:"resolver"`
	CDC       CDCConfig       `koanf:"cdc"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the gateway HTTP listener.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// AdminConfig configures the small metrics/health listener that the resolver
// and cdcsync processes expose (the gateway serves /metrics on its main port).
type AdminConfig struct {
	Port int `koanf:"port"`
}

// StoreConfig configures the tenant-scoped record store (MongoDB).
type StoreConfig struct {
	URI string `koanf:"uri"`

	// Database is the control-plane database holding pixels and tenants.
	Database string `koanf:"database"`

	// TenantDBPrefix prefixes each tenant's database name (prefix + tenant id).
	TenantDBPrefix string `koanf:"tenant_db_prefix"`

	// OperationTimeout bounds every individual store operation. Matcher and
	// merge queries inherit this deadline.
	OperationTimeout time.Duration `koanf:"operation_timeout"`
}

// NATSConfig configures the message bus and the resolver's consumer router.
type NATSConfig struct {
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`

	MaxReconnects   int           `koanf:"max_reconnects"`
	ReconnectWait   time.Duration `koanf:"reconnect_wait"`
	ReconnectBuffer int           `koanf:"reconnect_buffer"`

	StreamRetentionDays int `koanf:"stream_retention_days"`

	// Consumer settings.
	SubscribersCount int           `koanf:"subscribers_count"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
	MaxDeliver       int           `koanf:"max_deliver"`
	MaxAckPending    int           `koanf:"max_ack_pending"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`

	// Router middleware settings (Watermill).
	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterRetryMaxInterval     time.Duration `koanf:"router_retry_max_interval"`
	RouterPoisonTopic          string        `koanf:"router_poison_topic"`
}

// WarehouseConfig configures the DuckDB analytical store.
type WarehouseConfig struct {
	Path         string        `koanf:"path"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// IngestConfig configures batch limits and abuse protection on the ingest
// endpoint.
type IngestConfig struct {
	MaxBatchSize    int           `koanf:"max_batch_size"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// ResolverConfig configures the waterfall identity resolver.
type ResolverConfig struct {
	// LedgerPath is the on-disk Badger database backing the per-event
	// idempotency ledger.
	LedgerPath string `koanf:"ledger_path"`

	// LedgerTTL bounds how long processed event ids are remembered. The
	// resolution log's unique index remains the durable backstop.
	LedgerTTL time.Duration `koanf:"ledger_ttl"`

	// SessionWindow is the eligibility window for the ip/user-agent matcher.
	SessionWindow time.Duration `koanf:"session_window"`
}

// CDCConfig configures the change-data-capture sync.
type CDCConfig struct {
	// Workers is the number of concurrent appliers draining the change queue.
	Workers int `koanf:"workers"`

	// QueueSize bounds the change queue. Enqueueing blocks when full, which
	// backpressures the change-stream tailers instead of exhausting the
	// warehouse connection pool.
	QueueSize int `koanf:"queue_size"`

	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
}

// LoggingConfig configures the shared zerolog setup.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Admin.Port != 0 && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return fmt.Errorf("admin.port must be between 1 and 65535, got %d", c.Admin.Port)
	}
	if c.Store.URI == "" {
		return fmt.Errorf("store.uri is required")
	}
	if c.Store.Database == "" {
		return fmt.Errorf("store.database is required")
	}
	if c.Store.OperationTimeout <= 0 {
		return fmt.Errorf("store.operation_timeout must be positive")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Warehouse.Path == "" {
		return fmt.Errorf("warehouse.path is required")
	}
	if c.Warehouse.MaxOpenConns < 1 {
		return fmt.Errorf("warehouse.max_open_conns must be at least 1")
	}
	if c.Ingest.MaxBatchSize < 1 || c.Ingest.MaxBatchSize > 100 {
		return fmt.Errorf("ingest.max_batch_size must be between 1 and 100, got %d", c.Ingest.MaxBatchSize)
	}
	if c.Resolver.SessionWindow <= 0 {
		return fmt.Errorf("resolver.session_window must be positive")
	}
	if c.CDC.Workers < 1 {
		return fmt.Errorf("cdc.workers must be at least 1")
	}
	if c.CDC.QueueSize < 1 {
		return fmt.Errorf("cdc.queue_size must be at least 1")
	}
	return nil
}
