// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/signalweave/config.yaml",
	"/etc/signalweave/config.yml",
}

// ConfigPathEnvVar is the environment variable that overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all sensible default values. Defaults
// are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8470,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Admin: AdminConfig{
			Port: 9470,
		},
		Store: StoreConfig{
			URI:              "mongodb://127.0.0.1:27017",
			Database:         "signalweave",
			TenantDBPrefix:   "tenant_",
			OperationTimeout: 5 * time.Second,
		},
		NATS: NATSConfig{
			URL:                 "nats://127.0.0.1:4222",
			EmbeddedServer:      false,
			StoreDir:            "/data/nats/jetstream",
			MaxReconnects:       -1, // Retry forever
			ReconnectWait:       2 * time.Second,
			ReconnectBuffer:     8 * 1024 * 1024,
			StreamRetentionDays: 7,
			SubscribersCount:    4,
			DurableName:         "identity-resolver",
			QueueGroup:          "resolvers",
			AckWaitTimeout:      30 * time.Second,
			MaxDeliver:          5,
			MaxAckPending:       1024,
			CloseTimeout:        30 * time.Second,

			RouterRetryCount:           3,
			RouterRetryInitialInterval: 100 * time.Millisecond,
			RouterRetryMaxInterval:     10 * time.Second,
			RouterPoisonTopic:          "raw-events.poison",
		},
		Warehouse: WarehouseConfig{
			Path:         "/data/signalweave.duckdb",
			MaxOpenConns: 4,
			WriteTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{
			MaxBatchSize:    100,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Resolver: ResolverConfig{
			LedgerPath:    "/data/resolver-ledger",
			LedgerTTL:     24 * time.Hour,
			SessionWindow: 30 * time.Minute,
		},
		CDC: CDCConfig{
			Workers:       4,
			QueueSize:     1024,
			RetryAttempts: 5,
			RetryDelay:    2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// MONGO_URI -> store.uri, NATS_URL -> nats.url, ...
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied through environment variables.
var sliceConfigPaths = []string{
	"ingest.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars arrive as strings but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps flat environment variable names to nested config paths.
// Variables not present in the table are ignored, so unrelated environment
// noise cannot leak into the configuration.
var envMappings = map[string]string{
	"http_host":   "server.host",
	"http_port":   "server.port",
	"environment": "server.environment",
	"admin_port":  "admin.port",

	"mongo_uri":               "store.uri",
	"mongo_database":          "store.database",
	"mongo_tenant_db_prefix":  "store.tenant_db_prefix",
	"store_operation_timeout": "store.operation_timeout",

	"nats_url":               "nats.url",
	"nats_embedded_server":   "nats.embedded_server",
	"nats_store_dir":         "nats.store_dir",
	"nats_subscribers_count": "nats.subscribers_count",
	"nats_durable_name":      "nats.durable_name",
	"nats_queue_group":       "nats.queue_group",
	"nats_max_deliver":       "nats.max_deliver",
	"nats_poison_topic":      "nats.router_poison_topic",

	"duckdb_path":           "warehouse.path",
	"duckdb_max_open_conns": "warehouse.max_open_conns",

	"ingest_max_batch_size":    "ingest.max_batch_size",
	"ingest_rate_limit_reqs":   "ingest.rate_limit_reqs",
	"ingest_rate_limit_window": "ingest.rate_limit_window",
	"ingest_cors_origins":      "ingest.cors_origins",

	"resolver_ledger_path":    "resolver.ledger_path",
	"resolver_ledger_ttl":     "resolver.ledger_ttl",
	"resolver_session_window": "resolver.session_window",

	"cdc_workers":        "cdc.workers",
	"cdc_queue_size":     "cdc.queue_size",
	"cdc_retry_attempts": "cdc.retry_attempts",
	"cdc_retry_delay":    "cdc.retry_delay",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config
// paths via the mapping table. Unknown variables map to the empty string and
// are dropped by koanf.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
