// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package store implements the tenant-scoped record store on MongoDB. The
// control-plane database holds pixels and tenants; each tenant gets its own
// database (prefix + tenant id) holding raw_events, visitors and
// resolution_log. All operations take a context and are additionally bounded
// by the configured operation timeout.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/signalweave/signalweave/internal/config"
	"github.com/signalweave/signalweave/internal/logging"
)

// Collection names inside each tenant database.
const (
	CollRawEvents     = "raw_events"
	CollVisitors      = "visitors"
	CollResolutionLog = "resolution_log"
)

// Collection names inside the control-plane database.
const (
	CollPixels         = "pixels"
	CollTenants        = "tenants"
	CollCDCDeadLetters = "cdc_dead_letters"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("store: not found")

// IdxResolutionSourceEvent names the unique resolution_log index so callers
// can tell an already-resolved conflict apart from other unique violations.
const IdxResolutionSourceEvent = "uniq_source_event_id"

// Store wraps the MongoDB client with tenant database routing.
type Store struct {
	client *mongo.Client
	cfg    config.StoreConfig
}

// New connects to MongoDB and verifies the connection with a ping.
func New(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logging.Info().Str("database", cfg.Database).Msg("Connected to record store")

	return &Store{client: client, cfg: cfg}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// controlDB returns the control-plane database.
func (s *Store) controlDB() *mongo.Database {
	return s.client.Database(s.cfg.Database)
}

// tenantDB routes to the tenant's own database.
func (s *Store) tenantDB(tenantID string) *mongo.Database {
	return s.client.Database(s.cfg.TenantDBPrefix + tenantID)
}

// opCtx derives a context bounded by the configured operation timeout.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

// WithTransaction runs fn inside a MongoDB transaction. The session context
// passed to fn must be used for every operation that should join the
// transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(sessCtx mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		if err := fn(sessCtx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// RunTransaction runs fn inside a transaction, exposing the session as a
// plain context so callers need no Mongo types. mongo.SessionContext satisfies
// context.Context, and the driver recovers the session from context values.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx)
	})
}

// EnsureTenantIndexes creates the indexes every tenant database relies on.
// Safe to call repeatedly; Mongo treats existing identical indexes as no-ops.
func (s *Store) EnsureTenantIndexes(ctx context.Context, tenantID string) error {
	db := s.tenantDB(tenantID)

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Identity key indexes are sparse: profiles without a given key store no
	// field at all (omitempty), and a non-sparse unique index would treat every
	// absent field as the same null. Unique uuid/hem/email indexes also arbitrate
	// concurrent first-touch creates for the same identity.
	visitorIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "uuid", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "hem_sha256", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "business_email", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "phone_digits", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "ip_address", Value: 1}, {Key: "last_seen_at", Value: -1}}},
	}
	if _, err := db.Collection(CollVisitors).Indexes().CreateMany(opCtx, visitorIndexes); err != nil {
		return fmt.Errorf("create visitor indexes: %w", err)
	}

	eventIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "visitor_id", Value: 1}, {Key: "event_timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "event_timestamp", Value: -1}}},
	}
	if _, err := db.Collection(CollRawEvents).Indexes().CreateMany(opCtx, eventIndexes); err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}

	// The unique source_event_id index is the durable idempotency backstop:
	// a redelivered event can never produce a second resolution.
	resolutionIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "source_event_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName(IdxResolutionSourceEvent)},
		{Keys: bson.D{{Key: "visitor_id", Value: 1}, {Key: "matched_at", Value: -1}}},
	}
	if _, err := db.Collection(CollResolutionLog).Indexes().CreateMany(opCtx, resolutionIndexes); err != nil {
		return fmt.Errorf("create resolution indexes: %w", err)
	}

	return nil
}

// IsDuplicateKeyError reports whether err is a unique index violation.
func IsDuplicateKeyError(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// IsDuplicateKeyOnIndex reports whether err is a unique violation of the named
// index. The E11000 message is the only place the driver surfaces the index
// name.
func IsDuplicateKeyOnIndex(err error, index string) bool {
	return mongo.IsDuplicateKeyError(err) && strings.Contains(err.Error(), "index: "+index)
}
