// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package cdc

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/signalweave/signalweave/internal/logging"
	"github.com/signalweave/signalweave/internal/metrics"
	"github.com/signalweave/signalweave/internal/store"
)

// ChangeSource opens change streams on tenant collections.
type ChangeSource interface {
	WatchTenantCollection(ctx context.Context, tenantID, collection string, resumeToken bson.Raw) (ChangeCursor, error)
}

// ChangeCursor is the cursor surface the tailer consumes, satisfied by
// *mongo.ChangeStream.
type ChangeCursor interface {
	Next(ctx context.Context) bool
	Decode(v interface{}) error
	ResumeToken() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// Source combines tenant topology and change-stream access.
type Source interface {
	ChangeSource
	TenantSource
}

// storeSource adapts *store.Store to Source.
type storeSource struct {
	store *store.Store
}

// NewSource wraps the record store for tailer and watcher consumption.
func NewSource(s *store.Store) Source {
	return &storeSource{store: s}
}

func (s *storeSource) WatchTenantCollection(ctx context.Context, tenantID, collection string, resumeToken bson.Raw) (ChangeCursor, error) {
	return s.store.WatchTenantCollection(ctx, tenantID, collection, resumeToken)
}

// Tailer follows one collection in one tenant database and feeds every change
// into the applier pool. It runs as a suture service: a dropped stream returns
// an error, the supervisor restarts the tailer, and the saved resume token
// continues from the last delivered change instead of re-reading history.
type Tailer struct {
	source     ChangeSource
	pool       *Pool
	tenantID   string
	collection string

	mu          sync.Mutex
	resumeToken bson.Raw
}

// NewTailer builds a tailer for one tenant collection.
func NewTailer(source ChangeSource, pool *Pool, tenantID, collection string) *Tailer {
	return &Tailer{
		source:     source,
		pool:       pool,
		tenantID:   tenantID,
		collection: collection,
	}
}

// Serve implements suture.Service.
func (t *Tailer) Serve(ctx context.Context) error {
	cursor, err := t.source.WatchTenantCollection(ctx, t.tenantID, t.collection, t.token())
	if err != nil {
		return err
	}
	defer func() {
		_ = cursor.Close(context.Background())
	}()

	metrics.CDCTailersActive.Inc()
	defer metrics.CDCTailersActive.Dec()
	logging.Info().
		Str("tenant_id", t.tenantID).
		Str("collection", t.collection).
		Bool("resuming", t.token() != nil).
		Msg("Change stream tailer started")

	for cursor.Next(ctx) {
		var doc store.ChangeDoc
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("decode change on %s/%s: %w", t.tenantID, t.collection, err)
		}

		err := t.pool.Enqueue(ctx, Change{
			TenantID:   t.tenantID,
			Collection: t.collection,
			Operation:  doc.OperationType,
			Document:   doc.FullDocument,
		})
		if err != nil {
			return err
		}
		// Advance only after the pool accepted the change; a restart replays
		// from the last enqueued change, never past it.
		t.setToken(cursor.ResumeToken())
	}

	if err := cursor.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("change stream %s/%s: %w", t.tenantID, t.collection, err)
	}
	return ctx.Err()
}

// String names the service in supervisor logs.
func (t *Tailer) String() string {
	return fmt.Sprintf("cdc-tailer-%s-%s", t.tenantID, t.collection)
}

func (t *Tailer) token() bson.Raw {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumeToken
}

func (t *Tailer) setToken(token bson.Raw) {
	t.mu.Lock()
	t.resumeToken = token
	t.mu.Unlock()
}
