// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package cdc

import (
	"context"
	"fmt"
	"sync"

	"github.com/thejerf/suture/v4"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/signalweave/signalweave/internal/logging"
	"github.com/signalweave/signalweave/internal/models"
	"github.com/signalweave/signalweave/internal/store"
)

// tailedCollections lists the tenant collections replicated to the warehouse.
var tailedCollections = []string{store.CollVisitors, store.CollRawEvents}

// TenantSource provides the control-plane tenant topology.
type TenantSource interface {
	ListActiveTenants(ctx context.Context) ([]models.Tenant, error)
	WatchTenants(ctx context.Context) (ChangeCursor, error)
}

func (s *storeSource) ListActiveTenants(ctx context.Context) ([]models.Tenant, error) {
	return s.store.ListActiveTenants(ctx)
}

func (s *storeSource) WatchTenants(ctx context.Context) (ChangeCursor, error) {
	return s.store.WatchTenants(ctx)
}

// TailerSupervisor is the subset of *suture.Supervisor the watcher uses to
// manage tailers at runtime.
type TailerSupervisor interface {
	Add(service suture.Service) suture.ServiceToken
	Remove(token suture.ServiceToken) error
}

// Watcher keeps the set of running tailers in sync with the control plane.
// On start it enumerates active tenants, then follows the tenants change
// stream: activated tenants get tailers attached, suspended or deleted tenants
// get theirs removed. No process restart is needed for topology changes.
type Watcher struct {
	tenants TenantSource
	source  ChangeSource
	pool    *Pool
	sup     TailerSupervisor

	mu       sync.Mutex
	attached map[string][]suture.ServiceToken
}

// NewWatcher builds the tenant topology watcher. The supervisor receives one
// tailer per tenant collection.
func NewWatcher(tenants TenantSource, source ChangeSource, pool *Pool, sup TailerSupervisor) *Watcher {
	return &Watcher{
		tenants:  tenants,
		source:   source,
		pool:     pool,
		sup:      sup,
		attached: map[string][]suture.ServiceToken{},
	}
}

// Serve implements suture.Service. Attached tailers survive watcher restarts;
// only the topology stream is re-opened.
func (w *Watcher) Serve(ctx context.Context) error {
	active, err := w.tenants.ListActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("enumerate tenants: %w", err)
	}
	for _, tenant := range active {
		w.attach(tenant.ID)
	}

	cursor, err := w.tenants.WatchTenants(ctx)
	if err != nil {
		return fmt.Errorf("watch tenants: %w", err)
	}
	defer func() {
		_ = cursor.Close(context.Background())
	}()

	for cursor.Next(ctx) {
		var doc store.ChangeDoc
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("decode tenant change: %w", err)
		}
		w.applyTenantChange(doc)
	}

	if err := cursor.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tenant stream: %w", err)
	}
	return ctx.Err()
}

// String names the service in supervisor logs.
func (w *Watcher) String() string {
	return "cdc-tenant-watcher"
}

func (w *Watcher) applyTenantChange(doc store.ChangeDoc) {
	if doc.OperationType == "delete" {
		if id, ok := doc.DocumentKey.ID.(string); ok {
			w.detach(id)
		}
		return
	}

	var tenant models.Tenant
	if err := bson.Unmarshal(doc.FullDocument, &tenant); err != nil {
		logging.Warn().Err(err).Msg("Undecodable tenant change, skipping")
		return
	}
	if tenant.Status == models.TenantStatusActive {
		w.attach(tenant.ID)
	} else {
		w.detach(tenant.ID)
	}
}

// attach starts tailers for a tenant. Idempotent.
func (w *Watcher) attach(tenantID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.attached[tenantID]; ok {
		return
	}

	tokens := make([]suture.ServiceToken, 0, len(tailedCollections))
	for _, collection := range tailedCollections {
		tokens = append(tokens, w.sup.Add(NewTailer(w.source, w.pool, tenantID, collection)))
	}
	w.attached[tenantID] = tokens
	logging.Info().Str("tenant_id", tenantID).Msg("Tenant tailers attached")
}

// detach stops a tenant's tailers. Idempotent.
func (w *Watcher) detach(tenantID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tokens, ok := w.attached[tenantID]
	if !ok {
		return
	}
	delete(w.attached, tenantID)

	for _, token := range tokens {
		if err := w.sup.Remove(token); err != nil {
			logging.Warn().Err(err).Str("tenant_id", tenantID).Msg("Tailer removal failed")
		}
	}
	logging.Info().Str("tenant_id", tenantID).Msg("Tenant tailers detached")
}
