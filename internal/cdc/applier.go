// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package cdc replicates the record store into the DuckDB warehouse by tailing
// MongoDB change streams. Tenant topology is dynamic: tailers attach and detach
// as tenants are activated or suspended, without a process restart.
package cdc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/signalweave/signalweave/internal/config"
	"github.com/signalweave/signalweave/internal/logging"
	"github.com/signalweave/signalweave/internal/metrics"
	"github.com/signalweave/signalweave/internal/models"
	"github.com/signalweave/signalweave/internal/store"
)

// Change is one replication unit handed from a tailer to the worker pool.
type Change struct {
	TenantID   string
	Collection string
	Operation  string
	Document   bson.Raw
}

// Target is the warehouse surface the appliers write to.
type Target interface {
	UpsertVisitor(ctx context.Context, v *models.Visitor) error
	InsertEvent(ctx context.Context, e *models.RawEvent) error
	SetEventVisitor(ctx context.Context, eventID, visitorID string) error
}

// DeadLetterStore persists changes that exhausted their retries.
type DeadLetterStore interface {
	InsertDeadLetter(ctx context.Context, dl *store.DeadLetter) error
}

// Pool is the bounded worker pool draining the change queue. Enqueueing blocks
// when the queue is full, which backpressures the tailers instead of letting
// an unbounded backlog exhaust the warehouse connection pool.
type Pool struct {
	target      Target
	deadLetters DeadLetterStore
	queue       chan Change

	workers       int
	retryAttempts int
	retryDelay    time.Duration
}

// NewPool builds the applier pool from the CDC configuration.
func NewPool(cfg config.CDCConfig, target Target, deadLetters DeadLetterStore) *Pool {
	return &Pool{
		target:        target,
		deadLetters:   deadLetters,
		queue:         make(chan Change, cfg.QueueSize),
		workers:       cfg.Workers,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
	}
}

// Enqueue hands a change to the pool, blocking while the queue is full.
func (p *Pool) Enqueue(ctx context.Context, c Change) error {
	select {
	case p.queue <- c:
		metrics.CDCQueueDepth.Set(float64(len(p.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve implements suture.Service: runs the workers until the context is
// canceled. In-flight changes finish; queued changes are redelivered by the
// change streams after restart, and the warehouse writes are idempotent.
func (p *Pool) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// String names the service in supervisor logs.
func (p *Pool) String() string {
	return "cdc-applier-pool"
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-p.queue:
			metrics.CDCQueueDepth.Set(float64(len(p.queue)))
			p.process(ctx, c)
		}
	}
}

// process applies one change with bounded retries, then dead-letters it.
func (p *Pool) process(ctx context.Context, c Change) {
	var err error
	for attempt := 1; attempt <= p.retryAttempts; attempt++ {
		if err = p.apply(ctx, c); err == nil {
			metrics.RecordCDCApplied(c.Collection)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt < p.retryAttempts {
			metrics.CDCRetriesTotal.Inc()
			logging.Warn().Err(err).
				Str("tenant_id", c.TenantID).
				Str("collection", c.Collection).
				Int("attempt", attempt).
				Msg("Change apply failed, retrying")
			select {
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return
			}
		}
	}

	metrics.CDCDeadLettersTotal.Inc()
	logging.Error().Err(err).
		Str("tenant_id", c.TenantID).
		Str("collection", c.Collection).
		Msg("Change exhausted retries, dead-lettering")

	dl := &store.DeadLetter{
		ID:         uuid.NewString(),
		TenantID:   c.TenantID,
		Collection: c.Collection,
		Document:   c.Document,
		Error:      err.Error(),
		Attempts:   p.retryAttempts,
		FailedAt:   time.Now().UTC(),
	}
	if dlErr := p.deadLetters.InsertDeadLetter(ctx, dl); dlErr != nil {
		// Both the warehouse and the record store are failing; the change is
		// lost to this process but remains replayable from the oplog.
		logging.Error().Err(dlErr).
			Str("tenant_id", c.TenantID).
			Str("collection", c.Collection).
			Msg("Dead letter write failed")
	}
}

// apply decodes the post-image and routes it to the matching warehouse writer.
func (p *Pool) apply(ctx context.Context, c Change) error {
	switch c.Collection {
	case store.CollVisitors:
		var v models.Visitor
		if err := bson.Unmarshal(c.Document, &v); err != nil {
			return fmt.Errorf("decode visitor change: %w", err)
		}
		return p.target.UpsertVisitor(ctx, &v)

	case store.CollRawEvents:
		var e models.RawEvent
		if err := bson.Unmarshal(c.Document, &e); err != nil {
			return fmt.Errorf("decode event change: %w", err)
		}
		// Insert is a no-op when the row exists, so an attribution update
		// replays safely as insert-then-backfill.
		if err := p.target.InsertEvent(ctx, &e); err != nil {
			return err
		}
		if e.VisitorID != "" {
			return p.target.SetEventVisitor(ctx, e.ID, e.VisitorID)
		}
		return nil

	default:
		return fmt.Errorf("unknown collection %q", c.Collection)
	}
}
