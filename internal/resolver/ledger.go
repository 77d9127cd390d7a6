// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Ledger remembers which event ids this resolver has fully processed. It is a
// fast-path filter for redeliveries; the resolution log's unique index remains
// the durable backstop, so losing the ledger costs performance, not
// correctness.
type Ledger interface {
	// Seen reports whether the event id was already processed.
	Seen(ctx context.Context, eventID string) (bool, error)

	// Mark records the event id as processed.
	Mark(ctx context.Context, eventID string) error

	Close() error
}

// BadgerLedger is the production ledger, persisted so restarts don't forget
// recent work. Entries expire via Badger TTL.
type BadgerLedger struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadgerLedger opens (or creates) the ledger database at path.
func OpenBadgerLedger(path string, ttl time.Duration) (*BadgerLedger, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger at %s: %w", path, err)
	}
	return &BadgerLedger{db: db, ttl: ttl}, nil
}

func (l *BadgerLedger) key(eventID string) []byte {
	return []byte("evt:" + eventID)
}

// Seen reports whether the event id is present and unexpired.
func (l *BadgerLedger) Seen(_ context.Context, eventID string) (bool, error) {
	var seen bool
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(l.key(eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		seen = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ledger read %s: %w", eventID, err)
	}
	return seen, nil
}

// Mark stores the event id with the configured TTL.
func (l *BadgerLedger) Mark(_ context.Context, eventID string) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(l.key(eventID), nil).WithTTL(l.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("ledger write %s: %w", eventID, err)
	}
	return nil
}

// RunGC runs Badger value-log garbage collection until the context ends.
func (l *BadgerLedger) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			_ = l.db.RunValueLogGC(0.5)
		}
	}
}

// Close closes the underlying database.
func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

// MemoryLedger is an in-memory Ledger for tests.
type MemoryLedger struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]struct{})}
}

func (l *MemoryLedger) Seen(_ context.Context, eventID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[eventID]
	return ok, nil
}

func (l *MemoryLedger) Mark(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[eventID] = struct{}{}
	return nil
}

func (l *MemoryLedger) Close() error {
	return nil
}
