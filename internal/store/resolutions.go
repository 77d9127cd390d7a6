// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/signalweave/signalweave/internal/models"
)

// InsertResolutionLog appends a resolution audit entry. The unique index on
// source_event_id makes this the durable idempotency gate: a redelivered
// event fails here with a duplicate key error, which callers detect via
// IsDuplicateKeyError.
func (s *Store) InsertResolutionLog(ctx context.Context, tenantID string, entry *models.ResolutionLogEntry) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.tenantDB(tenantID).Collection(CollResolutionLog).InsertOne(opCtx, entry)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return err
		}
		return fmt.Errorf("insert resolution log %s: %w", entry.ID, err)
	}
	return nil
}

// FindResolutionBySourceEvent returns the resolution previously recorded for
// an event, or ErrNotFound.
func (s *Store) FindResolutionBySourceEvent(ctx context.Context, tenantID, eventID string) (*models.ResolutionLogEntry, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	var entry models.ResolutionLogEntry
	err := s.tenantDB(tenantID).Collection(CollResolutionLog).
		FindOne(opCtx, bson.M{"source_event_id": eventID}).
		Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find resolution for event %s: %w", eventID, err)
	}
	return &entry, nil
}
