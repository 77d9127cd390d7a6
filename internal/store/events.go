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

// InsertRawEvent appends an event to the tenant's raw_events collection.
func (s *Store) InsertRawEvent(ctx context.Context, tenantID string, event *models.RawEvent) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.tenantDB(tenantID).Collection(CollRawEvents).InsertOne(opCtx, event)
	if err != nil {
		return fmt.Errorf("insert raw event %s: %w", event.ID, err)
	}
	return nil
}

// GetRawEvent fetches a single event by id.
func (s *Store) GetRawEvent(ctx context.Context, tenantID, eventID string) (*models.RawEvent, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	var event models.RawEvent
	err := s.tenantDB(tenantID).Collection(CollRawEvents).
		FindOne(opCtx, bson.M{"_id": eventID}).
		Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get raw event %s: %w", eventID, err)
	}
	return &event, nil
}

// SetEventVisitor back-fills visitor_id on an event after resolution. The
// filter guards against rewrites: once set, an event's visitor assignment is
// final even if the event is redelivered.
func (s *Store) SetEventVisitor(ctx context.Context, tenantID, eventID, visitorID string) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.tenantDB(tenantID).Collection(CollRawEvents).UpdateOne(opCtx,
		bson.M{
			"_id": eventID,
			"$or": bson.A{
				bson.M{"visitor_id": bson.M{"$exists": false}},
				bson.M{"visitor_id": ""},
			},
		},
		bson.M{"$set": bson.M{"visitor_id": visitorID}},
	)
	if err != nil {
		return fmt.Errorf("set event visitor %s: %w", eventID, err)
	}
	return nil
}
