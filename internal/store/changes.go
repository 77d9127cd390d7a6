// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChangeDoc is one decoded change-stream notification. FullDocument carries
// the post-image for inserts, replaces and updates (via updateLookup).
type ChangeDoc struct {
	OperationType string   `bson:"operationType"`
	FullDocument  bson.Raw `bson:"fullDocument"`
	DocumentKey   struct {
		ID interface{} `bson:"_id"`
	} `bson:"documentKey"`
	ClusterTime interface{} `bson:"clusterTime"`
}

// WatchTenantCollection opens a change stream on one collection in a tenant's
// database. Updates are delivered with the full post-image so the warehouse
// can upsert whole rows. Pass a nil resumeToken to start from now.
func (s *Store) WatchTenantCollection(ctx context.Context, tenantID, collection string, resumeToken bson.Raw) (*mongo.ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if resumeToken != nil {
		opts.SetResumeAfter(resumeToken)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType": bson.M{"$in": bson.A{"insert", "update", "replace"}},
		}}},
	}

	stream, err := s.tenantDB(tenantID).Collection(collection).Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("watch %s/%s: %w", tenantID, collection, err)
	}
	return stream, nil
}

// WatchTenants opens a change stream on the control-plane tenants collection,
// used to discover tenants added or suspended while the CDC sync runs.
func (s *Store) WatchTenants(ctx context.Context) (*mongo.ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := s.controlDB().Collection(CollTenants).Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, fmt.Errorf("watch tenants: %w", err)
	}
	return stream, nil
}

// DeadLetter is a change record that exhausted its replication retries. Kept
// durably so an operator can replay it after fixing the warehouse.
type DeadLetter struct {
	ID         string    `bson:"_id"`
	TenantID   string    `bson:"tenant_id"`
	Collection string    `bson:"collection"`
	Document   bson.Raw  `bson:"document"`
	Error      string    `bson:"error"`
	Attempts   int       `bson:"attempts"`
	FailedAt   time.Time `bson:"failed_at"`
}

// InsertDeadLetter stores a failed change record in the control-plane
// dead-letter collection.
func (s *Store) InsertDeadLetter(ctx context.Context, dl *DeadLetter) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.controlDB().Collection(CollCDCDeadLetters).InsertOne(opCtx, dl)
	if err != nil {
		return fmt.Errorf("insert dead letter %s: %w", dl.ID, err)
	}
	return nil
}
