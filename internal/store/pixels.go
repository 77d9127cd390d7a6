// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/signalweave/signalweave/internal/models"
)

// GetPixel fetches a pixel from the control plane by id.
func (s *Store) GetPixel(ctx context.Context, pixelID string) (*models.Pixel, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	var pixel models.Pixel
	err := s.controlDB().Collection(CollPixels).
		FindOne(opCtx, bson.M{"_id": pixelID}).
		Decode(&pixel)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pixel %s: %w", pixelID, err)
	}
	return &pixel, nil
}

// TouchPixelStats bumps the pixel's event counter and last-event timestamp.
// Callers treat failures as non-fatal; stats are advisory.
func (s *Store) TouchPixelStats(ctx context.Context, pixelID string, events int64, at time.Time) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.controlDB().Collection(CollPixels).UpdateOne(opCtx,
		bson.M{"_id": pixelID},
		bson.M{
			"$inc": bson.M{"event_count": events},
			"$max": bson.M{"last_event_at": at},
		},
	)
	if err != nil {
		return fmt.Errorf("touch pixel stats %s: %w", pixelID, err)
	}
	return nil
}

// GetTenant fetches a tenant from the control plane by id.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	var tenant models.Tenant
	err := s.controlDB().Collection(CollTenants).
		FindOne(opCtx, bson.M{"_id": tenantID}).
		Decode(&tenant)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	return &tenant, nil
}

// ListActiveTenants returns every active tenant in the control plane. The CDC
// sync uses this for its initial topology before switching to the tenant
// change stream.
func (s *Store) ListActiveTenants(ctx context.Context) ([]models.Tenant, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	cursor, err := s.controlDB().Collection(CollTenants).
		Find(opCtx, bson.M{"status": models.TenantStatusActive})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer cursor.Close(opCtx)

	var tenants []models.Tenant
	if err := cursor.All(opCtx, &tenants); err != nil {
		return nil, fmt.Errorf("decode tenants: %w", err)
	}
	return tenants, nil
}
