// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package models

import "time"

// Pixel statuses.
const (
	PixelStatusActive  = "active"
	PixelStatusPaused  = "paused"
	PixelStatusRevoked = "revoked"
)

// Pixel is the tracking snippet identity under which events are grouped and
// authenticated. The pixel ID doubles as its ingest key: callers must present
// a key equal to the pixel's record-store identifier.
type Pixel struct {
	ID       string `bson:"_id" json:"id"`
	TenantID string `bson:"tenant_id" json:"tenant_id"`
	Name     string `bson:"name,omitempty" json:"name,omitempty"`
	Domain   string `bson:"domain,omitempty" json:"domain,omitempty"`
	Status   string `bson:"status" json:"status"`

	// Aggregate stats, updated best-effort after each ingest.
	EventCount  int64      `bson:"event_count" json:"event_count"`
	LastEventAt *time.Time `bson:"last_event_at,omitempty" json:"last_event_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Active reports whether the pixel may accept events.
func (p *Pixel) Active() bool {
	return p.Status == PixelStatusActive
}

// Tenant statuses.
const (
	TenantStatusActive    = "active"
	TenantStatusSuspended = "suspended"
)

// Tenant is a customer workspace. Each tenant owns isolated events, visitors
// and resolution_log collections in the record store.
type Tenant struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Status    string    `bson:"status" json:"status"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
