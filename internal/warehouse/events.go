// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package warehouse

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/signalweave/signalweave/internal/metrics"
	"github.com/signalweave/signalweave/internal/models"
)

// InsertEvent replicates a raw event into the analytical store. Events are
// immutable, so conflict on id means the change was already applied and the
// insert is skipped.
func (w *Warehouse) InsertEvent(ctx context.Context, e *models.RawEvent) error {
	ctx, cancel := w.writeCtx(ctx)
	defer cancel()

	start := time.Now()
	err := w.insertEvent(ctx, e)
	metrics.RecordWarehouseWrite("events", time.Since(start), err)
	return err
}

func (w *Warehouse) insertEvent(ctx context.Context, e *models.RawEvent) error {
	metadata, err := encodeMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata for event %s: %w", e.ID, err)
	}

	_, err = w.db.ExecContext(ctx, `INSERT INTO events (
		id, tenant_id, pixel_id, visitor_id, event_type, url, referrer,
		time_on_page_sec, scroll_depth, element_id, element_text, metadata,
		event_timestamp, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING`,
		e.ID, e.TenantID, e.PixelID, e.VisitorID, e.EventType, e.URL, e.Referrer,
		e.TimeOnPageSec, e.ScrollDepth, e.ElementID, e.ElementText, metadata,
		e.EventTimestamp, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

// SetEventVisitor back-fills the visitor attribution on a replicated event.
// The update change arrives after the insert change once the resolver (or the
// gateway's synchronous merge) attributes the event.
func (w *Warehouse) SetEventVisitor(ctx context.Context, eventID, visitorID string) error {
	if visitorID == "" {
		return nil
	}
	ctx, cancel := w.writeCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := w.db.ExecContext(ctx,
		`UPDATE events SET visitor_id = ? WHERE id = ? AND (visitor_id IS NULL OR visitor_id = '')`,
		visitorID, eventID)
	metrics.RecordWarehouseWrite("events", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("set event visitor %s: %w", eventID, err)
	}
	return nil
}

// encodeMetadata serializes the free-form metadata map to the JSON column.
// Empty metadata stores NULL.
func encodeMetadata(metadata map[string]any) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
