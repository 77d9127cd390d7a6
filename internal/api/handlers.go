// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package api implements the ingestion gateway HTTP surface: the authenticated
// batch ingest endpoint, health, and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/signalweave/signalweave/internal/config"
	"github.com/signalweave/signalweave/internal/eventbus"
	"github.com/signalweave/signalweave/internal/identity"
	"github.com/signalweave/signalweave/internal/logging"
	"github.com/signalweave/signalweave/internal/metrics"
	"github.com/signalweave/signalweave/internal/models"
	"github.com/signalweave/signalweave/internal/store"
	"github.com/signalweave/signalweave/internal/validation"
)

// ControlStore is the pixel/tenant control-plane surface the gateway reads.
type ControlStore interface {
	GetPixel(ctx context.Context, pixelID string) (*models.Pixel, error)
	TouchPixelStats(ctx context.Context, pixelID string, events int64, at time.Time) error
}

// EventStore persists raw events in the tenant record store.
type EventStore interface {
	InsertRawEvent(ctx context.Context, tenantID string, event *models.RawEvent) error
	SetEventVisitor(ctx context.Context, tenantID, eventID, visitorID string) error
}

// Merger is the synchronous coalesce upsert engine.
type Merger interface {
	Upsert(ctx context.Context, tenantID string, sig *models.ResolutionData, seenAt time.Time) (identity.Result, error)
}

// EventPublisher hands accepted events to the message bus.
type EventPublisher interface {
	PublishEvent(ctx context.Context, m *eventbus.EventMessage) error
}

// Handler carries the gateway's dependencies.
type Handler struct {
	control   ControlStore
	events    EventStore
	merger    Merger
	publisher EventPublisher
	cfg       config.IngestConfig
}

// NewHandler wires the gateway handler.
func NewHandler(control ControlStore, events EventStore, merger Merger, publisher EventPublisher, cfg config.IngestConfig) *Handler {
	return &Handler{
		control:   control,
		events:    events,
		merger:    merger,
		publisher: publisher,
		cfg:       cfg,
	}
}

// ingestEvent is one event in an ingest batch.
type ingestEvent struct {
	Type          string                 `json:"type" validate:"required,event_type"`
	URL           string                 `json:"url" validate:"required,url,max=2048"`
	Referrer      string                 `json:"referrer,omitempty" validate:"omitempty,max=2048"`
	TimeOnPageSec int                    `json:"time_on_page_sec,omitempty" validate:"gte=0"`
	ScrollDepth   int                    `json:"scroll_depth,omitempty" validate:"gte=0,lte=100"`
	ElementID     string                 `json:"element_id,omitempty" validate:"omitempty,max=256"`
	ElementText   string                 `json:"element_text,omitempty" validate:"omitempty,max=1024"`
	Metadata      map[string]any         `json:"metadata,omitempty"`
	Resolution    *models.ResolutionData `json:"resolution,omitempty"`
	Timestamp     time.Time              `json:"timestamp,omitempty"`
}

type ingestRequest struct {
	Events []ingestEvent `json:"events"`
}

// ingestError attributes one failed event by its batch index.
type ingestError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type ingestResponse struct {
	Processed int           `json:"processed"`
	Errors    []ingestError `json:"errors,omitempty"`
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ingest accepts a batch of events for one pixel.
//
// The batch envelope (key, pixel, JSON shape, batch size) fails as a whole;
// individual events fail independently inside the loop and are reported by
// index, so one bad event never discards its siblings.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pixelID := chi.URLParam(r, "pixelID")

	pixel, ok := h.authenticate(w, r, pixelID)
	if !ok {
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordBatchRejection("validation")
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "request body is not valid JSON", nil)
		return
	}
	if len(req.Events) == 0 {
		metrics.RecordBatchRejection("validation")
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "events must contain at least one event", nil)
		return
	}
	if len(req.Events) > h.cfg.MaxBatchSize {
		metrics.RecordBatchRejection("validation")
		writeError(w, http.StatusBadRequest, CodeValidationFailed,
			fmt.Sprintf("batch exceeds %d events", h.cfg.MaxBatchSize), nil)
		return
	}

	now := time.Now().UTC()
	resp := ingestResponse{}

	for i := range req.Events {
		if err := h.processEvent(ctx, pixel, &req.Events[i], now); err != nil {
			metrics.RecordIngestEvent("failed")
			resp.Errors = append(resp.Errors, ingestError{Index: i, Error: err.Error()})
			continue
		}
		metrics.RecordIngestEvent("ok")
		resp.Processed++
	}

	if resp.Processed > 0 {
		// Advisory stats; failure must not fail the request.
		if err := h.control.TouchPixelStats(ctx, pixel.ID, int64(resp.Processed), now); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("pixel_id", pixel.ID).Msg("Pixel stats update failed")
		}
	}

	if resp.Processed == 0 {
		metrics.RecordBatchRejection("bus_unavailable")
		writeError(w, http.StatusBadGateway, CodeBatchFailed, "no event in the batch could be processed", resp.Errors)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// authenticate walks the key ladder: 401 missing key, 404 unknown pixel,
// 403 wrong key or inactive pixel.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, pixelID string) (*models.Pixel, bool) {
	key := r.Header.Get("X-Pixel-Key")
	if key == "" {
		key = r.URL.Query().Get("key")
	}
	if key == "" {
		metrics.RecordBatchRejection("auth")
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing pixel key", nil)
		return nil, false
	}

	pixel, err := h.control.GetPixel(r.Context(), pixelID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.RecordBatchRejection("auth")
		writeError(w, http.StatusNotFound, CodeNotFound, "unknown pixel", nil)
		return nil, false
	}
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("pixel_id", pixelID).Msg("Pixel lookup failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "pixel lookup failed", nil)
		return nil, false
	}

	if key != pixel.ID || !pixel.Active() {
		metrics.RecordBatchRejection("auth")
		writeError(w, http.StatusForbidden, CodeForbidden, "pixel key rejected", nil)
		return nil, false
	}
	return pixel, true
}

// processEvent runs one event through validate, persist, merge, publish.
func (h *Handler) processEvent(ctx context.Context, pixel *models.Pixel, in *ingestEvent, now time.Time) error {
	if verr := validation.ValidateStruct(in); verr != nil {
		return verr
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = now
	}

	event := &models.RawEvent{
		ID:             uuid.NewString(),
		TenantID:       pixel.TenantID,
		PixelID:        pixel.ID,
		EventType:      in.Type,
		URL:            in.URL,
		Referrer:       in.Referrer,
		TimeOnPageSec:  in.TimeOnPageSec,
		ScrollDepth:    in.ScrollDepth,
		ElementID:      in.ElementID,
		ElementText:    in.ElementText,
		Metadata:       in.Metadata,
		Resolution:     in.Resolution,
		EventTimestamp: ts,
		CreatedAt:      now,
	}

	if err := h.events.InsertRawEvent(ctx, pixel.TenantID, event); err != nil {
		return fmt.Errorf("persist event: %w", err)
	}

	// Synchronous merge is best-effort: the resolver re-derives identity from
	// the bus copy, so a merge failure degrades latency, not correctness.
	msg := &eventbus.EventMessage{Event: event, EnqueuedAt: now}
	if !event.Resolution.IsZero() {
		result, err := h.merger.Upsert(ctx, pixel.TenantID, event.Resolution, ts)
		switch {
		case err != nil:
			logging.Ctx(ctx).Warn().Err(err).Str("event_id", event.ID).Msg("Synchronous merge failed")
		case result.VisitorID != "":
			if err := h.events.SetEventVisitor(ctx, pixel.TenantID, event.ID, result.VisitorID); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("event_id", event.ID).Msg("Visitor back-fill failed")
			} else {
				event.VisitorID = result.VisitorID
			}
			msg.SyncVisitorID = result.VisitorID
			msg.SyncMatchType = result.MatchedBy
		}
	}

	if err := h.publisher.PublishEvent(ctx, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
