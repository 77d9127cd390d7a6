// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package eventbus

import (
	"testing"
	"time"

	"github.com/signalweave/signalweave/internal/models"
)

func TestSerializerEventRoundTrip(t *testing.T) {
	s := NewSerializer()
	in := &EventMessage{
		Event: &models.RawEvent{
			ID:        "evt-1",
			TenantID:  "ten-1",
			PixelID:   "pix-1",
			EventType: models.EventTypePageView,
			URL:       "https://acme.com/pricing",
			Resolution: &models.ResolutionData{
				Email: "jane@acme.com",
			},
			EventTimestamp: time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC),
		},
		EnqueuedAt: time.Date(2026, 7, 1, 8, 0, 1, 0, time.UTC),
	}

	msg, err := s.MarshalEvent(in)
	if err != nil {
		t.Fatalf("MarshalEvent() failed: %v", err)
	}
	if msg.UUID != "evt-1" {
		t.Errorf("message UUID should be the event id, got %q", msg.UUID)
	}
	if msg.Metadata.Get(MetaTenantID) != "ten-1" {
		t.Errorf("tenant metadata missing: %v", msg.Metadata)
	}

	out, err := s.UnmarshalEvent(msg.Payload)
	if err != nil {
		t.Fatalf("UnmarshalEvent() failed: %v", err)
	}
	if out.Event.URL != in.Event.URL || out.Event.Resolution.Email != "jane@acme.com" {
		t.Errorf("round trip lost data: %+v", out.Event)
	}
}

func TestSerializerRejectsInvalidEvent(t *testing.T) {
	s := NewSerializer()

	if _, err := s.MarshalEvent(&EventMessage{}); err == nil {
		t.Error("nil event should be rejected")
	}
	if _, err := s.MarshalEvent(&EventMessage{Event: &models.RawEvent{ID: "evt-1"}}); err == nil {
		t.Error("event without tenant should be rejected")
	}
	if _, err := s.UnmarshalEvent([]byte("{not json")); err == nil {
		t.Error("malformed payload should be rejected")
	}
}

func TestSerializerIdentityUpdate(t *testing.T) {
	s := NewSerializer()
	in := &IdentityUpdate{
		TenantID:   "ten-1",
		VisitorID:  "vis-1",
		EventID:    "evt-9",
		MatchType:  models.MatchTypeHem,
		Confidence: 0.95,
		MatchedAt:  time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC),
	}

	msg, err := s.MarshalIdentityUpdate(in)
	if err != nil {
		t.Fatalf("MarshalIdentityUpdate() failed: %v", err)
	}
	if msg.UUID != "evt-9" {
		t.Errorf("dedupe key should be the event id, got %q", msg.UUID)
	}

	out, err := s.UnmarshalIdentityUpdate(msg.Payload)
	if err != nil {
		t.Fatalf("UnmarshalIdentityUpdate() failed: %v", err)
	}
	if out.MatchType != models.MatchTypeHem || out.Confidence != 0.95 {
		t.Errorf("round trip lost data: %+v", out)
	}
}
