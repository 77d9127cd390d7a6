// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package eventbus carries events between the ingestion gateway and the
// identity resolver over NATS JetStream via Watermill. Delivery is
// at-least-once; consumers are expected to be idempotent.
package eventbus

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/signalweave/signalweave/internal/models"
)

// Topics.
const (
	TopicRawEvents       = "raw-events"
	TopicIdentityUpdates = "identity-updates"
)

// Metadata keys set on published messages.
const (
	MetaTenantID  = "tenant_id"
	MetaPixelID   = "pixel_id"
	MetaEventType = "event_type"
)

// EventMessage is the raw-events payload: the stored event by value, so the
// resolver never has to read the record store to start matching.
type EventMessage struct {
	Event *models.RawEvent `json:"event"`

	// SyncVisitorID and SyncMatchType carry the gateway's synchronous merge
	// outcome when one happened. The resolver records the decision instead of
	// merging a second time.
	SyncVisitorID string `json:"sync_visitor_id,omitempty"`
	SyncMatchType string `json:"sync_match_type,omitempty"`

	// EnqueuedAt stamps when the gateway published the message.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Validate checks the payload carries enough to be processed.
func (m *EventMessage) Validate() error {
	if m.Event == nil {
		return fmt.Errorf("event payload missing")
	}
	if m.Event.ID == "" {
		return fmt.Errorf("event id missing")
	}
	if m.Event.TenantID == "" {
		return fmt.Errorf("tenant id missing")
	}
	return nil
}

// IdentityUpdate is the identity-updates payload, published after the
// resolver attributes an event to a visitor through a waterfall match.
type IdentityUpdate struct {
	TenantID   string    `json:"tenant_id"`
	VisitorID  string    `json:"visitor_id"`
	EventID    string    `json:"event_id"`
	MatchType  string    `json:"match_type"`
	Confidence float64   `json:"confidence"`
	MatchedAt  time.Time `json:"matched_at"`
}

// Serializer encodes bus payloads as JSON.
type Serializer struct{}

// NewSerializer creates a serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// MarshalEvent converts an event payload to a Watermill message. The event id
// becomes the message UUID, which the publisher reuses as the JetStream
// dedupe id.
func (s *Serializer) MarshalEvent(m *EventMessage) (*message.Message, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validate event message: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal event message: %w", err)
	}

	msg := message.NewMessage(m.Event.ID, data)
	msg.Metadata.Set(MetaTenantID, m.Event.TenantID)
	msg.Metadata.Set(MetaPixelID, m.Event.PixelID)
	msg.Metadata.Set(MetaEventType, m.Event.EventType)
	return msg, nil
}

// UnmarshalEvent decodes a raw-events payload.
func (s *Serializer) UnmarshalEvent(data []byte) (*EventMessage, error) {
	var m EventMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// MarshalIdentityUpdate converts an identity update to a Watermill message.
// The event id keys deduplication: one event yields at most one update.
func (s *Serializer) MarshalIdentityUpdate(u *IdentityUpdate) (*message.Message, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("marshal identity update: %w", err)
	}
	msg := message.NewMessage(u.EventID, data)
	msg.Metadata.Set(MetaTenantID, u.TenantID)
	return msg, nil
}

// UnmarshalIdentityUpdate decodes an identity-updates payload.
func (s *Serializer) UnmarshalIdentityUpdate(data []byte) (*IdentityUpdate, error) {
	var u IdentityUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshal identity update: %w", err)
	}
	return &u, nil
}
