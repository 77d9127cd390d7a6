// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package resolver implements the waterfall identity resolver: the durable
// consumer of raw-events that attributes every event to exactly one visitor,
// writes the resolution audit log, and announces matches on identity-updates.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/signalweave/signalweave/internal/eventbus"
	"github.com/signalweave/signalweave/internal/identity"
	"github.com/signalweave/signalweave/internal/logging"
	"github.com/signalweave/signalweave/internal/metrics"
	"github.com/signalweave/signalweave/internal/models"
	"github.com/signalweave/signalweave/internal/store"
)

// RecordStore is everything the processor needs from the record store.
type RecordStore interface {
	MatcherStore
	CreateVisitor(ctx context.Context, v *models.Visitor) error
	ApplyVisitorMerge(ctx context.Context, tenantID string, m *store.VisitorMerge) error
	InsertResolutionLog(ctx context.Context, tenantID string, entry *models.ResolutionLogEntry) error
	FindResolutionBySourceEvent(ctx context.Context, tenantID, eventID string) (*models.ResolutionLogEntry, error)
	SetEventVisitor(ctx context.Context, tenantID, eventID, visitorID string) error
	RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UpdatePublisher publishes identity updates after successful matches.
type UpdatePublisher interface {
	PublishIdentityUpdate(ctx context.Context, u *eventbus.IdentityUpdate) error
}

// Processor resolves one event per message. Processing is idempotent: the
// ledger filters redeliveries cheaply, and the resolution log's unique index
// guarantees at most one decision per event even across resolver replicas.
type Processor struct {
	records       RecordStore
	waterfall     *Waterfall
	ledger        Ledger
	publisher     UpdatePublisher
	serializer    *eventbus.Serializer
	sessionWindow time.Duration
}

// NewProcessor wires the resolver pipeline.
func NewProcessor(records RecordStore, ledger Ledger, publisher UpdatePublisher, sessionWindow time.Duration) *Processor {
	return &Processor{
		records:       records,
		waterfall:     NewWaterfall(records, sessionWindow),
		ledger:        ledger,
		publisher:     publisher,
		serializer:    eventbus.NewSerializer(),
		sessionWindow: sessionWindow,
	}
}

// Handle is the router handler for raw-events messages. Returning an error
// nacks the message for retry; nil acks it.
func (p *Processor) Handle(msg *message.Message) error {
	start := time.Now()
	ctx := msg.Context()

	em, err := p.serializer.UnmarshalEvent(msg.Payload)
	if err != nil {
		// Undecodable payloads can never succeed; let retry middleware
		// exhaust and route them to the poison topic.
		metrics.ResolverFailuresTotal.Inc()
		return err
	}
	event := em.Event

	seen, err := p.ledger.Seen(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("ledger check: %w", err)
	}
	if seen {
		metrics.ResolverDuplicatesSkipped.Inc()
		return nil
	}

	// The durable backstop: another replica may have resolved this event
	// while it sat in our redelivery queue.
	if prior, err := p.records.FindResolutionBySourceEvent(ctx, event.TenantID, event.ID); err == nil {
		if markErr := p.ledger.Mark(ctx, event.ID); markErr != nil {
			logging.Ctx(ctx).Warn().Err(markErr).Str("event_id", event.ID).Msg("Ledger mark failed")
		}
		metrics.ResolverDuplicatesSkipped.Inc()
		logging.Ctx(ctx).Debug().
			Str("event_id", event.ID).
			Str("visitor_id", prior.VisitorID).
			Msg("Event already resolved, skipping")
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("resolution lookup: %w", err)
	}

	matchType, visitorID, err := p.resolve(ctx, em)
	if err != nil {
		metrics.ResolverFailuresTotal.Inc()
		return err
	}

	if err := p.ledger.Mark(ctx, event.ID); err != nil {
		// The decision is durable; a cold ledger only costs a future
		// round-trip to the resolution log.
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", event.ID).Msg("Ledger mark failed")
	}

	metrics.RecordResolverMatch(matchType, time.Since(start))
	logging.Ctx(ctx).Debug().
		Str("event_id", event.ID).
		Str("visitor_id", visitorID).
		Str("match_type", matchType).
		Msg("Event resolved")
	return nil
}

// resolve makes and records the attribution decision for one event.
func (p *Processor) resolve(ctx context.Context, em *eventbus.EventMessage) (string, string, error) {
	event := em.Event

	// The gateway's synchronous merge already attributed the event; record
	// the decision without merging a second time.
	if em.SyncVisitorID != "" {
		matchType := em.SyncMatchType
		if matchType == "" {
			matchType = models.MatchTypeUUID
		}
		if err := p.recordDecision(ctx, event, em.SyncVisitorID, matchType); err != nil {
			return "", "", err
		}
		p.announce(ctx, event, em.SyncVisitorID, matchType)
		return matchType, em.SyncVisitorID, nil
	}

	match, err := p.waterfall.Match(ctx, event.TenantID, event.Resolution, event.EventTimestamp)
	if err != nil {
		return "", "", err
	}

	if match != nil {
		m := identity.BuildMerge(match.Visitor, event.Resolution, event.EventTimestamp, p.sessionWindow)
		err := p.records.RunTransaction(ctx, func(txCtx context.Context) error {
			if err := p.records.ApplyVisitorMerge(txCtx, event.TenantID, m); err != nil {
				return err
			}
			return p.insertLog(txCtx, event, match.Visitor.ID, match.MatchType)
		})
		if err != nil {
			if store.IsDuplicateKeyOnIndex(err, store.IdxResolutionSourceEvent) {
				return match.MatchType, match.Visitor.ID, nil
			}
			return "", "", fmt.Errorf("apply match: %w", err)
		}
		if err := p.records.SetEventVisitor(ctx, event.TenantID, event.ID, match.Visitor.ID); err != nil {
			return "", "", err
		}
		p.announce(ctx, event, match.Visitor.ID, match.MatchType)
		return match.MatchType, match.Visitor.ID, nil
	}

	// No matcher fired: mint a fresh visitor from whatever signals exist.
	v := models.NewVisitorFromSignals(uuid.NewString(), event.TenantID, event.Resolution, event.EventTimestamp)
	err = p.records.RunTransaction(ctx, func(txCtx context.Context) error {
		if err := p.records.CreateVisitor(txCtx, v); err != nil {
			return err
		}
		return p.insertLog(txCtx, event, v.ID, models.MatchTypeNew)
	})
	if err != nil {
		// Only a source_event_id conflict means another replica resolved this
		// event. A conflict on an identity key index is a lost create race:
		// nack so the retry's waterfall finds the winner.
		if store.IsDuplicateKeyOnIndex(err, store.IdxResolutionSourceEvent) {
			return models.MatchTypeNew, v.ID, nil
		}
		return "", "", fmt.Errorf("create visitor: %w", err)
	}
	if err := p.records.SetEventVisitor(ctx, event.TenantID, event.ID, v.ID); err != nil {
		return "", "", err
	}
	return models.MatchTypeNew, v.ID, nil
}

// recordDecision writes the audit entry for events the synchronous path
// already merged, and repairs the back-fill in case the gateway's best-effort
// attempt failed. The guarded update makes the repair a no-op otherwise.
func (p *Processor) recordDecision(ctx context.Context, event *models.RawEvent, visitorID, matchType string) error {
	err := p.insertLog(ctx, event, visitorID, matchType)
	if err != nil && !store.IsDuplicateKeyOnIndex(err, store.IdxResolutionSourceEvent) {
		return err
	}
	return p.records.SetEventVisitor(ctx, event.TenantID, event.ID, visitorID)
}

func (p *Processor) insertLog(ctx context.Context, event *models.RawEvent, visitorID, matchType string) error {
	return p.records.InsertResolutionLog(ctx, event.TenantID, &models.ResolutionLogEntry{
		ID:            uuid.NewString(),
		TenantID:      event.TenantID,
		VisitorID:     visitorID,
		MatchType:     matchType,
		Confidence:    models.MatchConfidence(matchType),
		MatchedAt:     time.Now().UTC(),
		SourceEventID: event.ID,
		Signals:       event.Resolution.SignalFields(),
	})
}

// announce publishes an identity update. Creation is not announced; only
// matches carry new information for downstream consumers.
func (p *Processor) announce(ctx context.Context, event *models.RawEvent, visitorID, matchType string) {
	if matchType == models.MatchTypeNew || p.publisher == nil {
		return
	}
	u := &eventbus.IdentityUpdate{
		TenantID:   event.TenantID,
		VisitorID:  visitorID,
		EventID:    event.ID,
		MatchType:  matchType,
		Confidence: models.MatchConfidence(matchType),
		MatchedAt:  time.Now().UTC(),
	}
	if err := p.publisher.PublishIdentityUpdate(ctx, u); err != nil {
		// Best-effort: the durable state is already written.
		logging.Ctx(ctx).Warn().Err(err).Str("event_id", event.ID).Msg("Identity update publish failed")
	}
}
