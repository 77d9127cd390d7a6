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
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/signalweave/signalweave/internal/models"
)

// caseInsensitive compares strings ignoring case and diacritics
// (collation strength 2).
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

// CreateVisitor inserts a new visitor profile.
func (s *Store) CreateVisitor(ctx context.Context, v *models.Visitor) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.tenantDB(v.TenantID).Collection(CollVisitors).InsertOne(opCtx, v)
	if err != nil {
		return fmt.Errorf("create visitor %s: %w", v.ID, err)
	}
	return nil
}

// GetVisitor fetches a visitor by its internal id.
func (s *Store) GetVisitor(ctx context.Context, tenantID, visitorID string) (*models.Visitor, error) {
	return s.findVisitor(ctx, tenantID, bson.M{"_id": visitorID}, nil)
}

// FindVisitorByUUID looks up a visitor by its device identifier.
func (s *Store) FindVisitorByUUID(ctx context.Context, tenantID, uuid string) (*models.Visitor, error) {
	return s.findVisitor(ctx, tenantID, bson.M{"uuid": uuid}, nil)
}

// FindVisitorByHEM looks up a visitor by hashed email.
func (s *Store) FindVisitorByHEM(ctx context.Context, tenantID, hem string) (*models.Visitor, error) {
	return s.findVisitor(ctx, tenantID, bson.M{"hem_sha256": hem}, nil)
}

// FindVisitorByEmail looks up a visitor by plaintext email, checking both the
// personal and business email columns.
func (s *Store) FindVisitorByEmail(ctx context.Context, tenantID, email string) (*models.Visitor, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"email": email},
		bson.M{"business_email": email},
	}}
	return s.findVisitor(ctx, tenantID, filter, caseInsensitive)
}

// FindVisitorByPhoneDigits looks up a visitor by the digits-only phone form,
// which collapses formatting variants of the same number.
func (s *Store) FindVisitorByPhoneDigits(ctx context.Context, tenantID, digits string) (*models.Visitor, error) {
	return s.findVisitor(ctx, tenantID, bson.M{"phone_digits": digits}, nil)
}

// FindVisitorByNameCompany looks up a visitor by full name plus company
// domain, compared case-insensitively.
func (s *Store) FindVisitorByNameCompany(ctx context.Context, tenantID, firstName, lastName, companyDomain string) (*models.Visitor, error) {
	filter := bson.M{
		"first_name":     firstName,
		"last_name":      lastName,
		"company_domain": companyDomain,
	}
	return s.findVisitor(ctx, tenantID, filter, caseInsensitive)
}

// FindVisitorByIPUA looks up a visitor by exact ip address and user agent,
// restricted to profiles active since the given cutoff.
func (s *Store) FindVisitorByIPUA(ctx context.Context, tenantID, ip, userAgent string, activeSince time.Time) (*models.Visitor, error) {
	filter := bson.M{
		"ip_address":   ip,
		"user_agent":   userAgent,
		"last_seen_at": bson.M{"$gte": activeSince},
	}
	return s.findVisitor(ctx, tenantID, filter, nil)
}

func (s *Store) findVisitor(ctx context.Context, tenantID string, filter bson.M, collation *options.Collation) (*models.Visitor, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	// Oldest-first sort makes multi-candidate lookups deterministic: when
	// several visitors carry the same signal, the earliest profile wins.
	opts := options.FindOne().SetSort(bson.D{{Key: "first_seen_at", Value: 1}})
	if collation != nil {
		opts.SetCollation(collation)
	}

	var v models.Visitor
	err := s.tenantDB(tenantID).Collection(CollVisitors).
		FindOne(opCtx, filter, opts).
		Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find visitor: %w", err)
	}
	return &v, nil
}

// VisitorMerge is a single atomic update against one visitor profile. Set
// carries only non-empty field values keyed by their storage names; counters
// and timestamps use operators that cannot move backwards.
type VisitorMerge struct {
	VisitorID  string
	Set        map[string]interface{}
	EventsInc  int64
	SessionInc int64
	LastSeenAt time.Time
}

// ApplyVisitorMerge applies a merge in one update: $set for coalesced fields,
// $inc for counters, $max for last_seen_at. first_seen_at and created_at are
// never touched.
func (s *Store) ApplyVisitorMerge(ctx context.Context, tenantID string, m *VisitorMerge) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	update := buildMergeUpdate(m, time.Now().UTC())
	res, err := s.tenantDB(tenantID).Collection(CollVisitors).
		UpdateOne(opCtx, bson.M{"_id": m.VisitorID}, update)
	if err != nil {
		return fmt.Errorf("apply visitor merge %s: %w", m.VisitorID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// buildMergeUpdate translates a VisitorMerge into a Mongo update document.
func buildMergeUpdate(m *VisitorMerge, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	for k, v := range m.Set {
		set[k] = v
	}

	update := bson.M{"$set": set}

	inc := bson.M{}
	if m.EventsInc != 0 {
		inc["event_count"] = m.EventsInc
	}
	if m.SessionInc != 0 {
		inc["session_count"] = m.SessionInc
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}

	if !m.LastSeenAt.IsZero() {
		update["$max"] = bson.M{"last_seen_at": m.LastSeenAt}
	}

	return update
}
