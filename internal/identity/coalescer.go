// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package identity implements the coalesce upsert engine: the synchronous
// merge of an event's identity signals into a visitor profile. Lookup order is
// uuid, then hashed email, then plaintext email. Merges follow the skip-empty
// rule and never downgrade identity status; misses create a fresh profile.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalweave/signalweave/internal/logging"
	"github.com/signalweave/signalweave/internal/merge"
	"github.com/signalweave/signalweave/internal/models"
	"github.com/signalweave/signalweave/internal/store"
)

// RecordStore is the slice of the record store the coalescer needs.
type RecordStore interface {
	FindVisitorByUUID(ctx context.Context, tenantID, uuid string) (*models.Visitor, error)
	FindVisitorByHEM(ctx context.Context, tenantID, hem string) (*models.Visitor, error)
	FindVisitorByEmail(ctx context.Context, tenantID, email string) (*models.Visitor, error)
	CreateVisitor(ctx context.Context, v *models.Visitor) error
	ApplyVisitorMerge(ctx context.Context, tenantID string, m *store.VisitorMerge) error
	RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Result describes the outcome of one upsert.
type Result struct {
	VisitorID string
	Created   bool

	// MatchedBy is the models.MatchType* constant for the lookup key that
	// found the profile, or models.MatchTypeNew when one was created.
	MatchedBy string
}

// Coalescer merges identity signals into visitor profiles.
type Coalescer struct {
	records       RecordStore
	sessionWindow time.Duration
}

// NewCoalescer builds a coalescer. sessionWindow controls when a returning
// visitor's session counter increments.
func NewCoalescer(records RecordStore, sessionWindow time.Duration) *Coalescer {
	return &Coalescer{records: records, sessionWindow: sessionWindow}
}

// Upsert merges the signal bundle into the matching visitor, or creates one.
// Returns a zero Result with nil error when the bundle carries no lookup key;
// such events stay unattributed until the async resolver picks them up.
// Lookup and write run in a single transaction. Concurrent first-touch
// creates for the same identity are arbitrated by the unique uuid/hem/email
// indexes: the loser re-runs the lookup and merges into the winner.
func (c *Coalescer) Upsert(ctx context.Context, tenantID string, sig *models.ResolutionData, seenAt time.Time) (Result, error) {
	if sig == nil || (sig.UUID == "" && sig.HemSha256 == "" && sig.Email == "") {
		return Result{}, nil
	}

	var res Result
	upsert := func(txCtx context.Context) error {
		existing, matchedBy, err := c.lookup(txCtx, tenantID, sig)
		if err != nil {
			return err
		}

		if existing == nil {
			v := models.NewVisitorFromSignals(uuid.NewString(), tenantID, sig, seenAt)
			if err := c.records.CreateVisitor(txCtx, v); err != nil {
				return err
			}
			res = Result{VisitorID: v.ID, Created: true, MatchedBy: models.MatchTypeNew}
			return nil
		}

		m := BuildMerge(existing, sig, seenAt, c.sessionWindow)
		if err := c.records.ApplyVisitorMerge(txCtx, tenantID, m); err != nil {
			return err
		}
		res = Result{VisitorID: existing.ID, MatchedBy: matchedBy}
		return nil
	}

	err := c.records.RunTransaction(ctx, upsert)
	if store.IsDuplicateKeyError(err) {
		// A concurrent first-touch won the create; the unique identity index
		// surfaced the winner, so the second lookup finds and merges into it.
		err = c.records.RunTransaction(ctx, upsert)
	}
	if err != nil {
		return Result{}, fmt.Errorf("upsert visitor: %w", err)
	}

	if res.Created {
		logging.Ctx(ctx).Debug().
			Str("tenant_id", tenantID).
			Str("visitor_id", res.VisitorID).
			Msg("Created visitor profile")
	}
	return res, nil
}

// lookup tries the identity keys in confidence order.
func (c *Coalescer) lookup(ctx context.Context, tenantID string, sig *models.ResolutionData) (*models.Visitor, string, error) {
	type probe struct {
		name string
		key  string
		find func(context.Context, string, string) (*models.Visitor, error)
	}
	probes := []probe{
		{models.MatchTypeUUID, sig.UUID, c.records.FindVisitorByUUID},
		{models.MatchTypeHem, sig.HemSha256, c.records.FindVisitorByHEM},
		{models.MatchTypeEmail, sig.Email, c.records.FindVisitorByEmail},
	}

	for _, p := range probes {
		if p.key == "" {
			continue
		}
		v, err := p.find(ctx, tenantID, p.key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return v, p.name, nil
	}
	return nil, "", nil
}

// BuildMerge computes the field updates for merging a signal bundle into an
// existing profile. Only fields where the incoming value wins under the
// skip-empty rule are included, so an event with sparse signals produces a
// minimal update. Shared by the synchronous upsert path and the async
// resolver so both apply identical merge semantics.
func BuildMerge(v *models.Visitor, sig *models.ResolutionData, seenAt time.Time, sessionWindow time.Duration) *store.VisitorMerge {
	if sig == nil {
		sig = &models.ResolutionData{}
	}
	set := map[string]interface{}{}
	put := func(key, existing, incoming string) string {
		merged := merge.String(existing, incoming)
		if merged != existing {
			set[key] = merged
		}
		return merged
	}

	put("uuid", v.UUID, sig.UUID)
	email := put("email", v.Email, sig.Email)
	hem := put("hem_sha256", v.HemSha256, sig.HemSha256)
	firstName := put("first_name", v.FirstName, sig.FirstName)
	lastName := put("last_name", v.LastName, sig.LastName)
	phone := put("phone", v.Phone, sig.Phone)
	put("company_name", v.CompanyName, sig.CompanyName)
	put("company_domain", v.CompanyDomain, sig.CompanyDomain)
	put("job_title", v.JobTitle, sig.JobTitle)
	put("linkedin_url", v.LinkedInURL, sig.LinkedInURL)
	put("city", v.City, sig.City)
	put("region", v.Region, sig.Region)
	put("country", v.Country, sig.Country)
	put("ip_address", v.IPAddress, sig.IPAddress)
	put("user_agent", v.UserAgent, sig.UserAgent)

	if digits := models.NormalizePhone(phone); digits != "" && digits != v.PhoneDigits {
		set["phone_digits"] = digits
	}

	// Status only moves up the ladder. Recompute from the merged fields and
	// keep the stronger of old and new.
	status := models.ComputeIdentityStatus(email, hem, firstName, lastName)
	if models.StatusRank(status) > models.StatusRank(v.IdentityStatus) {
		set["identity_status"] = status
	}

	m := &store.VisitorMerge{
		VisitorID:  v.ID,
		Set:        set,
		EventsInc:  1,
		LastSeenAt: seenAt,
	}
	if seenAt.Sub(v.LastSeenAt) > sessionWindow {
		m.SessionInc = 1
	}
	return m
}
