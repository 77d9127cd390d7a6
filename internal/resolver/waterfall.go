// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalweave/signalweave/internal/models"
	"github.com/signalweave/signalweave/internal/store"
)

// MatcherStore is the slice of the record store the waterfall queries.
type MatcherStore interface {
	FindVisitorByHEM(ctx context.Context, tenantID, hem string) (*models.Visitor, error)
	FindVisitorByEmail(ctx context.Context, tenantID, email string) (*models.Visitor, error)
	FindVisitorByPhoneDigits(ctx context.Context, tenantID, digits string) (*models.Visitor, error)
	FindVisitorByNameCompany(ctx context.Context, tenantID, firstName, lastName, companyDomain string) (*models.Visitor, error)
	FindVisitorByIPUA(ctx context.Context, tenantID, ip, userAgent string, activeSince time.Time) (*models.Visitor, error)
}

// Match is a successful waterfall decision.
type Match struct {
	Visitor    *models.Visitor
	MatchType  string
	Confidence float64
}

// Waterfall runs the ordered matcher cascade. Matchers fire in descending
// confidence order and the first hit wins; later matchers never override an
// earlier one.
type Waterfall struct {
	records       MatcherStore
	sessionWindow time.Duration
}

// NewWaterfall builds the cascade. sessionWindow bounds the ip/user-agent
// matcher's eligibility window.
func NewWaterfall(records MatcherStore, sessionWindow time.Duration) *Waterfall {
	return &Waterfall{records: records, sessionWindow: sessionWindow}
}

// Match runs the cascade for one event's signals. Returns nil when no matcher
// fires.
func (w *Waterfall) Match(ctx context.Context, tenantID string, sig *models.ResolutionData, eventTime time.Time) (*Match, error) {
	if sig == nil {
		return nil, nil
	}

	type matcher struct {
		matchType string
		run       func(context.Context) (*models.Visitor, error)
	}

	matchers := []matcher{
		{models.MatchTypeHem, func(ctx context.Context) (*models.Visitor, error) {
			if sig.HemSha256 == "" {
				return nil, store.ErrNotFound
			}
			return w.records.FindVisitorByHEM(ctx, tenantID, sig.HemSha256)
		}},
		{models.MatchTypeEmail, func(ctx context.Context) (*models.Visitor, error) {
			if sig.Email == "" {
				return nil, store.ErrNotFound
			}
			return w.records.FindVisitorByEmail(ctx, tenantID, sig.Email)
		}},
		{models.MatchTypePhone, func(ctx context.Context) (*models.Visitor, error) {
			digits := models.NormalizePhone(sig.Phone)
			if digits == "" {
				return nil, store.ErrNotFound
			}
			return w.records.FindVisitorByPhoneDigits(ctx, tenantID, digits)
		}},
		{models.MatchTypeNameCompany, func(ctx context.Context) (*models.Visitor, error) {
			if sig.FirstName == "" || sig.LastName == "" || sig.CompanyDomain == "" {
				return nil, store.ErrNotFound
			}
			return w.records.FindVisitorByNameCompany(ctx, tenantID, sig.FirstName, sig.LastName, sig.CompanyDomain)
		}},
		{models.MatchTypeIPUA, func(ctx context.Context) (*models.Visitor, error) {
			if sig.IPAddress == "" || sig.UserAgent == "" {
				return nil, store.ErrNotFound
			}
			return w.records.FindVisitorByIPUA(ctx, tenantID, sig.IPAddress, sig.UserAgent, eventTime.Add(-w.sessionWindow))
		}},
	}

	for _, m := range matchers {
		v, err := m.run(ctx)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("matcher %s: %w", m.matchType, err)
		}
		return &Match{
			Visitor:    v,
			MatchType:  m.matchType,
			Confidence: models.MatchConfidence(m.matchType),
		}, nil
	}
	return nil, nil
}
