// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/signalweave/signalweave/internal/models"
)

func TestWaterfallOrder(t *testing.T) {
	byHem := &models.Visitor{ID: "vis-hem", HemSha256: "hash-1"}
	byEmail := &models.Visitor{ID: "vis-email", Email: "jane@acme.com"}
	f := newFakeStore(byEmail, byHem)
	w := NewWaterfall(f, 30*time.Minute)

	sig := &models.ResolutionData{HemSha256: "hash-1", Email: "jane@acme.com"}
	m, err := w.Match(context.Background(), "ten-1", sig, eventTime)
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if m == nil || m.Visitor.ID != "vis-hem" {
		t.Fatalf("hem matcher should win, got %+v", m)
	}
	if m.MatchType != models.MatchTypeHem || m.Confidence != 0.95 {
		t.Errorf("unexpected match: %+v", m)
	}
}

func TestWaterfallFallsThrough(t *testing.T) {
	byPhone := &models.Visitor{ID: "vis-phone", PhoneDigits: "14155550134"}
	f := newFakeStore(byPhone)
	w := NewWaterfall(f, 30*time.Minute)

	sig := &models.ResolutionData{
		HemSha256: "no-such-hash",
		Email:     "nobody@acme.com",
		Phone:     "+1 415 555 0134",
	}
	m, err := w.Match(context.Background(), "ten-1", sig, eventTime)
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if m == nil || m.MatchType != models.MatchTypePhone || m.Confidence != 0.80 {
		t.Fatalf("expected phone match, got %+v", m)
	}
}

func TestWaterfallPhoneRequiresTenDigits(t *testing.T) {
	byPhone := &models.Visitor{ID: "vis-phone", PhoneDigits: "555013"}
	f := newFakeStore(byPhone)
	w := NewWaterfall(f, 30*time.Minute)

	m, err := w.Match(context.Background(), "ten-1", &models.ResolutionData{Phone: "555-013"}, eventTime)
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if m != nil {
		t.Errorf("short phone fragment must not match, got %+v", m)
	}
}

func TestWaterfallNameCompanyNeedsAllThree(t *testing.T) {
	v := &models.Visitor{ID: "vis-nc", FirstName: "Jane", LastName: "Doe", CompanyDomain: "acme.com"}
	f := newFakeStore(v)
	w := NewWaterfall(f, 30*time.Minute)

	m, err := w.Match(context.Background(), "ten-1",
		&models.ResolutionData{FirstName: "Jane", LastName: "Doe"}, eventTime)
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if m != nil {
		t.Error("name matcher must not fire without a company domain")
	}

	m, err = w.Match(context.Background(), "ten-1",
		&models.ResolutionData{FirstName: "jane", LastName: "DOE", CompanyDomain: "ACME.com"}, eventTime)
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if m == nil || m.MatchType != models.MatchTypeNameCompany {
		t.Errorf("case-insensitive name+company should match, got %+v", m)
	}
}

func TestWaterfallIPUAWindow(t *testing.T) {
	recent := &models.Visitor{
		ID:         "vis-recent",
		IPAddress:  "10.0.0.1",
		UserAgent:  "Mozilla/5.0",
		LastSeenAt: eventTime.Add(-10 * time.Minute),
	}
	stale := &models.Visitor{
		ID:         "vis-stale",
		IPAddress:  "10.0.0.2",
		UserAgent:  "Mozilla/5.0",
		LastSeenAt: eventTime.Add(-2 * time.Hour),
	}
	f := newFakeStore(recent, stale)
	w := NewWaterfall(f, 30*time.Minute)

	m, err := w.Match(context.Background(), "ten-1",
		&models.ResolutionData{IPAddress: "10.0.0.1", UserAgent: "Mozilla/5.0"}, eventTime)
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if m == nil || m.Visitor.ID != "vis-recent" || m.Confidence != 0.50 {
		t.Errorf("recent ip/ua should match, got %+v", m)
	}

	m, err = w.Match(context.Background(), "ten-1",
		&models.ResolutionData{IPAddress: "10.0.0.2", UserAgent: "Mozilla/5.0"}, eventTime)
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if m != nil {
		t.Errorf("ip/ua past the session window must not match, got %+v", m)
	}
}

func TestWaterfallNilSignals(t *testing.T) {
	w := NewWaterfall(newFakeStore(), 30*time.Minute)
	m, err := w.Match(context.Background(), "ten-1", nil, eventTime)
	if err != nil || m != nil {
		t.Errorf("nil signals should produce no match, got %+v, %v", m, err)
	}
}
