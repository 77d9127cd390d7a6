// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package identity

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/signalweave/signalweave/internal/models"
	"github.com/signalweave/signalweave/internal/store"
)

// fakeRecords is an in-memory RecordStore for coalescer tests.
type fakeRecords struct {
	visitors []*models.Visitor
	created  []*models.Visitor
	merges   []*store.VisitorMerge
}

func (f *fakeRecords) findBy(match func(*models.Visitor) bool) (*models.Visitor, error) {
	for _, v := range f.visitors {
		if match(v) {
			return v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeRecords) FindVisitorByUUID(_ context.Context, _, uuid string) (*models.Visitor, error) {
	return f.findBy(func(v *models.Visitor) bool { return v.UUID == uuid })
}

func (f *fakeRecords) FindVisitorByHEM(_ context.Context, _, hem string) (*models.Visitor, error) {
	return f.findBy(func(v *models.Visitor) bool { return v.HemSha256 == hem })
}

func (f *fakeRecords) FindVisitorByEmail(_ context.Context, _, email string) (*models.Visitor, error) {
	return f.findBy(func(v *models.Visitor) bool { return v.Email == email || v.BusinessEmail == email })
}

func (f *fakeRecords) CreateVisitor(_ context.Context, v *models.Visitor) error {
	f.visitors = append(f.visitors, v)
	f.created = append(f.created, v)
	return nil
}

func (f *fakeRecords) ApplyVisitorMerge(_ context.Context, _ string, m *store.VisitorMerge) error {
	f.merges = append(f.merges, m)
	return nil
}

func (f *fakeRecords) RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var baseTime = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func existingVisitor() *models.Visitor {
	return &models.Visitor{
		ID:             "vis-1",
		TenantID:       "ten-1",
		UUID:           "dev-abc",
		Email:          "jane@acme.com",
		FirstName:      "Jane",
		IdentityStatus: models.StatusPartiallyIdentified,
		EventCount:     5,
		SessionCount:   2,
		FirstSeenAt:    baseTime.Add(-48 * time.Hour),
		LastSeenAt:     baseTime.Add(-10 * time.Minute),
	}
}

func TestUpsertNoLookupKeys(t *testing.T) {
	f := &fakeRecords{}
	c := NewCoalescer(f, 30*time.Minute)

	res, err := c.Upsert(context.Background(), "ten-1", &models.ResolutionData{IPAddress: "1.2.3.4"}, baseTime)
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if res.VisitorID != "" {
		t.Errorf("expected no attribution, got %q", res.VisitorID)
	}
	if len(f.created) != 0 || len(f.merges) != 0 {
		t.Error("no writes expected without lookup keys")
	}
}

func TestUpsertCreatesOnMiss(t *testing.T) {
	f := &fakeRecords{}
	c := NewCoalescer(f, 30*time.Minute)

	res, err := c.Upsert(context.Background(), "ten-1", &models.ResolutionData{Email: "new@acme.com"}, baseTime)
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if !res.Created || res.MatchedBy != "new" {
		t.Errorf("expected creation, got %+v", res)
	}
	if len(f.created) != 1 {
		t.Fatalf("expected 1 created visitor, got %d", len(f.created))
	}
	v := f.created[0]
	if v.EventCount != 1 || v.SessionCount != 1 {
		t.Errorf("new visitor counters should seed to 1, got %d/%d", v.EventCount, v.SessionCount)
	}
	if v.IdentityStatus != models.StatusPartiallyIdentified {
		t.Errorf("expected partially_identified, got %s", v.IdentityStatus)
	}
}

func TestUpsertLookupOrder(t *testing.T) {
	// Two visitors: one matches by uuid, another by email. UUID must win.
	byUUID := existingVisitor()
	byEmail := &models.Visitor{ID: "vis-2", Email: "other@acme.com", FirstSeenAt: baseTime.Add(-time.Hour)}
	f := &fakeRecords{visitors: []*models.Visitor{byEmail, byUUID}}
	c := NewCoalescer(f, 30*time.Minute)

	res, err := c.Upsert(context.Background(), "ten-1",
		&models.ResolutionData{UUID: "dev-abc", Email: "other@acme.com"}, baseTime)
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if res.VisitorID != "vis-1" || res.MatchedBy != "uuid" {
		t.Errorf("uuid probe should win, got %+v", res)
	}
}

func TestUpsertMergeSkipsEmptyAndKeepsStatus(t *testing.T) {
	f := &fakeRecords{visitors: []*models.Visitor{existingVisitor()}}
	c := NewCoalescer(f, 30*time.Minute)

	// Incoming bundle has empty email: must not erase the stored one.
	_, err := c.Upsert(context.Background(), "ten-1",
		&models.ResolutionData{UUID: "dev-abc", City: "Lyon"}, baseTime)
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if len(f.merges) != 1 {
		t.Fatalf("expected 1 merge, got %d", len(f.merges))
	}
	m := f.merges[0]
	if _, ok := m.Set["email"]; ok {
		t.Error("empty incoming email must not appear in the update")
	}
	if m.Set["city"] != "Lyon" {
		t.Errorf("city should merge, got %v", m.Set)
	}
	if _, ok := m.Set["identity_status"]; ok {
		t.Error("status must not change when signals add nothing")
	}
	if m.EventsInc != 1 {
		t.Errorf("event counter should increment, got %d", m.EventsInc)
	}
	if m.SessionInc != 0 {
		t.Error("visit within the session window must not increment sessions")
	}
}

func TestUpsertStatusPromotion(t *testing.T) {
	f := &fakeRecords{visitors: []*models.Visitor{existingVisitor()}}
	c := NewCoalescer(f, 30*time.Minute)

	// Adding the last name completes email+names, promoting to identified.
	_, err := c.Upsert(context.Background(), "ten-1",
		&models.ResolutionData{Email: "jane@acme.com", LastName: "Doe"}, baseTime)
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	m := f.merges[0]
	if m.Set["identity_status"] != models.StatusIdentified {
		t.Errorf("expected promotion to identified, got %v", m.Set["identity_status"])
	}
}

func TestUpsertStatusNeverDowngrades(t *testing.T) {
	v := existingVisitor()
	v.LastName = "Doe"
	v.IdentityStatus = models.StatusVerified
	f := &fakeRecords{visitors: []*models.Visitor{v}}
	c := NewCoalescer(f, 30*time.Minute)

	_, err := c.Upsert(context.Background(), "ten-1",
		&models.ResolutionData{UUID: "dev-abc", Email: "jane@acme.com"}, baseTime)
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if _, ok := f.merges[0].Set["identity_status"]; ok {
		t.Error("verified status must never be downgraded by a merge")
	}
}

func TestUpsertNewSessionAfterWindow(t *testing.T) {
	v := existingVisitor()
	v.LastSeenAt = baseTime.Add(-2 * time.Hour)
	f := &fakeRecords{visitors: []*models.Visitor{v}}
	c := NewCoalescer(f, 30*time.Minute)

	_, err := c.Upsert(context.Background(), "ten-1",
		&models.ResolutionData{UUID: "dev-abc"}, baseTime)
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if f.merges[0].SessionInc != 1 {
		t.Error("visit past the session window should increment sessions")
	}
}

// racingRecords loses the first create to a concurrent ingest: the unique
// email index rejects the insert, and the winner's profile becomes visible
// for the retried lookup.
type racingRecords struct {
	fakeRecords
	winner *models.Visitor
}

func (f *racingRecords) CreateVisitor(_ context.Context, _ *models.Visitor) error {
	f.visitors = append(f.visitors, f.winner)
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: "E11000 duplicate key error collection: tenant_ten-1 index: email_1 dup key",
	}}}
}

func TestUpsertCreateRaceMergesIntoWinner(t *testing.T) {
	winner := &models.Visitor{ID: "vis-9", TenantID: "ten-1", Email: "new@acme.com", FirstSeenAt: baseTime}
	f := &racingRecords{winner: winner}
	c := NewCoalescer(f, 30*time.Minute)

	res, err := c.Upsert(context.Background(), "ten-1",
		&models.ResolutionData{Email: "new@acme.com", City: "Lyon"}, baseTime)
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if res.Created {
		t.Error("losing the create race must not report a creation")
	}
	if res.VisitorID != "vis-9" || res.MatchedBy != models.MatchTypeEmail {
		t.Errorf("expected merge into the winning profile, got %+v", res)
	}
	if len(f.merges) != 1 || f.merges[0].VisitorID != "vis-9" {
		t.Errorf("expected 1 merge onto vis-9, got %+v", f.merges)
	}
}

func TestUpsertPhoneDigitsMaintained(t *testing.T) {
	f := &fakeRecords{visitors: []*models.Visitor{existingVisitor()}}
	c := NewCoalescer(f, 30*time.Minute)

	_, err := c.Upsert(context.Background(), "ten-1",
		&models.ResolutionData{UUID: "dev-abc", Phone: "+1 (415) 555-0134"}, baseTime)
	if err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	m := f.merges[0]
	if m.Set["phone_digits"] != "14155550134" {
		t.Errorf("phone digits should be maintained, got %v", m.Set["phone_digits"])
	}
}
