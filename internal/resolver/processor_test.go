// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/signalweave/signalweave/internal/eventbus"
	"github.com/signalweave/signalweave/internal/models"
	"github.com/signalweave/signalweave/internal/store"
)

var eventTime = time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC)

// fakeStore is an in-memory RecordStore for processor tests.
type fakeStore struct {
	visitors    []*models.Visitor
	resolutions map[string]*models.ResolutionLogEntry // by source event id
	created     []*models.Visitor
	merges      []*store.VisitorMerge
	backfills   map[string]string // event id -> visitor id
}

func newFakeStore(visitors ...*models.Visitor) *fakeStore {
	return &fakeStore{
		visitors:    visitors,
		resolutions: map[string]*models.ResolutionLogEntry{},
		backfills:   map[string]string{},
	}
}

func (f *fakeStore) findBy(match func(*models.Visitor) bool) (*models.Visitor, error) {
	for _, v := range f.visitors {
		if match(v) {
			return v, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) FindVisitorByHEM(_ context.Context, _, hem string) (*models.Visitor, error) {
	return f.findBy(func(v *models.Visitor) bool { return v.HemSha256 == hem })
}

func (f *fakeStore) FindVisitorByEmail(_ context.Context, _, email string) (*models.Visitor, error) {
	return f.findBy(func(v *models.Visitor) bool { return v.Email == email || v.BusinessEmail == email })
}

func (f *fakeStore) FindVisitorByPhoneDigits(_ context.Context, _, digits string) (*models.Visitor, error) {
	return f.findBy(func(v *models.Visitor) bool { return v.PhoneDigits == digits })
}

func (f *fakeStore) FindVisitorByNameCompany(_ context.Context, _, first, last, domain string) (*models.Visitor, error) {
	return f.findBy(func(v *models.Visitor) bool {
		return models.NormalizeToken(v.FirstName) == models.NormalizeToken(first) &&
			models.NormalizeToken(v.LastName) == models.NormalizeToken(last) &&
			models.NormalizeToken(v.CompanyDomain) == models.NormalizeToken(domain)
	})
}

func (f *fakeStore) FindVisitorByIPUA(_ context.Context, _, ip, ua string, since time.Time) (*models.Visitor, error) {
	return f.findBy(func(v *models.Visitor) bool {
		return v.IPAddress == ip && v.UserAgent == ua && !v.LastSeenAt.Before(since)
	})
}

func (f *fakeStore) CreateVisitor(_ context.Context, v *models.Visitor) error {
	f.visitors = append(f.visitors, v)
	f.created = append(f.created, v)
	return nil
}

func (f *fakeStore) ApplyVisitorMerge(_ context.Context, _ string, m *store.VisitorMerge) error {
	f.merges = append(f.merges, m)
	return nil
}

func (f *fakeStore) InsertResolutionLog(_ context.Context, _ string, entry *models.ResolutionLogEntry) error {
	if _, ok := f.resolutions[entry.SourceEventID]; ok {
		return duplicateKeyError(store.IdxResolutionSourceEvent)
	}
	f.resolutions[entry.SourceEventID] = entry
	return nil
}

// duplicateKeyError builds an E11000 the way the driver reports it, with the
// violated index named in the message.
func duplicateKeyError(index string) error {
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: "E11000 duplicate key error collection: tenant_ten-1 index: " + index + " dup key",
	}}}
}

func (f *fakeStore) FindResolutionBySourceEvent(_ context.Context, _, eventID string) (*models.ResolutionLogEntry, error) {
	if e, ok := f.resolutions[eventID]; ok {
		return e, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) SetEventVisitor(_ context.Context, _, eventID, visitorID string) error {
	if _, ok := f.backfills[eventID]; !ok {
		f.backfills[eventID] = visitorID
	}
	return nil
}

func (f *fakeStore) RunTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakePublisher records identity updates.
type fakePublisher struct {
	updates []*eventbus.IdentityUpdate
}

func (f *fakePublisher) PublishIdentityUpdate(_ context.Context, u *eventbus.IdentityUpdate) error {
	f.updates = append(f.updates, u)
	return nil
}

func makeMessage(t *testing.T, em *eventbus.EventMessage) *message.Message {
	t.Helper()
	msg, err := eventbus.NewSerializer().MarshalEvent(em)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return msg
}

func testEvent(id string, sig *models.ResolutionData) *models.RawEvent {
	return &models.RawEvent{
		ID:             id,
		TenantID:       "ten-1",
		PixelID:        "pix-1",
		EventType:      models.EventTypePageView,
		URL:            "https://acme.com",
		Resolution:     sig,
		EventTimestamp: eventTime,
	}
}

func TestHandleMatchedEvent(t *testing.T) {
	existing := &models.Visitor{
		ID:         "vis-1",
		TenantID:   "ten-1",
		HemSha256:  "hash-1",
		LastSeenAt: eventTime.Add(-5 * time.Minute),
	}
	f := newFakeStore(existing)
	pub := &fakePublisher{}
	p := NewProcessor(f, NewMemoryLedger(), pub, 30*time.Minute)

	msg := makeMessage(t, &eventbus.EventMessage{
		Event: testEvent("evt-1", &models.ResolutionData{HemSha256: "hash-1", City: "Lyon"}),
	})
	if err := p.Handle(msg); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}

	if len(f.merges) != 1 {
		t.Fatalf("expected 1 merge, got %d", len(f.merges))
	}
	entry := f.resolutions["evt-1"]
	if entry == nil {
		t.Fatal("resolution log entry missing")
	}
	if entry.MatchType != models.MatchTypeHem || entry.Confidence != 0.95 {
		t.Errorf("unexpected decision: %+v", entry)
	}
	if f.backfills["evt-1"] != "vis-1" {
		t.Error("event visitor_id not back-filled")
	}
	if len(pub.updates) != 1 || pub.updates[0].VisitorID != "vis-1" {
		t.Errorf("identity update not published: %+v", pub.updates)
	}
}

func TestHandleUnmatchedEventCreatesVisitor(t *testing.T) {
	f := newFakeStore()
	pub := &fakePublisher{}
	p := NewProcessor(f, NewMemoryLedger(), pub, 30*time.Minute)

	msg := makeMessage(t, &eventbus.EventMessage{
		Event: testEvent("evt-2", &models.ResolutionData{Email: "nobody@acme.com"}),
	})
	if err := p.Handle(msg); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}

	if len(f.created) != 1 {
		t.Fatalf("expected 1 created visitor, got %d", len(f.created))
	}
	entry := f.resolutions["evt-2"]
	if entry.MatchType != models.MatchTypeNew || entry.Confidence != 0 {
		t.Errorf("unexpected decision: %+v", entry)
	}
	if len(pub.updates) != 0 {
		t.Error("creation must not publish an identity update")
	}
	if f.backfills["evt-2"] != f.created[0].ID {
		t.Error("event should be attributed to the new visitor")
	}
}

func TestHandleAnonymousEvent(t *testing.T) {
	f := newFakeStore()
	p := NewProcessor(f, NewMemoryLedger(), &fakePublisher{}, 30*time.Minute)

	msg := makeMessage(t, &eventbus.EventMessage{Event: testEvent("evt-3", nil)})
	if err := p.Handle(msg); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}

	if len(f.created) != 1 {
		t.Fatalf("expected anonymous visitor creation, got %d", len(f.created))
	}
	if f.created[0].IdentityStatus != models.StatusAnonymous {
		t.Errorf("expected anonymous status, got %s", f.created[0].IdentityStatus)
	}
}

func TestHandleRedeliveryViaLedger(t *testing.T) {
	f := newFakeStore()
	ledger := NewMemoryLedger()
	p := NewProcessor(f, ledger, &fakePublisher{}, 30*time.Minute)

	msg := makeMessage(t, &eventbus.EventMessage{
		Event: testEvent("evt-4", &models.ResolutionData{Email: "jane@acme.com"}),
	})
	if err := p.Handle(msg); err != nil {
		t.Fatalf("first Handle() failed: %v", err)
	}
	if err := p.Handle(msg); err != nil {
		t.Fatalf("redelivered Handle() failed: %v", err)
	}

	if len(f.created) != 1 {
		t.Errorf("redelivery must not create a second visitor, got %d", len(f.created))
	}
	if len(f.resolutions) != 1 {
		t.Errorf("redelivery must not write a second resolution, got %d", len(f.resolutions))
	}
}

func TestHandleRedeliveryViaResolutionLog(t *testing.T) {
	// Cold ledger (fresh process) but the decision is already durable.
	f := newFakeStore()
	p1 := NewProcessor(f, NewMemoryLedger(), &fakePublisher{}, 30*time.Minute)
	msg := makeMessage(t, &eventbus.EventMessage{
		Event: testEvent("evt-5", &models.ResolutionData{Email: "jane@acme.com"}),
	})
	if err := p1.Handle(msg); err != nil {
		t.Fatalf("first Handle() failed: %v", err)
	}

	p2 := NewProcessor(f, NewMemoryLedger(), &fakePublisher{}, 30*time.Minute)
	if err := p2.Handle(msg); err != nil {
		t.Fatalf("redelivered Handle() failed: %v", err)
	}
	if len(f.created) != 1 {
		t.Errorf("durable backstop failed: %d visitors created", len(f.created))
	}
}

func TestHandleSyncAttributedEvent(t *testing.T) {
	f := newFakeStore()
	pub := &fakePublisher{}
	p := NewProcessor(f, NewMemoryLedger(), pub, 30*time.Minute)

	msg := makeMessage(t, &eventbus.EventMessage{
		Event:         testEvent("evt-6", &models.ResolutionData{UUID: "dev-1", Email: "jane@acme.com"}),
		SyncVisitorID: "vis-7",
		SyncMatchType: models.MatchTypeUUID,
	})
	if err := p.Handle(msg); err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}

	if len(f.merges) != 0 || len(f.created) != 0 {
		t.Error("sync-attributed event must not merge or create again")
	}
	entry := f.resolutions["evt-6"]
	if entry == nil || entry.VisitorID != "vis-7" || entry.MatchType != models.MatchTypeUUID {
		t.Errorf("audit entry wrong: %+v", entry)
	}
	if f.backfills["evt-6"] != "vis-7" {
		t.Error("resolver should repair the visitor_id back-fill on the sync path")
	}
	if len(pub.updates) != 1 {
		t.Errorf("sync match should still announce, got %d updates", len(pub.updates))
	}
}

// conflictingCreateStore loses every visitor create to a concurrent writer
// holding the same identity key.
type conflictingCreateStore struct {
	*fakeStore
}

func (s *conflictingCreateStore) CreateVisitor(context.Context, *models.Visitor) error {
	return duplicateKeyError("hem_sha256_1")
}

func TestHandleIdentityConflictNacksForRetry(t *testing.T) {
	f := newFakeStore()
	p := NewProcessor(&conflictingCreateStore{f}, NewMemoryLedger(), &fakePublisher{}, 30*time.Minute)

	msg := makeMessage(t, &eventbus.EventMessage{
		Event: testEvent("evt-7", &models.ResolutionData{HemSha256: "hash-9"}),
	})
	if err := p.Handle(msg); err == nil {
		t.Fatal("identity-index conflict must nack for retry, not ack")
	}
	if len(f.resolutions) != 0 {
		t.Error("no resolution must be recorded while the event is unresolved")
	}

	// On redelivery the winner's profile is visible and the waterfall matches.
	f.visitors = append(f.visitors, &models.Visitor{ID: "vis-9", HemSha256: "hash-9"})
	p = NewProcessor(f, NewMemoryLedger(), &fakePublisher{}, 30*time.Minute)
	if err := p.Handle(msg); err != nil {
		t.Fatalf("redelivered Handle() failed: %v", err)
	}
	if f.resolutions["evt-7"] == nil || f.resolutions["evt-7"].VisitorID != "vis-9" {
		t.Errorf("retry should resolve to the winning visitor: %+v", f.resolutions["evt-7"])
	}
}

// racingLogStore simulates another replica committing the resolution between
// our backstop lookup and our insert.
type racingLogStore struct {
	*fakeStore
}

func (s *racingLogStore) FindResolutionBySourceEvent(context.Context, string, string) (*models.ResolutionLogEntry, error) {
	return nil, store.ErrNotFound
}

func (s *racingLogStore) InsertResolutionLog(context.Context, string, *models.ResolutionLogEntry) error {
	return duplicateKeyError(store.IdxResolutionSourceEvent)
}

func TestHandleResolutionRaceAcksWithoutDuplicate(t *testing.T) {
	f := newFakeStore()
	p := NewProcessor(&racingLogStore{f}, NewMemoryLedger(), &fakePublisher{}, 30*time.Minute)

	msg := makeMessage(t, &eventbus.EventMessage{
		Event: testEvent("evt-8", &models.ResolutionData{Email: "sam@acme.com"}),
	})
	if err := p.Handle(msg); err != nil {
		t.Fatalf("Handle() should ack a source_event_id conflict: %v", err)
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	p := NewProcessor(newFakeStore(), NewMemoryLedger(), &fakePublisher{}, 30*time.Minute)
	if err := p.Handle(message.NewMessage("bad", []byte("{not json"))); err == nil {
		t.Error("malformed payload should error for retry/poison routing")
	}
}
