// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package models

import (
	"testing"
	"time"
)

func TestComputeIdentityStatus(t *testing.T) {
	tests := []struct {
		name      string
		email     string
		hem       string
		firstName string
		lastName  string
		want      string
	}{
		{"no signals", "", "", "", "", StatusAnonymous},
		{"hem only", "", "abc123", "", "", StatusPartiallyIdentified},
		{"email only", "jane@acme.com", "", "", "", StatusPartiallyIdentified},
		{"email and first name only", "jane@acme.com", "", "Jane", "", StatusPartiallyIdentified},
		{"email and both names", "jane@acme.com", "", "Jane", "Doe", StatusIdentified},
		{"names without email", "", "", "Jane", "Doe", StatusAnonymous},
		{"names with hem", "", "abc123", "Jane", "Doe", StatusPartiallyIdentified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeIdentityStatus(tt.email, tt.hem, tt.firstName, tt.lastName)
			if got != tt.want {
				t.Errorf("ComputeIdentityStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusRank(t *testing.T) {
	order := []string{StatusAnonymous, StatusPartiallyIdentified, StatusIdentified, StatusVerified}
	for i := 1; i < len(order); i++ {
		if StatusRank(order[i]) <= StatusRank(order[i-1]) {
			t.Errorf("expected %s to rank above %s", order[i], order[i-1])
		}
	}
	if StatusRank("bogus") >= StatusRank(StatusAnonymous) {
		t.Error("unknown status should rank below anonymous")
	}
}

func TestValidEventType(t *testing.T) {
	for _, et := range EventTypes {
		if !ValidEventType(et) {
			t.Errorf("expected %q to be valid", et)
		}
	}
	if ValidEventType("purchase") {
		t.Error("unexpected event type accepted")
	}
}

func TestResolutionDataSignalFields(t *testing.T) {
	t.Run("only non-empty fields included", func(t *testing.T) {
		sig := &ResolutionData{
			Email:     "jane@acme.com",
			Phone:     "",
			FirstName: "Jane",
		}
		fields := sig.SignalFields()
		if len(fields) != 2 {
			t.Fatalf("expected 2 fields, got %d: %v", len(fields), fields)
		}
		if fields["email"] != "jane@acme.com" {
			t.Errorf("email field missing: %v", fields)
		}
		if _, ok := fields["phone"]; ok {
			t.Error("empty phone should not appear in signal fields")
		}
	})

	t.Run("nil and empty bundles", func(t *testing.T) {
		var sig *ResolutionData
		if sig.SignalFields() != nil {
			t.Error("nil bundle should produce nil fields")
		}
		if !sig.IsZero() {
			t.Error("nil bundle should be zero")
		}
		empty := &ResolutionData{}
		if !empty.IsZero() {
			t.Error("empty bundle should be zero")
		}
	})
}

func TestNewVisitorFromSignals(t *testing.T) {
	now := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

	t.Run("seeds counters and timestamps", func(t *testing.T) {
		v := NewVisitorFromSignals("vis-1", "ten-1", &ResolutionData{Email: "jane@acme.com"}, now)
		if v.EventCount != 1 || v.SessionCount != 1 {
			t.Errorf("counters should seed to 1, got %d/%d", v.EventCount, v.SessionCount)
		}
		if !v.FirstSeenAt.Equal(now) || !v.LastSeenAt.Equal(now) {
			t.Error("first/last seen should seed to creation time")
		}
		if v.IdentityStatus != StatusPartiallyIdentified {
			t.Errorf("expected partially_identified, got %s", v.IdentityStatus)
		}
	})

	t.Run("nil signals create anonymous visitor", func(t *testing.T) {
		v := NewVisitorFromSignals("vis-2", "ten-1", nil, now)
		if v.IdentityStatus != StatusAnonymous {
			t.Errorf("expected anonymous, got %s", v.IdentityStatus)
		}
	})
}
