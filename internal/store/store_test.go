// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package store

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestIsDuplicateKeyOnIndex(t *testing.T) {
	e11000 := func(index string) error {
		return mongo.WriteException{WriteErrors: []mongo.WriteError{{
			Code:    11000,
			Message: "E11000 duplicate key error collection: tenant_ten-1 index: " + index + " dup key",
		}}}
	}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"matching index", e11000(IdxResolutionSourceEvent), true},
		{"different index", e11000("hem_sha256_1"), false},
		{"not a duplicate", errors.New("network timeout"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDuplicateKeyOnIndex(tt.err, IdxResolutionSourceEvent); got != tt.want {
				t.Errorf("IsDuplicateKeyOnIndex() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildMergeUpdate(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	seen := time.Date(2026, 5, 1, 11, 59, 0, 0, time.UTC)

	t.Run("full merge", func(t *testing.T) {
		m := &VisitorMerge{
			VisitorID:  "vis-1",
			Set:        map[string]interface{}{"email": "jane@acme.com", "identity_status": "partially_identified"},
			EventsInc:  1,
			SessionInc: 1,
			LastSeenAt: seen,
		}
		update := buildMergeUpdate(m, now)

		set := update["$set"].(bson.M)
		if set["email"] != "jane@acme.com" {
			t.Errorf("email not in $set: %v", set)
		}
		if set["updated_at"] != now {
			t.Errorf("updated_at not stamped: %v", set)
		}
		if _, ok := set["first_seen_at"]; ok {
			t.Error("first_seen_at must never be set by a merge")
		}

		inc := update["$inc"].(bson.M)
		if inc["event_count"] != int64(1) || inc["session_count"] != int64(1) {
			t.Errorf("unexpected $inc: %v", inc)
		}

		max := update["$max"].(bson.M)
		if max["last_seen_at"] != seen {
			t.Errorf("last_seen_at should use $max: %v", max)
		}
	})

	t.Run("no counters no timestamp", func(t *testing.T) {
		m := &VisitorMerge{VisitorID: "vis-1", Set: map[string]interface{}{"city": "Lyon"}}
		update := buildMergeUpdate(m, now)

		if _, ok := update["$inc"]; ok {
			t.Error("$inc should be omitted when counters are zero")
		}
		if _, ok := update["$max"]; ok {
			t.Error("$max should be omitted when last seen is zero")
		}
	})
}
