// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package merge implements the coalesce merge primitive shared by the upsert
// engine and the CDC sync.
//
// The rule is "latest non-empty value wins": an incoming value replaces the
// stored value only when the incoming value is non-empty. An empty incoming
// value never erases known data. Keeping one implementation of this rule is
// deliberate; the two write paths must not drift apart semantically.
package merge

import (
	"strings"
	"time"
)

// NonEmpty reports whether s carries a usable value.
// Whitespace-only strings are treated as empty.
func NonEmpty(s string) bool {
	return strings.TrimSpace(s) != ""
}

// String returns incoming when it is non-empty, otherwise existing.
func String(existing, incoming string) string {
	if NonEmpty(incoming) {
		return incoming
	}
	return existing
}

// StringPtr returns a pointer to incoming when it is non-empty, otherwise
// existing. Used for nullable analytical-store columns.
func StringPtr(existing *string, incoming string) *string {
	if NonEmpty(incoming) {
		v := incoming
		return &v
	}
	return existing
}

// Time returns the later of existing and incoming. A zero incoming time never
// moves a stored timestamp backwards.
func Time(existing, incoming time.Time) time.Time {
	if incoming.After(existing) {
		return incoming
	}
	return existing
}

// Int64 returns incoming when it is positive, otherwise existing.
// Counters replicated through CDC use this to stay monotonic.
func Int64(existing, incoming int64) int64 {
	if incoming > existing {
		return incoming
	}
	return existing
}
