// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package merge

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		incoming string
		want     string
	}{
		{"incoming wins when non-empty", "old@example.com", "new@example.com", "new@example.com"},
		{"empty incoming keeps existing", "Acme Corp", "", "Acme Corp"},
		{"whitespace incoming keeps existing", "Acme Corp", "   ", "Acme Corp"},
		{"incoming fills empty existing", "", "Jane", "Jane"},
		{"both empty stays empty", "", "", ""},
		{"weaker signal still overwrites", "Smith", "Smyth", "Smyth"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := String(tt.existing, tt.incoming); got != tt.want {
				t.Errorf("String(%q, %q) = %q, want %q", tt.existing, tt.incoming, got, tt.want)
			}
		})
	}
}

func TestStringPtr(t *testing.T) {
	existing := "Acme Corp"

	t.Run("non-empty incoming replaces", func(t *testing.T) {
		got := StringPtr(&existing, "Globex")
		if got == nil || *got != "Globex" {
			t.Errorf("expected Globex, got %v", got)
		}
	})

	t.Run("empty incoming keeps existing pointer", func(t *testing.T) {
		got := StringPtr(&existing, "")
		if got != &existing {
			t.Error("expected existing pointer to be returned unchanged")
		}
	})

	t.Run("empty incoming with nil existing stays nil", func(t *testing.T) {
		if got := StringPtr(nil, ""); got != nil {
			t.Errorf("expected nil, got %q", *got)
		}
	})
}

func TestTime(t *testing.T) {
	earlier := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	later := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	t.Run("later incoming advances", func(t *testing.T) {
		if got := Time(earlier, later); !got.Equal(later) {
			t.Errorf("expected %v, got %v", later, got)
		}
	})

	t.Run("earlier incoming never rewinds", func(t *testing.T) {
		if got := Time(later, earlier); !got.Equal(later) {
			t.Errorf("expected %v, got %v", later, got)
		}
	})

	t.Run("zero incoming keeps existing", func(t *testing.T) {
		if got := Time(earlier, time.Time{}); !got.Equal(earlier) {
			t.Errorf("expected %v, got %v", earlier, got)
		}
	})
}

func TestInt64(t *testing.T) {
	if got := Int64(5, 7); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	if got := Int64(5, 3); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
	if got := Int64(5, 0); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}
