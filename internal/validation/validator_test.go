// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package validation

import (
	"strings"
	"testing"
)

type testEventPayload struct {
	EventType   string `validate:"required,event_type"`
	URL         string `validate:"omitempty,url"`
	Email       string `validate:"omitempty,email"`
	HemSHA256   string `validate:"omitempty,sha256hex"`
	ScrollDepth int    `validate:"omitempty,gte=0,lte=100"`
}

func TestValidateStruct(t *testing.T) {
	validHem := strings.Repeat("ab", 32)

	tests := []struct {
		name      string
		payload   testEventPayload
		wantField string
	}{
		{
			name:    "valid payload",
			payload: testEventPayload{EventType: "page_view", URL: "https://acme.com/pricing", HemSHA256: validHem},
		},
		{
			name:      "missing event type",
			payload:   testEventPayload{URL: "https://acme.com"},
			wantField: "EventType",
		},
		{
			name:      "unknown event type",
			payload:   testEventPayload{EventType: "purchase"},
			wantField: "EventType",
		},
		{
			name:      "malformed email",
			payload:   testEventPayload{EventType: "identify", Email: "not-an-email"},
			wantField: "Email",
		},
		{
			name:      "short hem digest",
			payload:   testEventPayload{EventType: "identify", HemSHA256: "abc123"},
			wantField: "HemSHA256",
		},
		{
			name:      "scroll depth out of range",
			payload:   testEventPayload{EventType: "scroll", ScrollDepth: 140},
			wantField: "ScrollDepth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.payload)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid payload, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			found := false
			for _, fe := range err.Errors() {
				if fe.Field() == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.wantField, err)
			}
		})
	}
}

func TestValidateStructCollectsAllErrors(t *testing.T) {
	payload := testEventPayload{EventType: "bogus", Email: "nope", ScrollDepth: -1}
	err := ValidateStruct(&payload)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(err.Errors()) != 3 {
		t.Errorf("expected 3 field errors, got %d: %v", len(err.Errors()), err)
	}
	details := err.Details()
	if details == nil {
		t.Fatal("expected details map")
	}
	fields, ok := details["fields"].([]map[string]interface{})
	if !ok || len(fields) != 3 {
		t.Errorf("expected 3 detail entries, got %v", details)
	}
}
