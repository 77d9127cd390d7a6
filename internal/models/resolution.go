// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package models

import "time"

// Match types written to the resolution log, in descending confidence order.
// uuid is the synchronous device-id match; the rest form the async waterfall.
const (
	MatchTypeUUID        = "uuid"
	MatchTypeHem         = "hem"
	MatchTypeEmail       = "email"
	MatchTypePhone       = "phone"
	MatchTypeNameCompany = "name_company"
	MatchTypeIPUA        = "ip_ua"
	MatchTypeNew         = "new"
)

// matchConfidences assigns each match type its confidence score.
var matchConfidences = map[string]float64{
	MatchTypeUUID:        1.0,
	MatchTypeHem:         0.95,
	MatchTypeEmail:       0.90,
	MatchTypePhone:       0.80,
	MatchTypeNameCompany: 0.70,
	MatchTypeIPUA:        0.50,
	MatchTypeNew:         0,
}

// MatchConfidence returns the confidence score for a match type, 0 for
// unknown types.
func MatchConfidence(matchType string) float64 {
	return matchConfidences[matchType]
}

// ResolutionLogEntry is the append-only audit record of one resolver decision.
// Exactly one entry is written per processed event; the unique index on
// SourceEventID doubles as the resolver's durable idempotency guard.
type ResolutionLogEntry struct {
	ID            string            `bson:"_id" json:"id"`
	TenantID      string            `bson:"tenant_id" json:"tenant_id"`
	VisitorID     string            `bson:"visitor_id" json:"visitor_id"`
	MatchType     string            `bson:"match_type" json:"match_type"`
	Confidence    float64           `bson:"confidence" json:"confidence"`
	MatchedAt     time.Time         `bson:"matched_at" json:"matched_at"`
	SourceEventID string            `bson:"source_event_id" json:"source_event_id"`
	Signals       map[string]string `bson:"signals,omitempty" json:"signals,omitempty"`
}
