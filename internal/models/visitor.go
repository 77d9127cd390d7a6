// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package models

import "time"

// Identity status ladder. The progression is strictly increasing as signal
// richness increases; no transition removes information. Verified is reachable
// only through an external collaborator (manual confirmation) and is never set
// by this core.
const (
	StatusAnonymous           = "anonymous"
	StatusPartiallyIdentified = "partially_identified"
	StatusIdentified          = "identified"
	StatusVerified            = "verified"
)

// statusRanks orders the identity status ladder for monotonicity checks.
var statusRanks = map[string]int{
	StatusAnonymous:           0,
	StatusPartiallyIdentified: 1,
	StatusIdentified:          2,
	StatusVerified:            3,
}

// StatusRank returns the position of status on the identity ladder.
// Unknown statuses rank below anonymous.
func StatusRank(status string) int {
	if rank, ok := statusRanks[status]; ok {
		return rank
	}
	return -1
}

// ComputeIdentityStatus derives the identity status from the data known about
// a visitor: identified when email and both names are known, partially
// identified when an email or hashed email is known, anonymous otherwise.
func ComputeIdentityStatus(email, hem, firstName, lastName string) string {
	if email != "" && firstName != "" && lastName != "" {
		return StatusIdentified
	}
	if email != "" || hem != "" {
		return StatusPartiallyIdentified
	}
	return StatusAnonymous
}

// Visitor is the durable profile of one resolved identity within a tenant.
//
// Field invariant: a field is only overwritten by a non-empty incoming value;
// incoming empty values never erase existing data. FirstSeenAt is immutable
// after creation; LastSeenAt and the counters are monotonically non-decreasing.
type Visitor struct {
	ID       string `bson:"_id" json:"id"`
	TenantID string `bson:"tenant_id" json:"tenant_id"`

	// UUID is the caller-supplied device identifier from the pixel, when known.
	UUID string `bson:"uuid,omitempty" json:"uuid,omitempty"`

	// Identity attributes.
	FirstName     string `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName      string `bson:"last_name,omitempty" json:"last_name,omitempty"`
	Email         string `bson:"email,omitempty" json:"email,omitempty"`
	BusinessEmail string `bson:"business_email,omitempty" json:"business_email,omitempty"`
	HemSha256     string `bson:"hem_sha256,omitempty" json:"hem_sha256,omitempty"`
	Phone         string `bson:"phone,omitempty" json:"phone,omitempty"`
	MobilePhone   string `bson:"mobile_phone,omitempty" json:"mobile_phone,omitempty"`
	DirectPhone   string `bson:"direct_phone,omitempty" json:"direct_phone,omitempty"`

	// PhoneDigits is the digits-only form of Phone, maintained for indexed
	// matching across formatting variants.
	PhoneDigits string `bson:"phone_digits,omitempty" json:"-"`

	// Company attributes.
	CompanyName   string `bson:"company_name,omitempty" json:"company_name,omitempty"`
	CompanyDomain string `bson:"company_domain,omitempty" json:"company_domain,omitempty"`
	JobTitle      string `bson:"job_title,omitempty" json:"job_title,omitempty"`
	LinkedInURL   string `bson:"linkedin_url,omitempty" json:"linkedin_url,omitempty"`

	// Location attributes.
	City    string `bson:"city,omitempty" json:"city,omitempty"`
	Region  string `bson:"region,omitempty" json:"region,omitempty"`
	Country string `bson:"country,omitempty" json:"country,omitempty"`

	// Device attributes used by the session-window matcher.
	IPAddress string `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	UserAgent string `bson:"user_agent,omitempty" json:"user_agent,omitempty"`

	// Tracking counters. Monotonically non-decreasing.
	EventCount   int64 `bson:"event_count" json:"event_count"`
	SessionCount int64 `bson:"session_count" json:"session_count"`

	// FirstSeenAt is immutable after creation. LastSeenAt only advances.
	FirstSeenAt time.Time `bson:"first_seen_at" json:"first_seen_at"`
	LastSeenAt  time.Time `bson:"last_seen_at" json:"last_seen_at"`

	IdentityStatus string  `bson:"identity_status" json:"identity_status"`
	IntentScore    float64 `bson:"intent_score" json:"intent_score"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewVisitorFromSignals builds a fresh visitor from a signal bundle, applying
// the same skip-empty filter used for merges. Counters seed to 1 and both
// timestamps seed to seenAt.
func NewVisitorFromSignals(id, tenantID string, sig *ResolutionData, seenAt time.Time) *Visitor {
	v := &Visitor{
		ID:           id,
		TenantID:     tenantID,
		EventCount:   1,
		SessionCount: 1,
		FirstSeenAt:  seenAt,
		LastSeenAt:   seenAt,
		CreatedAt:    seenAt,
		UpdatedAt:    seenAt,
	}
	if sig != nil {
		v.UUID = sig.UUID
		v.FirstName = sig.FirstName
		v.LastName = sig.LastName
		v.Email = sig.Email
		v.HemSha256 = sig.HemSha256
		v.Phone = sig.Phone
		v.PhoneDigits = NormalizePhone(sig.Phone)
		v.CompanyName = sig.CompanyName
		v.CompanyDomain = sig.CompanyDomain
		v.JobTitle = sig.JobTitle
		v.LinkedInURL = sig.LinkedInURL
		v.City = sig.City
		v.Region = sig.Region
		v.Country = sig.Country
		v.IPAddress = sig.IPAddress
		v.UserAgent = sig.UserAgent
	}
	v.IdentityStatus = ComputeIdentityStatus(v.Email, v.HemSha256, v.FirstName, v.LastName)
	return v
}
