// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

// Package models defines the persistent data model shared by the ingestion
// gateway, the identity resolver, and the CDC sync: raw behavioral events,
// visitor profiles, resolution audit entries, and the pixel/tenant control
// plane records.
package models

import (
	"time"
)

// Event types accepted by the ingestion gateway.
const (
	EventTypePageView     = "page_view"
	EventTypeClick        = "click"
	EventTypeScroll       = "scroll"
	EventTypeFormSubmit   = "form_submit"
	EventTypeCustom       = "custom"
	EventTypeIdentify     = "identify"
	EventTypeSessionStart = "session_start"
	EventTypeSessionEnd   = "session_end"
)

// EventTypes lists every accepted event type, used for request validation.
var EventTypes = []string{
	EventTypePageView,
	EventTypeClick,
	EventTypeScroll,
	EventTypeFormSubmit,
	EventTypeCustom,
	EventTypeIdentify,
	EventTypeSessionStart,
	EventTypeSessionEnd,
}

// ValidEventType reports whether t is an accepted event type.
func ValidEventType(t string) bool {
	for _, et := range EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// RawEvent is an append-only behavioral event captured by the tracking pixel.
//
// Once written a RawEvent is never mutated, with one exception: VisitorID is
// back-filled exactly once after the synchronous identity merge. Retention is
// an external concern; this core never deletes events.
type RawEvent struct {
	ID            string          `bson:"_id" json:"id"`
	TenantID      string          `bson:"tenant_id" json:"tenant_id"`
	PixelID       string          `bson:"pixel_id" json:"pixel_id"`
	EventType     string          `bson:"event_type" json:"event_type"`
	URL           string          `bson:"url" json:"url"`
	Referrer      string          `bson:"referrer,omitempty" json:"referrer,omitempty"`
	TimeOnPageSec int             `bson:"time_on_page_sec,omitempty" json:"time_on_page_sec,omitempty"`
	ScrollDepth   int             `bson:"scroll_depth,omitempty" json:"scroll_depth,omitempty"`
	ElementID     string          `bson:"element_id,omitempty" json:"element_id,omitempty"`
	ElementText   string          `bson:"element_text,omitempty" json:"element_text,omitempty"`
	Metadata      map[string]any  `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Resolution    *ResolutionData `bson:"resolution,omitempty" json:"resolution,omitempty"`

	// VisitorID is empty until the synchronous merge (or the resolver)
	// attributes the event to a visitor. Back-filled at most once.
	VisitorID string `bson:"visitor_id,omitempty" json:"visitor_id,omitempty"`

	EventTimestamp time.Time `bson:"event_timestamp" json:"event_timestamp"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// ResolutionData is the transient identity signal bundle a pixel provider
// attaches to an event. Every field is optional; empty fields carry no signal.
type ResolutionData struct {
	UUID          string `bson:"uuid,omitempty" json:"uuid,omitempty"`
	HemSha256     string `bson:"hem_sha256,omitempty" json:"hem_sha256,omitempty" validate:"omitempty,sha256hex"`
	Email         string `bson:"email,omitempty" json:"email,omitempty"`
	Phone         string `bson:"phone,omitempty" json:"phone,omitempty"`
	FirstName     string `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName      string `bson:"last_name,omitempty" json:"last_name,omitempty"`
	CompanyName   string `bson:"company_name,omitempty" json:"company_name,omitempty"`
	CompanyDomain string `bson:"company_domain,omitempty" json:"company_domain,omitempty"`
	JobTitle      string `bson:"job_title,omitempty" json:"job_title,omitempty"`
	LinkedInURL   string `bson:"linkedin_url,omitempty" json:"linkedin_url,omitempty"`
	City          string `bson:"city,omitempty" json:"city,omitempty"`
	Region        string `bson:"region,omitempty" json:"region,omitempty"`
	Country       string `bson:"country,omitempty" json:"country,omitempty"`
	IPAddress     string `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	UserAgent     string `bson:"user_agent,omitempty" json:"user_agent,omitempty"`

	// Extra carries provider-specific fields that have no first-class column.
	Extra map[string]string `bson:"extra,omitempty" json:"extra,omitempty"`
}

// IsZero reports whether the bundle carries no signal at all.
func (r *ResolutionData) IsZero() bool {
	if r == nil {
		return true
	}
	return r.UUID == "" && r.HemSha256 == "" && r.Email == "" && r.Phone == "" &&
		r.FirstName == "" && r.LastName == "" && r.CompanyName == "" &&
		r.CompanyDomain == "" && r.IPAddress == "" && r.UserAgent == "" &&
		len(r.Extra) == 0
}

// SignalFields returns the non-empty signal fields as a map, used when writing
// resolution audit entries. Only fields that contributed signal are included.
func (r *ResolutionData) SignalFields() map[string]string {
	if r == nil {
		return nil
	}
	fields := map[string]string{}
	put := func(k, v string) {
		if v != "" {
			fields[k] = v
		}
	}
	put("uuid", r.UUID)
	put("hem_sha256", r.HemSha256)
	put("email", r.Email)
	put("phone", r.Phone)
	put("first_name", r.FirstName)
	put("last_name", r.LastName)
	put("company_name", r.CompanyName)
	put("company_domain", r.CompanyDomain)
	put("ip_address", r.IPAddress)
	put("user_agent", r.UserAgent)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
