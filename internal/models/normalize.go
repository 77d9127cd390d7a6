// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package models

import "strings"

// NormalizePhone reduces a phone number to its digits. Returns "" when fewer
// than 10 digits remain, which keeps short fragments out of phone matching.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 {
		return ""
	}
	return digits
}

// NormalizeToken lower-cases and trims a name or company token for
// case-insensitive comparison.
func NormalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
