// Signalweave - Visitor Identity Resolution and Event Analytics
// Copyright 2026 Signalweave contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signalweave/signalweave

package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/signalweave/signalweave/internal/merge"
	"github.com/signalweave/signalweave/internal/metrics"
	"github.com/signalweave/signalweave/internal/models"
)

const visitorColumns = `id, tenant_id, uuid, first_name, last_name, email,
	business_email, hem_sha256, phone, company_name, company_domain, job_title,
	linkedin_url, city, region, country, ip_address, user_agent, event_count,
	session_count, first_seen_at, last_seen_at, identity_status, intent_score,
	created_at, updated_at`

// UpsertVisitor replicates a visitor post-image into the analytical store.
//
// Change streams can deliver post-images out of order after a resume, so the
// row is not blindly overwritten: identity columns follow the skip-empty merge
// rule, counters and last_seen_at only move forward, and the identity status
// never steps down the ladder. Applying the same change twice is a no-op.
func (w *Warehouse) UpsertVisitor(ctx context.Context, v *models.Visitor) error {
	ctx, cancel := w.writeCtx(ctx)
	defer cancel()

	start := time.Now()
	err := w.upsertVisitor(ctx, v)
	metrics.RecordWarehouseWrite("visitors", time.Since(start), err)
	return err
}

func (w *Warehouse) upsertVisitor(ctx context.Context, v *models.Visitor) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	existing, err := scanVisitor(tx.QueryRowContext(ctx,
		`SELECT `+visitorColumns+` FROM visitors WHERE id = ?`, v.ID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `INSERT INTO visitors (`+visitorColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			visitorArgs(v)...); err != nil {
			return fmt.Errorf("insert visitor %s: %w", v.ID, err)
		}
	case err != nil:
		return fmt.Errorf("load visitor %s: %w", v.ID, err)
	default:
		merged := mergeVisitorRow(existing, v)
		if _, err := tx.ExecContext(ctx, `UPDATE visitors SET
			tenant_id = ?, uuid = ?, first_name = ?, last_name = ?, email = ?,
			business_email = ?, hem_sha256 = ?, phone = ?, company_name = ?,
			company_domain = ?, job_title = ?, linkedin_url = ?, city = ?,
			region = ?, country = ?, ip_address = ?, user_agent = ?,
			event_count = ?, session_count = ?, first_seen_at = ?,
			last_seen_at = ?, identity_status = ?, intent_score = ?,
			created_at = ?, updated_at = ?
			WHERE id = ?`,
			append(visitorArgs(merged)[1:], merged.ID)...); err != nil {
			return fmt.Errorf("update visitor %s: %w", v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// mergeVisitorRow reconciles a stored row with an incoming post-image. Identity
// columns keep the stored value when the incoming one is empty; counters,
// timestamps and the status ladder are monotonic in both directions, so a stale
// post-image cannot roll the row backwards.
func mergeVisitorRow(existing, incoming *models.Visitor) *models.Visitor {
	out := *existing

	out.UUID = merge.String(existing.UUID, incoming.UUID)
	out.FirstName = merge.String(existing.FirstName, incoming.FirstName)
	out.LastName = merge.String(existing.LastName, incoming.LastName)
	out.Email = merge.String(existing.Email, incoming.Email)
	out.BusinessEmail = merge.String(existing.BusinessEmail, incoming.BusinessEmail)
	out.HemSha256 = merge.String(existing.HemSha256, incoming.HemSha256)
	out.Phone = merge.String(existing.Phone, incoming.Phone)
	out.CompanyName = merge.String(existing.CompanyName, incoming.CompanyName)
	out.CompanyDomain = merge.String(existing.CompanyDomain, incoming.CompanyDomain)
	out.JobTitle = merge.String(existing.JobTitle, incoming.JobTitle)
	out.LinkedInURL = merge.String(existing.LinkedInURL, incoming.LinkedInURL)
	out.City = merge.String(existing.City, incoming.City)
	out.Region = merge.String(existing.Region, incoming.Region)
	out.Country = merge.String(existing.Country, incoming.Country)
	out.IPAddress = merge.String(existing.IPAddress, incoming.IPAddress)
	out.UserAgent = merge.String(existing.UserAgent, incoming.UserAgent)

	out.EventCount = merge.Int64(existing.EventCount, incoming.EventCount)
	out.SessionCount = merge.Int64(existing.SessionCount, incoming.SessionCount)
	out.LastSeenAt = merge.Time(existing.LastSeenAt, incoming.LastSeenAt)
	out.UpdatedAt = merge.Time(existing.UpdatedAt, incoming.UpdatedAt)

	if models.StatusRank(incoming.IdentityStatus) > models.StatusRank(existing.IdentityStatus) {
		out.IdentityStatus = incoming.IdentityStatus
	}
	if incoming.IntentScore > existing.IntentScore {
		out.IntentScore = incoming.IntentScore
	}
	return &out
}

func visitorArgs(v *models.Visitor) []any {
	return []any{
		v.ID, v.TenantID, v.UUID, v.FirstName, v.LastName, v.Email,
		v.BusinessEmail, v.HemSha256, v.Phone, v.CompanyName, v.CompanyDomain,
		v.JobTitle, v.LinkedInURL, v.City, v.Region, v.Country, v.IPAddress,
		v.UserAgent, v.EventCount, v.SessionCount, v.FirstSeenAt, v.LastSeenAt,
		v.IdentityStatus, v.IntentScore, v.CreatedAt, v.UpdatedAt,
	}
}

func scanVisitor(row *sql.Row) (*models.Visitor, error) {
	var v models.Visitor
	err := row.Scan(
		&v.ID, &v.TenantID, &v.UUID, &v.FirstName, &v.LastName, &v.Email,
		&v.BusinessEmail, &v.HemSha256, &v.Phone, &v.CompanyName, &v.CompanyDomain,
		&v.JobTitle, &v.LinkedInURL, &v.City, &v.Region, &v.Country, &v.IPAddress,
		&v.UserAgent, &v.EventCount, &v.SessionCount, &v.FirstSeenAt, &v.LastSeenAt,
		&v.IdentityStatus, &v.IntentScore, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
