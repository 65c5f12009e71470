package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bizdash/internal/auth"
	"bizdash/internal/core"
	"bizdash/internal/seed"
)

// ImportStats counts the rows written by ImportDataset.
type ImportStats struct {
	Users       int
	Businesses  int
	Memberships int
	Contacts    int
	Invoices    int
}

// ImportDataset upserts a seed dataset in one transaction. Existing users are
// left untouched so re-importing never resets a password.
func (r *SQLiteRepository) ImportDataset(ctx context.Context, ds *seed.Dataset, h auth.Hasher) (ImportStats, error) {
	var stats ImportStats

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()
	q := r.queries.WithTx(tx)
	now := r.now()

	for _, u := range ds.Users {
		email := core.NormalizeEmail(u.Email)
		if _, err := q.GetUserByEmail(ctx, email); err == nil {
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			return stats, fmt.Errorf("lookup seed user %s: %w", email, err)
		}
		hash, err := h.Hash(u.Password)
		if err != nil {
			return stats, fmt.Errorf("hash seed password for %s: %w", email, err)
		}
		md, err := encodeMetadata(u.Metadata)
		if err != nil {
			return stats, err
		}
		if err := q.CreateUser(ctx, UserRow{ID: u.ID, Email: email, PasswordHash: hash, Metadata: md, CreatedAt: now.Unix()}); err != nil {
			return stats, fmt.Errorf("insert seed user %s: %w", email, err)
		}
		stats.Users++
	}

	for _, b := range ds.Businesses {
		if err := q.UpsertBusiness(ctx, b.ID, b.Name, b.LegalName, b.Industry, b.Currency, now.Unix()); err != nil {
			return stats, fmt.Errorf("upsert business %s: %w", b.ID, err)
		}
		stats.Businesses++
	}

	for i, m := range ds.Memberships {
		created := now.Add(time.Duration(i) * time.Millisecond).Unix()
		if err := q.UpsertMembership(ctx, m.BusinessID, m.UserID, m.Role, m.IsActive(), created); err != nil {
			return stats, fmt.Errorf("upsert membership %s/%s: %w", m.BusinessID, m.UserID, err)
		}
		stats.Memberships++
	}

	for _, c := range ds.Contacts {
		if err := q.UpsertContact(ctx, c.ID, c.BusinessID, c.CompanyName, c.FirstName, c.LastName); err != nil {
			return stats, fmt.Errorf("upsert contact %s: %w", c.ID, err)
		}
		stats.Contacts++
	}

	for i, inv := range ds.Invoices {
		p := UpsertInvoiceParams{
			ID:            inv.ID,
			BusinessID:    inv.BusinessID,
			InvoiceNumber: inv.InvoiceNumber,
			Status:        inv.Status,
			InvoiceDate:   inv.InvoiceDate,
			CreatedAt:     inv.CreatedAtOr(now.Add(time.Duration(i) * time.Second)).Unix(),
		}
		if inv.ContactID != "" {
			p.ContactID = sql.NullString{String: inv.ContactID, Valid: true}
		}
		if inv.TotalAmount != nil {
			p.TotalCents = sql.NullInt64{Int64: inv.TotalAmount.Cents, Valid: true}
		}
		if inv.BalanceDue != nil {
			p.BalanceCents = sql.NullInt64{Int64: inv.BalanceDue.Cents, Valid: true}
		}
		if inv.DueDate != "" {
			p.DueDate = sql.NullString{String: inv.DueDate, Valid: true}
		}
		if err := q.UpsertInvoice(ctx, p); err != nil {
			return stats, fmt.Errorf("upsert invoice %s: %w", inv.ID, err)
		}
		stats.Invoices++
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit import: %w", err)
	}
	r.memberships.Purge()

	r.logger.Info("Seed dataset imported",
		"users", stats.Users,
		"businesses", stats.Businesses,
		"memberships", stats.Memberships,
		"contacts", stats.Contacts,
		"invoices", stats.Invoices)
	return stats, nil
}
