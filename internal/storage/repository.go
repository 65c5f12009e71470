// Package storage is the SQLite data service: accounts and the client
// session for the auth provider, plus the membership and invoice readers used
// by the session manager and dashboard aggregator.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"bizdash/internal/auth"
	"bizdash/internal/cache"
	"bizdash/internal/core"
	"bizdash/internal/dataservice"
	"bizdash/internal/log"

	_ "modernc.org/sqlite"
)

const membershipCacheSize = 256

type Options struct {
	Logger *log.Logger
	// MembershipCacheTTL of zero disables membership caching.
	MembershipCacheTTL time.Duration
	Now                func() time.Time
}

type SQLiteRepository struct {
	db          *sql.DB
	queries     *Queries
	logger      *log.Logger
	now         func() time.Time
	memberships *cache.LRUCache[[]core.Membership]
	loads       singleflight.Group
}

var (
	_ auth.UserStore               = (*SQLiteRepository)(nil)
	_ dataservice.MembershipReader = (*SQLiteRepository)(nil)
	_ dataservice.InvoiceReader    = (*SQLiteRepository)(nil)
)

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteRepository(dbPath string, opts Options) (*SQLiteRepository, error) {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger.WithComponent(log.ComponentStorage)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("SQLite repository ready", "path", dbPath, "schema_version", version)

	return &SQLiteRepository{
		db:          db,
		queries:     New(db),
		logger:      logger,
		now:         opts.Now,
		memberships: cache.NewLRUCache[[]core.Membership](membershipCacheSize, opts.MembershipCacheTTL),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// MembershipCache exposes the cache so a cache.Manager can clean it.
func (r *SQLiteRepository) MembershipCache() *cache.LRUCache[[]core.Membership] {
	return r.memberships
}

// QueryActiveMemberships returns the user's active memberships in insertion
// order. Concurrent lookups for the same user share one query.
func (r *SQLiteRepository) QueryActiveMemberships(ctx context.Context, userID string) ([]core.Membership, error) {
	if cached, ok := r.memberships.Get(userID); ok {
		return cloneMemberships(cached), nil
	}

	v, err, _ := r.loads.Do(userID, func() (any, error) {
		rows, err := r.queries.ListActiveMemberships(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list active memberships: %w", err)
		}
		out := make([]core.Membership, 0, len(rows))
		for _, m := range rows {
			out = append(out, core.Membership{
				BusinessID: m.BusinessID,
				Role:       core.Role(m.Role),
				Business: core.Business{
					ID:        m.BusinessID,
					Name:      m.Name,
					LegalName: m.LegalName,
					Industry:  m.Industry,
					Currency:  m.Currency,
				},
			})
		}
		r.memberships.Set(userID, out)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneMemberships(v.([]core.Membership)), nil
}

// QueryRecentInvoices returns up to limit invoices, newest created first,
// each joined with its contact.
func (r *SQLiteRepository) QueryRecentInvoices(ctx context.Context, businessID string, limit int) ([]core.Invoice, error) {
	rows, err := r.queries.ListRecentInvoices(ctx, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent invoices: %w", err)
	}

	out := make([]core.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := invoiceFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func invoiceFromRow(row InvoiceRow) (core.Invoice, error) {
	inv := core.Invoice{
		ID:            row.ID,
		InvoiceNumber: row.InvoiceNumber,
		Status:        core.InvoiceStatus(row.Status),
	}
	if row.TotalCents.Valid {
		inv.TotalAmount = core.Cents(row.TotalCents.Int64)
	}
	if row.BalanceCents.Valid {
		inv.BalanceDue = core.Cents(row.BalanceCents.Int64)
	}

	d, err := core.ParseDate(row.InvoiceDate)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("invoice %s: invoice_date %q: %w", row.ID, row.InvoiceDate, err)
	}
	inv.InvoiceDate = d
	if row.DueDate.Valid && row.DueDate.String != "" {
		due, err := core.ParseDate(row.DueDate.String)
		if err != nil {
			return core.Invoice{}, fmt.Errorf("invoice %s: due_date %q: %w", row.ID, row.DueDate.String, err)
		}
		inv.DueDate = &due
	}
	if row.ContactID.Valid {
		inv.Contact = &core.Contact{
			CompanyName: row.CompanyName.String,
			FirstName:   row.FirstName.String,
			LastName:    row.LastName.String,
		}
	}
	return inv, nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u auth.UserRecord) error {
	md, err := encodeMetadata(u.Metadata)
	if err != nil {
		return err
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	err = r.queries.CreateUser(ctx, UserRow{
		ID:           u.ID,
		Email:        core.NormalizeEmail(u.Email),
		PasswordHash: u.PasswordHash,
		Metadata:     md,
		CreatedAt:    created.Unix(),
	})
	if isUniqueViolation(err) {
		return core.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) FindUserByEmail(ctx context.Context, email string) (auth.UserRecord, error) {
	row, err := r.queries.GetUserByEmail(ctx, core.NormalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.UserRecord{}, auth.ErrUserNotFound
	}
	if err != nil {
		return auth.UserRecord{}, fmt.Errorf("get user by email: %w", err)
	}
	md, err := decodeMetadata(row.Metadata)
	if err != nil {
		return auth.UserRecord{}, err
	}
	return auth.UserRecord{
		ID:           row.ID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		Metadata:     md,
		CreatedAt:    time.Unix(row.CreatedAt, 0).UTC(),
	}, nil
}

func (r *SQLiteRepository) UpdateUserMetadata(ctx context.Context, userID string, metadata map[string]any) error {
	md, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	n, err := r.queries.UpdateUserMetadata(ctx, userID, md)
	if err != nil {
		return fmt.Errorf("update user metadata: %w", err)
	}
	if n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (r *SQLiteRepository) LoadClientSession(ctx context.Context) (*core.Session, error) {
	row, err := r.queries.GetClientSession(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client session: %w", err)
	}
	md, err := decodeMetadata(row.Metadata)
	if err != nil {
		return nil, err
	}
	return &core.Session{
		AccessToken: row.AccessToken,
		User:        core.Identity{UserID: row.UserID, Email: row.Email, Metadata: md},
		ExpiresAt:   time.Unix(row.ExpiresAt, 0).UTC(),
	}, nil
}

func (r *SQLiteRepository) SaveClientSession(ctx context.Context, s core.Session) error {
	if err := r.queries.UpsertClientSession(ctx, s.User.UserID, s.AccessToken, s.ExpiresAt.Unix()); err != nil {
		return fmt.Errorf("save client session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ClearClientSession(ctx context.Context) error {
	if err := r.queries.DeleteClientSession(ctx); err != nil {
		return fmt.Errorf("clear client session: %w", err)
	}
	return nil
}

func encodeMetadata(md map[string]any) (sql.NullString, error) {
	if len(md) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode user metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMetadata(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(s.String), &md); err != nil {
		return nil, fmt.Errorf("decode user metadata: %w", err)
	}
	return md, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func cloneMemberships(in []core.Membership) []core.Membership {
	return append([]core.Membership{}, in...)
}
