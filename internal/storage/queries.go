package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx so queries run inside or outside
// a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Row types mirror the table columns.
type (
	UserRow struct {
		ID           string
		Email        string
		PasswordHash string
		Metadata     sql.NullString
		CreatedAt    int64
	}

	SessionRow struct {
		UserID      string
		Email       string
		Metadata    sql.NullString
		AccessToken string
		ExpiresAt   int64
	}

	MembershipRow struct {
		BusinessID string
		Role       string
		Name       string
		LegalName  string
		Industry   string
		Currency   string
	}

	InvoiceRow struct {
		ID            string
		InvoiceNumber string
		TotalCents    sql.NullInt64
		BalanceCents  sql.NullInt64
		Status        string
		InvoiceDate   string
		DueDate       sql.NullString
		ContactID     sql.NullString
		CompanyName   sql.NullString
		FirstName     sql.NullString
		LastName      sql.NullString
	}

	ActivityRow struct {
		ID         string
		Type       string
		UserID     string
		Email      string
		BusinessID string
		Snapshot   sql.NullString
		OccurredAt int64
		RecordedAt int64
	}
)

const createUser = `INSERT INTO users (id, email, password_hash, metadata, created_at) VALUES (?, ?, ?, ?, ?)`

func (q *Queries) CreateUser(ctx context.Context, u UserRow) error {
	_, err := q.db.ExecContext(ctx, createUser, u.ID, u.Email, u.PasswordHash, u.Metadata, u.CreatedAt)
	return err
}

const getUserByEmail = `SELECT id, email, password_hash, metadata, created_at FROM users WHERE email = ?`

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (UserRow, error) {
	var u UserRow
	err := q.db.QueryRowContext(ctx, getUserByEmail, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Metadata, &u.CreatedAt)
	return u, err
}

const updateUserMetadata = `UPDATE users SET metadata = ? WHERE id = ?`

func (q *Queries) UpdateUserMetadata(ctx context.Context, userID string, metadata sql.NullString) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateUserMetadata, metadata, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getClientSession = `
SELECT s.user_id, u.email, u.metadata, s.access_token, s.expires_at
FROM client_session s
JOIN users u ON u.id = s.user_id
WHERE s.id = 1`

func (q *Queries) GetClientSession(ctx context.Context) (SessionRow, error) {
	var s SessionRow
	err := q.db.QueryRowContext(ctx, getClientSession).Scan(&s.UserID, &s.Email, &s.Metadata, &s.AccessToken, &s.ExpiresAt)
	return s, err
}

const upsertClientSession = `
INSERT INTO client_session (id, user_id, access_token, expires_at) VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, access_token = excluded.access_token, expires_at = excluded.expires_at`

func (q *Queries) UpsertClientSession(ctx context.Context, userID, token string, expiresAt int64) error {
	_, err := q.db.ExecContext(ctx, upsertClientSession, userID, token, expiresAt)
	return err
}

const deleteClientSession = `DELETE FROM client_session WHERE id = 1`

func (q *Queries) DeleteClientSession(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteClientSession)
	return err
}

const upsertBusiness = `
INSERT INTO businesses (id, name, legal_name, industry, currency, created_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, legal_name = excluded.legal_name,
    industry = excluded.industry, currency = excluded.currency`

func (q *Queries) UpsertBusiness(ctx context.Context, id, name, legalName, industry, currency string, createdAt int64) error {
	_, err := q.db.ExecContext(ctx, upsertBusiness, id, name, legalName, industry, currency, createdAt)
	return err
}

const upsertMembership = `
INSERT INTO business_users (business_id, user_id, role, is_active, created_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(business_id, user_id) DO UPDATE SET role = excluded.role, is_active = excluded.is_active`

func (q *Queries) UpsertMembership(ctx context.Context, businessID, userID, role string, active bool, createdAt int64) error {
	_, err := q.db.ExecContext(ctx, upsertMembership, businessID, userID, role, active, createdAt)
	return err
}

const listActiveMemberships = `
SELECT bu.business_id, bu.role, b.name, b.legal_name, b.industry, b.currency
FROM business_users bu
JOIN businesses b ON b.id = bu.business_id
WHERE bu.user_id = ? AND bu.is_active = 1
ORDER BY bu.id`

func (q *Queries) ListActiveMemberships(ctx context.Context, userID string) ([]MembershipRow, error) {
	rows, err := q.db.QueryContext(ctx, listActiveMemberships, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MembershipRow
	for rows.Next() {
		var m MembershipRow
		if err := rows.Scan(&m.BusinessID, &m.Role, &m.Name, &m.LegalName, &m.Industry, &m.Currency); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const upsertContact = `
INSERT INTO contacts (id, business_id, company_name, first_name, last_name) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET company_name = excluded.company_name,
    first_name = excluded.first_name, last_name = excluded.last_name`

func (q *Queries) UpsertContact(ctx context.Context, id, businessID, company, first, last string) error {
	_, err := q.db.ExecContext(ctx, upsertContact, id, businessID, company, first, last)
	return err
}

const upsertInvoice = `
INSERT INTO invoices (id, business_id, contact_id, invoice_number, total_amount_cents, balance_due_cents,
    status, invoice_date, due_date, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET contact_id = excluded.contact_id, invoice_number = excluded.invoice_number,
    total_amount_cents = excluded.total_amount_cents, balance_due_cents = excluded.balance_due_cents,
    status = excluded.status, invoice_date = excluded.invoice_date, due_date = excluded.due_date`

type UpsertInvoiceParams struct {
	ID            string
	BusinessID    string
	ContactID     sql.NullString
	InvoiceNumber string
	TotalCents    sql.NullInt64
	BalanceCents  sql.NullInt64
	Status        string
	InvoiceDate   string
	DueDate       sql.NullString
	CreatedAt     int64
}

func (q *Queries) UpsertInvoice(ctx context.Context, p UpsertInvoiceParams) error {
	_, err := q.db.ExecContext(ctx, upsertInvoice, p.ID, p.BusinessID, p.ContactID, p.InvoiceNumber,
		p.TotalCents, p.BalanceCents, p.Status, p.InvoiceDate, p.DueDate, p.CreatedAt)
	return err
}

const listRecentInvoices = `
SELECT i.id, i.invoice_number, i.total_amount_cents, i.balance_due_cents, i.status, i.invoice_date, i.due_date,
       i.contact_id, c.company_name, c.first_name, c.last_name
FROM invoices i
LEFT JOIN contacts c ON c.id = i.contact_id
WHERE i.business_id = ?
ORDER BY i.created_at DESC, i.rowid DESC
LIMIT ?`

func (q *Queries) ListRecentInvoices(ctx context.Context, businessID string, limit int) ([]InvoiceRow, error) {
	rows, err := q.db.QueryContext(ctx, listRecentInvoices, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvoiceRow
	for rows.Next() {
		var r InvoiceRow
		if err := rows.Scan(&r.ID, &r.InvoiceNumber, &r.TotalCents, &r.BalanceCents, &r.Status, &r.InvoiceDate,
			&r.DueDate, &r.ContactID, &r.CompanyName, &r.FirstName, &r.LastName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const insertActivity = `
INSERT INTO activity_log (id, type, user_id, email, business_id, snapshot, occurred_at, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`

// InsertActivity reports whether a new row was written; replays of the same
// id are ignored.
func (q *Queries) InsertActivity(ctx context.Context, a ActivityRow) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertActivity, a.ID, a.Type, a.UserID, a.Email, a.BusinessID, a.Snapshot, a.OccurredAt, a.RecordedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const listActivity = `
SELECT id, type, user_id, email, business_id, snapshot, occurred_at, recorded_at
FROM activity_log
ORDER BY occurred_at DESC, recorded_at DESC
LIMIT ?`

func (q *Queries) ListActivity(ctx context.Context, limit int) ([]ActivityRow, error) {
	rows, err := q.db.QueryContext(ctx, listActivity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActivityRow
	for rows.Next() {
		var a ActivityRow
		if err := rows.Scan(&a.ID, &a.Type, &a.UserID, &a.Email, &a.BusinessID, &a.Snapshot, &a.OccurredAt, &a.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const listPendingExports = `
SELECT id, type, user_id, email, business_id, snapshot, occurred_at, recorded_at
FROM activity_log
WHERE snapshot IS NOT NULL AND exported_at IS NULL
ORDER BY occurred_at ASC
LIMIT ?`

func (q *Queries) ListPendingExports(ctx context.Context, limit int) ([]ActivityRow, error) {
	rows, err := q.db.QueryContext(ctx, listPendingExports, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActivityRow
	for rows.Next() {
		var a ActivityRow
		if err := rows.Scan(&a.ID, &a.Type, &a.UserID, &a.Email, &a.BusinessID, &a.Snapshot, &a.OccurredAt, &a.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const markActivityExported = `UPDATE activity_log SET exported_at = ? WHERE id = ?`

func (q *Queries) MarkActivityExported(ctx context.Context, id string, at int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, markActivityExported, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
