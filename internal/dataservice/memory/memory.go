// Package memory is an in-process data service used for demos, tests and the
// "memory" backend. It satisfies auth.UserStore together with the membership
// and invoice readers.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bizdash/internal/auth"
	"bizdash/internal/core"
	"bizdash/internal/dataservice"
	"bizdash/internal/seed"
)

var (
	_ auth.UserStore               = (*Store)(nil)
	_ dataservice.MembershipReader = (*Store)(nil)
	_ dataservice.InvoiceReader    = (*Store)(nil)
)

type Store struct {
	mu          sync.Mutex
	users       map[string]auth.UserRecord // keyed by normalized email
	session     *core.Session
	businesses  map[string]core.Business
	memberships []membershipRow
	invoices    []invoiceRow
	seq         int
}

type membershipRow struct {
	userID     string
	businessID string
	role       core.Role
	active     bool
}

type invoiceRow struct {
	businessID string
	createdAt  time.Time
	seq        int
	invoice    core.Invoice
}

func New() *Store {
	return &Store{
		users:      make(map[string]auth.UserRecord),
		businesses: make(map[string]core.Business),
	}
}

// NewFromDataset builds a store from a validated seed dataset, hashing the
// plain-text seed passwords with h.
func NewFromDataset(ds *seed.Dataset, h auth.Hasher) (*Store, error) {
	s := New()
	ctx := context.Background()
	for _, u := range ds.Users {
		hash, err := h.Hash(u.Password)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.Email, err)
		}
		rec := auth.UserRecord{ID: u.ID, Email: core.NormalizeEmail(u.Email), PasswordHash: hash, Metadata: u.Metadata}
		if err := s.CreateUser(ctx, rec); err != nil {
			return nil, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	for _, b := range ds.Businesses {
		s.AddBusiness(b.Core())
	}
	for _, m := range ds.Memberships {
		s.AddMembership(m.UserID, m.BusinessID, core.Role(m.Role), m.IsActive())
	}
	contacts := ds.ContactIndex()
	base := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, inv := range ds.Invoices {
		s.AddInvoice(inv.BusinessID, inv.CreatedAtOr(base.Add(time.Duration(i)*time.Second)), inv.Core(contacts))
	}
	return s, nil
}

func (s *Store) AddBusiness(b core.Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[b.ID] = b
}

// AddMembership appends a membership; query results keep insertion order.
func (s *Store) AddMembership(userID, businessID string, role core.Role, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = append(s.memberships, membershipRow{userID: userID, businessID: businessID, role: role, active: active})
}

func (s *Store) AddInvoice(businessID string, createdAt time.Time, inv core.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.invoices = append(s.invoices, invoiceRow{businessID: businessID, createdAt: createdAt, seq: s.seq, invoice: copyInvoice(inv)})
}

// QueryActiveMemberships returns active memberships joined with businesses.
// Memberships pointing at unknown businesses are skipped.
func (s *Store) QueryActiveMemberships(ctx context.Context, userID string) ([]core.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []core.Membership{}
	for _, m := range s.memberships {
		if m.userID != userID || !m.active {
			continue
		}
		b, ok := s.businesses[m.businessID]
		if !ok {
			continue
		}
		out = append(out, core.Membership{BusinessID: m.businessID, Role: m.role, Business: b})
	}
	return out, nil
}

// QueryRecentInvoices returns up to limit invoices, newest created first.
func (s *Store) QueryRecentInvoices(ctx context.Context, businessID string, limit int) ([]core.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var rows []invoiceRow
	for _, r := range s.invoices {
		if r.businessID == businessID {
			rows = append(rows, r)
		}
	}
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].createdAt.Equal(rows[j].createdAt) {
			return rows[i].createdAt.After(rows[j].createdAt)
		}
		return rows[i].seq > rows[j].seq
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]core.Invoice, 0, len(rows))
	for _, r := range rows {
		out = append(out, copyInvoice(r.invoice))
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, u auth.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := core.NormalizeEmail(u.Email)
	if _, ok := s.users[key]; ok {
		return core.ErrUserExists
	}
	u.Email = key
	s.users[key] = u
	return nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (auth.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[core.NormalizeEmail(email)]
	if !ok {
		return auth.UserRecord{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) UpdateUserMetadata(_ context.Context, userID string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, u := range s.users {
		if u.ID == userID {
			u.Metadata = metadata
			s.users[k] = u
			return nil
		}
	}
	return auth.ErrUserNotFound
}

func (s *Store) LoadClientSession(context.Context) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, nil
	}
	cp := *s.session
	return &cp, nil
}

func (s *Store) SaveClientSession(_ context.Context, sess core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = &sess
	return nil
}

func (s *Store) ClearClientSession(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

func copyInvoice(inv core.Invoice) core.Invoice {
	if inv.TotalAmount != nil {
		m := *inv.TotalAmount
		inv.TotalAmount = &m
	}
	if inv.BalanceDue != nil {
		m := *inv.BalanceDue
		inv.BalanceDue = &m
	}
	if inv.DueDate != nil {
		d := *inv.DueDate
		inv.DueDate = &d
	}
	if inv.Contact != nil {
		c := *inv.Contact
		inv.Contact = &c
	}
	return inv
}
