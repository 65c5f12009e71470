package core

import (
	"errors"
	"strings"
	"time"
)

const (
	StatusDraft   InvoiceStatus = "draft"
	StatusSent    InvoiceStatus = "sent"
	StatusPaid    InvoiceStatus = "paid"
	StatusOverdue InvoiceStatus = "overdue"
)

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleAccountant Role = "accountant"
	RoleViewer     Role = "viewer"
)

// UnknownCustomer is shown when an invoice has no usable contact name.
const UnknownCustomer = "Unknown Customer"

type (
	InvoiceStatus string

	Role string

	// Identity is the authenticated user as reported by the auth provider.
	Identity struct {
		UserID   string
		Email    string
		Metadata map[string]any
	}

	Session struct {
		AccessToken string
		User        Identity
		ExpiresAt   time.Time
	}

	Business struct {
		ID        string
		Name      string
		LegalName string
		Industry  string
		Currency  string // ISO 4217, empty means USD
	}

	// Membership grants one identity access to one business.
	Membership struct {
		BusinessID string
		Role       Role
		Business   Business
	}

	Contact struct {
		CompanyName string
		FirstName   string
		LastName    string
	}

	// Invoice is the read-only projection consumed by the dashboard.
	// Nil amounts count as zero and a nil due date is never overdue.
	Invoice struct {
		ID            string
		InvoiceNumber string
		TotalAmount   *Money
		BalanceDue    *Money
		Status        InvoiceStatus
		InvoiceDate   Date
		DueDate       *Date
		Contact       *Contact
	}
)

var (
	ErrEmptyEmail      = errors.New("empty email")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrEmptyBusinessID = errors.New("empty business id")
)

// IsZero reports whether no identity is set.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// Expired reports whether the session is past its expiry at t.
func (s Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && !t.Before(s.ExpiresAt)
}

// CurrencyOrDefault returns the business currency, falling back to USD.
func (b Business) CurrencyOrDefault() string {
	if c := strings.TrimSpace(b.Currency); c != "" {
		return strings.ToUpper(c)
	}
	return "USD"
}

// DisplayName resolves the customer name shown next to an invoice:
// company name, else "first last", else UnknownCustomer.
func (c *Contact) DisplayName() string {
	if c == nil {
		return UnknownCustomer
	}
	if name := strings.TrimSpace(c.CompanyName); name != "" {
		return name
	}
	full := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if full != "" {
		return full
	}
	return UnknownCustomer
}

// CustomerName is the display name of the invoice's contact.
func (inv Invoice) CustomerName() string {
	return inv.Contact.DisplayName()
}

// IsOverdueAt derives overdueness from the due date, ignoring the stored
// status label except for "paid". A missing due date is deliberately never
// overdue rather than read as the epoch.
func (inv Invoice) IsOverdueAt(now time.Time) bool {
	if inv.Status == StatusPaid || inv.DueDate == nil || inv.DueDate.IsZero() {
		return false
	}
	return inv.DueDate.Before(now)
}

// ValidateEmail performs the minimal shape check done before contacting the
// auth provider.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmptyEmail
	}
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || strings.Count(email, "@") != 1 {
		return ErrInvalidEmail
	}
	return nil
}

// NormalizeEmail lower-cases and trims an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
