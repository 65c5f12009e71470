// Package seed loads a JSON dataset of users, businesses, memberships,
// contacts and invoices into a data store. It backs demo and test setups for
// both the memory and the SQLite backends.
package seed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"bizdash/internal/core"
)

type (
	Dataset struct {
		Users       []User       `json:"users"`
		Businesses  []Business   `json:"businesses"`
		Memberships []Membership `json:"memberships"`
		Contacts    []Contact    `json:"contacts"`
		Invoices    []Invoice    `json:"invoices"`
	}

	User struct {
		ID       string         `json:"id"`
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	Business struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		LegalName string `json:"legal_name"`
		Industry  string `json:"industry"`
		Currency  string `json:"currency"`
	}

	Membership struct {
		UserID     string `json:"user_id"`
		BusinessID string `json:"business_id"`
		Role       string `json:"role"`
		// Active defaults to true when omitted.
		Active *bool `json:"is_active,omitempty"`
	}

	Contact struct {
		ID          string `json:"id"`
		BusinessID  string `json:"business_id"`
		CompanyName string `json:"company_name"`
		FirstName   string `json:"first_name"`
		LastName    string `json:"last_name"`
	}

	Invoice struct {
		ID            string  `json:"id"`
		BusinessID    string  `json:"business_id"`
		ContactID     string  `json:"contact_id"`
		InvoiceNumber string  `json:"invoice_number"`
		TotalAmount   *Amount `json:"total_amount"`
		BalanceDue    *Amount `json:"balance_due"`
		Status        string  `json:"status"`
		InvoiceDate   string  `json:"invoice_date"`
		DueDate       string  `json:"due_date"`
		// CreatedAt orders invoices newest first; RFC 3339.
		CreatedAt string `json:"created_at"`
	}
)

// Amount accepts both JSON numbers and decimal strings.
type Amount struct {
	core.Money
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := string(bytes.Trim(bytes.TrimSpace(b), `"`))
	m, err := core.ParseAmount(raw)
	if err != nil {
		return fmt.Errorf("amount %s: %w", raw, err)
	}
	a.Money = m
	return nil
}

// Load reads and validates a dataset file.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (*Dataset, error) {
	var ds Dataset
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode seed dataset: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks referential integrity of the dataset.
func (ds *Dataset) Validate() error {
	var problems []string

	users := map[string]bool{}
	for _, u := range ds.Users {
		if u.ID == "" {
			problems = append(problems, "user without id")
		}
		if err := core.ValidateEmail(u.Email); err != nil {
			problems = append(problems, fmt.Sprintf("user %s: %v", u.ID, err))
		}
		users[u.ID] = true
	}
	businesses := map[string]bool{}
	for _, b := range ds.Businesses {
		if b.ID == "" {
			problems = append(problems, "business without id")
		}
		businesses[b.ID] = true
	}
	for _, m := range ds.Memberships {
		if !users[m.UserID] {
			problems = append(problems, fmt.Sprintf("membership references unknown user %s", m.UserID))
		}
		if !businesses[m.BusinessID] {
			problems = append(problems, fmt.Sprintf("membership references unknown business %s", m.BusinessID))
		}
	}
	contacts := map[string]bool{}
	for _, c := range ds.Contacts {
		if !businesses[c.BusinessID] {
			problems = append(problems, fmt.Sprintf("contact %s references unknown business %s", c.ID, c.BusinessID))
		}
		contacts[c.ID] = true
	}
	for _, inv := range ds.Invoices {
		if !businesses[inv.BusinessID] {
			problems = append(problems, fmt.Sprintf("invoice %s references unknown business %s", inv.ID, inv.BusinessID))
		}
		if inv.ContactID != "" && !contacts[inv.ContactID] {
			problems = append(problems, fmt.Sprintf("invoice %s references unknown contact %s", inv.ID, inv.ContactID))
		}
		if _, err := core.ParseDate(inv.InvoiceDate); err != nil {
			problems = append(problems, fmt.Sprintf("invoice %s: invoice_date %q: %v", inv.ID, inv.InvoiceDate, err))
		}
		if inv.DueDate != "" {
			if _, err := core.ParseDate(inv.DueDate); err != nil {
				problems = append(problems, fmt.Sprintf("invoice %s: due_date %q: %v", inv.ID, inv.DueDate, err))
			}
		}
		if inv.CreatedAt != "" {
			if _, err := time.Parse(time.RFC3339, inv.CreatedAt); err != nil {
				problems = append(problems, fmt.Sprintf("invoice %s: created_at %q: %v", inv.ID, inv.CreatedAt, err))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid seed dataset:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// IsActive reports the membership flag, defaulting to true.
func (m Membership) IsActive() bool {
	return m.Active == nil || *m.Active
}

func (b Business) Core() core.Business {
	return core.Business{ID: b.ID, Name: b.Name, LegalName: b.LegalName, Industry: b.Industry, Currency: b.Currency}
}

func (c Contact) Core() core.Contact {
	return core.Contact{CompanyName: c.CompanyName, FirstName: c.FirstName, LastName: c.LastName}
}

// Core converts the invoice, resolving its contact through contacts. The
// dataset is assumed validated.
func (inv Invoice) Core(contacts map[string]Contact) core.Invoice {
	out := core.Invoice{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Status:        core.InvoiceStatus(strings.ToLower(inv.Status)),
	}
	if inv.TotalAmount != nil {
		m := inv.TotalAmount.Money
		out.TotalAmount = &m
	}
	if inv.BalanceDue != nil {
		m := inv.BalanceDue.Money
		out.BalanceDue = &m
	}
	out.InvoiceDate, _ = core.ParseDate(inv.InvoiceDate)
	if inv.DueDate != "" {
		if d, err := core.ParseDate(inv.DueDate); err == nil {
			out.DueDate = &d
		}
	}
	if c, ok := contacts[inv.ContactID]; ok {
		cc := c.Core()
		out.Contact = &cc
	}
	return out
}

// CreatedAtOr parses CreatedAt, falling back to def when empty.
func (inv Invoice) CreatedAtOr(def time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, inv.CreatedAt); err == nil {
		return t.UTC()
	}
	return def
}

// ContactIndex maps contact ids to contacts.
func (ds *Dataset) ContactIndex() map[string]Contact {
	idx := make(map[string]Contact, len(ds.Contacts))
	for _, c := range ds.Contacts {
		idx[c.ID] = c
	}
	return idx
}
