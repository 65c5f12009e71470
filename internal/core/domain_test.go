package core

import (
	"errors"
	"testing"
	"time"
)

func TestContactDisplayName(t *testing.T) {
	cases := []struct {
		name string
		c    *Contact
		want string
	}{
		{"company", &Contact{CompanyName: "Acme"}, "Acme"},
		{"company wins over person", &Contact{CompanyName: "Acme", FirstName: "Jo", LastName: "Lee"}, "Acme"},
		{"first and last", &Contact{FirstName: "Jo", LastName: "Lee"}, "Jo Lee"},
		{"first only", &Contact{FirstName: "Jo"}, "Jo"},
		{"last only", &Contact{LastName: "Lee"}, "Lee"},
		{"blank company falls through", &Contact{CompanyName: "  ", FirstName: "Jo"}, "Jo"},
		{"empty", &Contact{}, UnknownCustomer},
		{"nil", nil, UnknownCustomer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.c.DisplayName(); got != tc.want {
				t.Fatalf("DisplayName() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestInvoiceIsOverdueAt(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	yesterday := NewDate(2025, 6, 14)
	tomorrow := NewDate(2025, 6, 16)

	cases := []struct {
		name string
		inv  Invoice
		want bool
	}{
		{"sent past due", Invoice{Status: StatusSent, DueDate: &yesterday}, true},
		{"paid past due", Invoice{Status: StatusPaid, DueDate: &yesterday}, false},
		{"labelled overdue but not yet due", Invoice{Status: StatusOverdue, DueDate: &tomorrow}, false},
		{"draft past due", Invoice{Status: StatusDraft, DueDate: &yesterday}, true},
		{"missing due date", Invoice{Status: StatusSent}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.inv.IsOverdueAt(now); got != tc.want {
				t.Fatalf("IsOverdueAt() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	if (Session{}).Expired(now) {
		t.Fatalf("session without expiry should not expire")
	}
	if !(Session{ExpiresAt: now.Add(-time.Second)}).Expired(now) {
		t.Fatalf("expected expired session")
	}
	if (Session{ExpiresAt: now.Add(time.Hour)}).Expired(now) {
		t.Fatalf("expected live session")
	}
}

func TestValidateEmail(t *testing.T) {
	good := []string{"a@b.c", " jo@example.com "}
	for _, e := range good {
		if err := ValidateEmail(e); err != nil {
			t.Fatalf("%q expected ok, got %v", e, err)
		}
	}
	bad := []string{"", "nobody", "@example.com", "jo@", "a@b@c"}
	for _, e := range bad {
		if err := ValidateEmail(e); err == nil {
			t.Fatalf("%q expected error", e)
		}
	}
}

func TestBusinessCurrencyOrDefault(t *testing.T) {
	if got := (Business{}).CurrencyOrDefault(); got != "USD" {
		t.Fatalf("expected USD default, got %q", got)
	}
	if got := (Business{Currency: "eur"}).CurrencyOrDefault(); got != "EUR" {
		t.Fatalf("expected EUR, got %q", got)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-03-09")
	if err != nil || d.Year() != 2025 || d.Month() != time.March || d.Day() != 9 {
		t.Fatalf("unexpected parse: %v (err=%v)", d, err)
	}
	d, err = ParseDate("2025-03-09T10:00:00Z")
	if err != nil || d.String() != "2025-03-09" {
		t.Fatalf("expected timestamp truncation, got %v (err=%v)", d, err)
	}
	if _, err := ParseDate("09/03/2025"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestAuthErrorMatching(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := error(NewAuthError("sign in", ReasonNetwork, cause))

	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected errors.Is ErrNetwork")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrapped")
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unexpected match on ErrInvalidCredentials")
	}
	if got := AuthReasonOf(err); got != ReasonNetwork {
		t.Fatalf("AuthReasonOf = %q", got)
	}
	if got := AuthReasonOf(cause); got != "" {
		t.Fatalf("expected empty reason for plain error, got %q", got)
	}

	plain := NewAuthError("sign in", ReasonInvalidCredentials, ErrInvalidCredentials)
	if plain.Error() != "sign in: invalid login credentials" {
		t.Fatalf("unexpected message %q", plain.Error())
	}
}
