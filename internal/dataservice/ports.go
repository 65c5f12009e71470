// Package dataservice declares the ports the session manager and dashboard
// aggregator consume. Concrete data services live in internal/auth,
// internal/storage and internal/dataservice/memory.
package dataservice

import (
	"context"

	"bizdash/internal/core"
)

// SessionEvent names a change in the authentication session.
type SessionEvent string

const (
	EventInitialSession SessionEvent = "INITIAL_SESSION"
	EventSignedIn       SessionEvent = "SIGNED_IN"
	EventSignedOut      SessionEvent = "SIGNED_OUT"
	EventTokenRefreshed SessionEvent = "TOKEN_REFRESHED"
	EventUserUpdated    SessionEvent = "USER_UPDATED"
)

// SessionListener receives session changes. A nil session means signed out.
type SessionListener func(event SessionEvent, session *core.Session)

// Ports for the remote data service.
type (
	Authenticator interface {
		// GetCurrentSession returns the restored session, or nil when none exists.
		GetCurrentSession(ctx context.Context) (*core.Session, error)
		// OnSessionChange registers a listener and returns its unsubscribe func.
		OnSessionChange(listener SessionListener) (unsubscribe func())
		SignInWithPassword(ctx context.Context, email, password string) (*core.Session, error)
		SignUp(ctx context.Context, email, password string, metadata map[string]any) (*core.Session, error)
		SignOut(ctx context.Context) error
	}

	MembershipReader interface {
		// QueryActiveMemberships returns the active memberships of a user in
		// server order, each joined with its business.
		QueryActiveMemberships(ctx context.Context, userID string) ([]core.Membership, error)
	}

	InvoiceReader interface {
		// QueryRecentInvoices returns at most limit invoices of a business,
		// newest first, each joined with its contact.
		QueryRecentInvoices(ctx context.Context, businessID string, limit int) ([]core.Invoice, error)
	}

	DataService interface {
		Authenticator
		MembershipReader
		InvoiceReader
	}
)
