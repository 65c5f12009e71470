package backend

import (
	"context"

	"bizdash/internal/activity"
	"bizdash/internal/auth"
	"bizdash/internal/dataservice"
)

// Store is what a data backend must provide besides authentication.
type Store interface {
	auth.UserStore
	dataservice.MembershipReader
	dataservice.InvoiceReader
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the composed data service and its collaborators.
type BackendResult struct {
	// Service is the auth provider joined with the store readers.
	Service dataservice.DataService
	Auth    *auth.Provider
	Store   Store
	// Activity receives audit events. Nil when no destination is configured.
	Activity activity.Publisher
	Cleanup  CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// service joins the Authenticator with the store's readers.
type service struct {
	*auth.Provider
	dataservice.MembershipReader
	dataservice.InvoiceReader
}

var _ dataservice.DataService = service{}

func newService(p *auth.Provider, s Store) dataservice.DataService {
	return service{Provider: p, MembershipReader: s, InvoiceReader: s}
}
