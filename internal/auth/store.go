package auth

import (
	"context"
	"errors"
	"time"

	"bizdash/internal/core"
)

var ErrUserNotFound = errors.New("user not found")

// UserRecord is a registered account as persisted by a UserStore.
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// Identity projects the record onto the identity exposed to clients.
func (u UserRecord) Identity() core.Identity {
	return core.Identity{UserID: u.ID, Email: u.Email, Metadata: u.Metadata}
}

// UserStore persists accounts and the single client session of this process.
type UserStore interface {
	// CreateUser returns core.ErrUserExists when the email is taken.
	CreateUser(ctx context.Context, u UserRecord) error
	// FindUserByEmail returns ErrUserNotFound for unknown emails.
	FindUserByEmail(ctx context.Context, email string) (UserRecord, error)
	UpdateUserMetadata(ctx context.Context, userID string, metadata map[string]any) error

	// LoadClientSession returns nil when no session is stored.
	LoadClientSession(ctx context.Context) (*core.Session, error)
	SaveClientSession(ctx context.Context, s core.Session) error
	ClearClientSession(ctx context.Context) error
}
