// Package auth is the password authenticator behind the dashboard client. It
// owns the client session, hashes passwords with argon2id and notifies
// subscribers of every session change in order.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bizdash/internal/core"
	"bizdash/internal/dataservice"
	"bizdash/internal/log"
	"bizdash/internal/middleware/ratelimit"
)

type Options struct {
	SessionTTL        time.Duration
	AttemptsPerMinute int
	Hasher            *Hasher
	Logger            *log.Logger
	Now               func() time.Time
}

// Provider implements dataservice.Authenticator over a UserStore.
type Provider struct {
	// mu serializes session mutations together with their notification so
	// listeners observe changes in the order the store applied them.
	mu       sync.Mutex
	store    UserStore
	events   *dataservice.Broadcaster
	attempts *ratelimit.Limiter
	hasher   Hasher
	ttl      time.Duration
	now      func() time.Time
	logger   *log.Logger

	// absent is verified against for unknown emails so both paths pay
	// for one argon2 derivation.
	absentOnce sync.Once
	absent     string
}

var _ dataservice.Authenticator = (*Provider)(nil)

func NewProvider(store UserStore, opts Options) *Provider {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.AttemptsPerMinute <= 0 {
		opts.AttemptsPerMinute = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	hasher := DefaultHasher()
	if opts.Hasher != nil {
		hasher = *opts.Hasher
	}

	return &Provider{
		store:    store,
		events:   dataservice.NewBroadcaster(),
		attempts: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.AttemptsPerMinute, Now: opts.Now}),
		hasher:   hasher,
		ttl:      opts.SessionTTL,
		now:      opts.Now,
		logger:   opts.Logger.WithComponent(log.ComponentAuth),
	}
}

// Close releases the attempt limiter.
func (p *Provider) Close() {
	p.attempts.Stop()
}

func (p *Provider) OnSessionChange(listener dataservice.SessionListener) func() {
	return p.events.Subscribe(listener)
}

// GetCurrentSession restores the persisted session. An expired session is
// discarded and reported as absent.
func (p *Provider) GetCurrentSession(ctx context.Context) (*core.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.store.LoadClientSession(ctx)
	if err != nil {
		return nil, core.NewAuthError(log.OpRestore, core.ReasonNetwork, err)
	}
	if s == nil {
		return nil, nil
	}
	if s.Expired(p.now()) {
		p.logger.Info("Stored session expired", log.FieldUserID, s.User.UserID)
		if err := p.store.ClearClientSession(ctx); err != nil {
			p.logger.Warn("Failed to clear expired session", log.FieldError, err)
		}
		return nil, nil
	}
	return s, nil
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*core.Session, error) {
	if err := core.ValidateEmail(email); err != nil {
		return nil, core.NewAuthError(log.OpSignIn, core.ReasonInvalidCredentials, err)
	}
	key := core.NormalizeEmail(email)
	if !p.attempts.Allow(key) {
		p.logger.Warn("Sign-in rate limited", log.FieldEmail, key)
		return nil, core.NewAuthError(log.OpSignIn, core.ReasonRateLimited, core.ErrRateLimited)
	}

	user, err := p.store.FindUserByEmail(ctx, key)
	if errors.Is(err, ErrUserNotFound) {
		_, _ = p.hasher.Verify(password, p.absentHash())
		return nil, core.NewAuthError(log.OpSignIn, core.ReasonInvalidCredentials, core.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, core.NewAuthError(log.OpSignIn, core.ReasonNetwork, err)
	}

	ok, err := p.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		p.logger.Error("Stored password hash unreadable", log.FieldUserID, user.ID, log.FieldError, err)
	}
	if !ok {
		return nil, core.NewAuthError(log.OpSignIn, core.ReasonInvalidCredentials, core.ErrInvalidCredentials)
	}
	p.attempts.Reset(key)

	return p.startSession(ctx, log.OpSignIn, user.Identity())
}

func (p *Provider) absentHash() string {
	p.absentOnce.Do(func() {
		h, err := p.hasher.Hash(uuid.NewString())
		if err != nil {
			p.logger.Error("Could not prepare placeholder hash", log.FieldError, err)
			return
		}
		p.absent = h
	})
	return p.absent
}

// SignUp registers the account and signs it in immediately.
func (p *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*core.Session, error) {
	if err := core.ValidateEmail(email); err != nil {
		return nil, core.NewAuthError(log.OpSignUp, core.ReasonInvalidCredentials, err)
	}
	if len(strings.TrimSpace(password)) < MinPasswordLength {
		return nil, core.NewAuthError(log.OpSignUp, core.ReasonWeakPassword,
			fmt.Errorf("%w: at least %d characters", core.ErrWeakPassword, MinPasswordLength))
	}

	hash, err := p.hasher.Hash(password)
	if err != nil {
		return nil, core.NewAuthError(log.OpSignUp, core.ReasonNetwork, err)
	}
	user := UserRecord{
		ID:           uuid.NewString(),
		Email:        core.NormalizeEmail(email),
		PasswordHash: hash,
		Metadata:     cloneMetadata(metadata),
		CreatedAt:    p.now().UTC(),
	}
	if err := p.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, core.ErrUserExists) {
			return nil, core.NewAuthError(log.OpSignUp, core.ReasonUserExists, core.ErrUserExists)
		}
		return nil, core.NewAuthError(log.OpSignUp, core.ReasonNetwork, err)
	}
	p.logger.Info("User registered", log.FieldUserID, user.ID, log.FieldEmail, user.Email)

	return p.startSession(ctx, log.OpSignUp, user.Identity())
}

func (p *Provider) startSession(ctx context.Context, op string, id core.Identity) (*core.Session, error) {
	s := core.Session{
		AccessToken: uuid.NewString(),
		User:        id,
		ExpiresAt:   p.now().Add(p.ttl).UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.SaveClientSession(ctx, s); err != nil {
		return nil, core.NewAuthError(op, core.ReasonNetwork, err)
	}
	p.logger.Info("Session started", log.FieldUserID, id.UserID, log.FieldOperation, op)
	p.events.Emit(dataservice.EventSignedIn, &s)
	return &s, nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.ClearClientSession(ctx); err != nil {
		return core.NewAuthError(log.OpSignOut, core.ReasonNetwork, err)
	}
	p.events.Emit(dataservice.EventSignedOut, nil)
	return nil
}

// RefreshSession rotates the access token and extends the expiry of the
// current session.
func (p *Provider) RefreshSession(ctx context.Context) (*core.Session, error) {
	const op = "refresh_session"

	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.store.LoadClientSession(ctx)
	if err != nil {
		return nil, core.NewAuthError(op, core.ReasonNetwork, err)
	}
	if s == nil || s.Expired(p.now()) {
		return nil, core.NewAuthError(op, core.ReasonSessionExpired, core.ErrSessionExpired)
	}

	s.AccessToken = uuid.NewString()
	s.ExpiresAt = p.now().Add(p.ttl).UTC()
	if err := p.store.SaveClientSession(ctx, *s); err != nil {
		return nil, core.NewAuthError(op, core.ReasonNetwork, err)
	}
	p.events.Emit(dataservice.EventTokenRefreshed, s)
	return s, nil
}

// UpdateUser replaces the profile metadata of the signed-in user.
func (p *Provider) UpdateUser(ctx context.Context, metadata map[string]any) (*core.Session, error) {
	const op = "update_user"

	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.store.LoadClientSession(ctx)
	if err != nil {
		return nil, core.NewAuthError(op, core.ReasonNetwork, err)
	}
	if s == nil || s.Expired(p.now()) {
		return nil, core.NewAuthError(op, core.ReasonSessionExpired, core.ErrSessionExpired)
	}

	md := cloneMetadata(metadata)
	if err := p.store.UpdateUserMetadata(ctx, s.User.UserID, md); err != nil {
		return nil, core.NewAuthError(op, core.ReasonNetwork, err)
	}
	s.User.Metadata = md
	if err := p.store.SaveClientSession(ctx, *s); err != nil {
		return nil, core.NewAuthError(op, core.ReasonNetwork, err)
	}
	p.events.Emit(dataservice.EventUserUpdated, s)
	return s, nil
}

func cloneMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
