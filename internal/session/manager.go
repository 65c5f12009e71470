// Package session owns the authentication lifecycle of the dashboard client:
// it tracks the signed-in identity, resolves the businesses that identity may
// act for and holds the active business selection.
//
// Every transition runs under a dispatch lock together with its fan-out to
// subscribers and tenant hooks, so observers see changes in the order the auth
// collaborator emitted them. Subscribers and hooks run synchronously inside
// that lock and must not call mutating Manager methods.
package session

import (
	"context"
	"errors"
	"slices"
	"sync"

	"bizdash/internal/core"
	"bizdash/internal/dataservice"
	"bizdash/internal/log"
)

type Status string

const (
	StatusInitializing    Status = "initializing"
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticated   Status = "authenticated"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSuperseded is returned by ReloadMemberships when the identity
	// changed or a newer resolution started while it was running.
	ErrSuperseded = errors.New("membership reload superseded")
)

// State is an immutable snapshot of the manager.
type State struct {
	Status         Status
	Identity       core.Identity
	Loading        bool
	Resolving      bool
	Memberships    []core.Membership
	ActiveBusiness *core.Business
	// Version increases with every published change.
	Version uint64
}

// ActiveBusinessID returns the active business id or "".
func (s State) ActiveBusinessID() string {
	if s.ActiveBusiness == nil {
		return ""
	}
	return s.ActiveBusiness.ID
}

type Manager struct {
	auth    dataservice.Authenticator
	members dataservice.MembershipReader
	logger  *log.Logger
	events  *log.StructuredLogger

	dispatch sync.Mutex

	mu          sync.RWMutex
	status      Status
	identity    core.Identity
	memberships []core.Membership
	active      *core.Business
	resolvedFor string
	resolving   string
	epoch       uint64
	version     uint64

	hooksMu     sync.Mutex
	nextSub     int
	subs        map[int]func(State)
	subOrder    []int
	tenantHooks []func(*core.Business)

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewManager(authn dataservice.Authenticator, members dataservice.MembershipReader, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		auth:    authn,
		members: members,
		logger:  logger.WithComponent(log.ComponentSession),
		events:  log.NewStructuredLogger(logger),
		status:  StatusInitializing,
		subs:    make(map[int]func(State)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to session changes, then restores the current session.
// A failing lookup degrades to Unauthenticated. A notification that arrives
// before the lookup completes wins over the lookup result.
func (m *Manager) Start(ctx context.Context) {
	m.unsubscribe = m.auth.OnSessionChange(m.handleSessionChange)

	s, err := m.auth.GetCurrentSession(ctx)
	if err != nil {
		m.events.LogError(ctx, "Session restore failed", err, log.ComponentSession, log.OpRestore, nil)
		s = nil
	}

	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	m.mu.RLock()
	initializing := m.status == StatusInitializing
	m.mu.RUnlock()
	if !initializing {
		m.logger.Debug("Initial session superseded by notification")
		return
	}
	m.apply(dataservice.EventInitialSession, s)
}

// Close stops listening to the auth collaborator and abandons in-flight
// resolutions.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.mu.Lock()
	m.epoch++
	m.mu.Unlock()
	m.cancel()
}

// Wait blocks until background membership resolutions have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) handleSessionChange(event dataservice.SessionEvent, s *core.Session) {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()
	m.apply(event, s)
}

// apply performs one transition. The dispatch lock must be held.
func (m *Manager) apply(event dataservice.SessionEvent, s *core.Session) {
	if s == nil {
		m.events.LogSessionEvent(m.ctx, string(event), core.Identity{})
		m.clear()
		return
	}
	m.events.LogSessionEvent(m.ctx, string(event), s.User)

	m.mu.Lock()
	activeChanged := false
	if !m.identity.IsZero() && m.identity.UserID != s.User.UserID {
		activeChanged = m.active != nil
		m.resetTenantsLocked()
	}
	m.identity = s.User
	m.status = StatusAuthenticated

	if m.resolvedFor != s.User.UserID && m.resolving != s.User.UserID {
		m.startResolveLocked(s.User.UserID)
	}
	m.version++
	st := m.snapshotLocked()
	m.mu.Unlock()

	m.publish(st, activeChanged)
}

// clear drops identity, memberships and active business at once. It is a
// no-op when already signed out. The dispatch lock must be held.
func (m *Manager) clear() {
	m.mu.Lock()
	if m.status == StatusUnauthenticated {
		m.mu.Unlock()
		return
	}
	activeChanged := m.active != nil
	m.identity = core.Identity{}
	m.resetTenantsLocked()
	m.status = StatusUnauthenticated
	m.version++
	st := m.snapshotLocked()
	m.mu.Unlock()

	m.publish(st, activeChanged)
}

func (m *Manager) resetTenantsLocked() {
	m.memberships = nil
	m.active = nil
	m.resolvedFor = ""
	m.resolving = ""
	m.epoch++
}

func (m *Manager) startResolveLocked(userID string) {
	m.epoch++
	m.resolving = userID
	epoch := m.epoch
	m.wg.Add(1)
	go m.resolve(userID, epoch)
}

func (m *Manager) resolve(userID string, epoch uint64) {
	defer m.wg.Done()

	ms, err := m.members.QueryActiveMemberships(m.ctx, userID)

	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	m.mu.Lock()
	if m.epoch != epoch || m.identity.UserID != userID {
		m.mu.Unlock()
		m.logger.Debug("Discarding stale membership resolution", log.FieldUserID, userID)
		return
	}
	m.resolving = ""
	if err != nil {
		// Memberships stay unresolved so the next notification retries.
		m.version++
		st := m.snapshotLocked()
		m.mu.Unlock()
		m.events.LogError(m.ctx, "Membership resolution failed",
			&core.MembershipResolutionError{UserID: userID, Err: err},
			log.ComponentSession, log.OpResolve, log.NewFields().WithIdentity(st.Identity))
		m.publish(st, false)
		return
	}

	activeChanged := m.installLocked(userID, ms, false)
	m.version++
	st := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("Memberships resolved",
		log.FieldUserID, userID,
		log.FieldMemberships, len(ms),
		log.FieldBusinessID, st.ActiveBusinessID())
	m.publish(st, activeChanged)
}

// installLocked replaces the membership set. With keepActive the current
// selection survives when still present; otherwise the first membership is
// selected only when nothing is active. It reports whether the active id
// changed.
func (m *Manager) installLocked(userID string, ms []core.Membership, keepActive bool) bool {
	prev := ""
	if m.active != nil {
		prev = m.active.ID
	}

	m.memberships = append([]core.Membership(nil), ms...)
	m.resolvedFor = userID

	switch {
	case m.active != nil && keepActive:
		if b, ok := findBusiness(ms, m.active.ID); ok {
			m.active = &b
		} else {
			m.active = firstBusiness(ms)
		}
	case m.active == nil:
		m.active = firstBusiness(ms)
	}

	next := ""
	if m.active != nil {
		next = m.active.ID
	}
	return prev != next
}

// SwitchBusiness makes businessID active when it belongs to the current
// membership set and reports whether it did. Unknown ids are ignored.
func (m *Manager) SwitchBusiness(businessID string) bool {
	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	m.mu.Lock()
	b, ok := findBusiness(m.memberships, businessID)
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("Ignoring switch to foreign business", log.FieldBusinessID, businessID)
		return false
	}
	if m.active != nil && m.active.ID == businessID {
		m.mu.Unlock()
		return true
	}
	m.active = &b
	m.version++
	st := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("Active business switched", log.FieldBusinessID, businessID, log.FieldUserID, st.Identity.UserID)
	m.publish(st, true)
	return true
}

// ReloadMemberships re-fetches the membership set of the current identity,
// keeping the active business when it is still present.
func (m *Manager) ReloadMemberships(ctx context.Context) error {
	m.dispatch.Lock()
	m.mu.Lock()
	userID := m.identity.UserID
	if userID == "" {
		m.mu.Unlock()
		m.dispatch.Unlock()
		return ErrNotAuthenticated
	}
	m.epoch++
	epoch := m.epoch
	m.resolving = userID
	m.version++
	pending := m.snapshotLocked()
	m.mu.Unlock()
	m.publish(pending, false)
	m.dispatch.Unlock()

	ms, err := m.members.QueryActiveMemberships(ctx, userID)

	m.dispatch.Lock()
	defer m.dispatch.Unlock()

	m.mu.Lock()
	if m.epoch != epoch || m.identity.UserID != userID {
		m.mu.Unlock()
		return ErrSuperseded
	}
	m.resolving = ""
	if err != nil {
		m.version++
		st := m.snapshotLocked()
		m.mu.Unlock()
		rerr := &core.MembershipResolutionError{UserID: userID, Err: err}
		m.events.LogError(ctx, "Membership reload failed", rerr, log.ComponentSession, log.OpResolve, nil)
		m.publish(st, false)
		return rerr
	}
	activeChanged := m.installLocked(userID, ms, true)
	m.version++
	st := m.snapshotLocked()
	m.mu.Unlock()

	m.publish(st, activeChanged)
	return nil
}

// SignIn delegates to the auth collaborator. State changes arrive through
// the session-change notification.
func (m *Manager) SignIn(ctx context.Context, email, password string) (core.Identity, error) {
	s, err := m.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		err = asAuthError(log.OpSignIn, err)
		m.logger.Warn("Sign-in failed", log.NewFields().WithError(err).WithOperation(log.OpSignIn).ToSlice()...)
		return core.Identity{}, err
	}
	return s.User, nil
}

func (m *Manager) SignUp(ctx context.Context, email, password string, profile map[string]any) (core.Identity, error) {
	s, err := m.auth.SignUp(ctx, email, password, profile)
	if err != nil {
		err = asAuthError(log.OpSignUp, err)
		m.logger.Warn("Sign-up failed", log.NewFields().WithError(err).WithOperation(log.OpSignUp).ToSlice()...)
		return core.Identity{}, err
	}
	return s.User, nil
}

// SignOut delegates and then clears identity, memberships and the active
// business at once; the later notification finds nothing left to clear.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.auth.SignOut(ctx); err != nil {
		err = asAuthError(log.OpSignOut, err)
		m.logger.Warn("Sign-out failed", log.NewFields().WithError(err).WithOperation(log.OpSignOut).ToSlice()...)
		return err
	}

	m.dispatch.Lock()
	defer m.dispatch.Unlock()
	m.clear()
	return nil
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() State {
	st := State{
		Status:      m.status,
		Identity:    m.identity,
		Loading:     m.status == StatusInitializing,
		Resolving:   m.resolving != "",
		Memberships: append([]core.Membership(nil), m.memberships...),
		Version:     m.version,
	}
	if m.active != nil {
		b := *m.active
		st.ActiveBusiness = &b
	}
	return st
}

// Subscribe registers fn for every published state and returns its
// unsubscribe func.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subOrder = append(m.subOrder, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.hooksMu.Lock()
			defer m.hooksMu.Unlock()
			delete(m.subs, id)
			for i, v := range m.subOrder {
				if v == id {
					m.subOrder = append(m.subOrder[:i], m.subOrder[i+1:]...)
					break
				}
			}
		})
	}
}

// OnActiveTenantChanged registers fn to run whenever the active business id
// changes, including to none. fn receives nil when no business is active.
func (m *Manager) OnActiveTenantChanged(fn func(*core.Business)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.tenantHooks = append(m.tenantHooks, fn)
}

// publish fans a state out to tenant hooks, then subscribers. The dispatch
// lock must be held.
func (m *Manager) publish(st State, activeChanged bool) {
	m.hooksMu.Lock()
	hooks := slices.Clone(m.tenantHooks)
	subs := make([]func(State), 0, len(m.subOrder))
	for _, id := range m.subOrder {
		subs = append(subs, m.subs[id])
	}
	m.hooksMu.Unlock()

	if activeChanged {
		for _, h := range hooks {
			var b *core.Business
			if st.ActiveBusiness != nil {
				cp := *st.ActiveBusiness
				b = &cp
			}
			h(b)
		}
	}
	for _, fn := range subs {
		fn(st)
	}
}

func findBusiness(ms []core.Membership, businessID string) (core.Business, bool) {
	for _, mb := range ms {
		if mb.BusinessID == businessID {
			b := mb.Business
			if b.ID == "" {
				b.ID = mb.BusinessID
			}
			return b, true
		}
	}
	return core.Business{}, false
}

func firstBusiness(ms []core.Membership) *core.Business {
	if len(ms) == 0 {
		return nil
	}
	b, _ := findBusiness(ms, ms[0].BusinessID)
	return &b
}

// asAuthError classifies errors from collaborators that did not return an
// AuthError themselves as network failures.
func asAuthError(op string, err error) error {
	var ae *core.AuthError
	if errors.As(err, &ae) {
		return err
	}
	return core.NewAuthError(op, core.ReasonNetwork, err)
}
