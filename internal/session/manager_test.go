package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"bizdash/internal/core"
	"bizdash/internal/dataservice"
)

type fakeService struct {
	*dataservice.Broadcaster

	mu            sync.Mutex
	current       *core.Session
	currentErr    error
	onGetCurrent  func()
	memberships   map[string][]core.Membership
	membershipErr map[string]error
	gates         map[string]chan struct{}
	queries       map[string]int
	signInErr     error
	signOutErr    error
}

func newFakeService() *fakeService {
	return &fakeService{
		Broadcaster:   dataservice.NewBroadcaster(),
		memberships:   make(map[string][]core.Membership),
		membershipErr: make(map[string]error),
		gates:         make(map[string]chan struct{}),
		queries:       make(map[string]int),
	}
}

func sessionFor(userID string) *core.Session {
	return &core.Session{AccessToken: "tok-" + userID, User: core.Identity{UserID: userID, Email: userID + "@example.com"}}
}

func (f *fakeService) GetCurrentSession(context.Context) (*core.Session, error) {
	if f.onGetCurrent != nil {
		f.onGetCurrent()
	}
	return f.current, f.currentErr
}

func (f *fakeService) OnSessionChange(l dataservice.SessionListener) func() {
	return f.Subscribe(l)
}

func (f *fakeService) SignInWithPassword(_ context.Context, email, _ string) (*core.Session, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	s := sessionFor(email)
	f.Emit(dataservice.EventSignedIn, s)
	return s, nil
}

func (f *fakeService) SignUp(_ context.Context, email, _ string, md map[string]any) (*core.Session, error) {
	s := sessionFor(email)
	s.User.Metadata = md
	f.Emit(dataservice.EventSignedIn, s)
	return s, nil
}

func (f *fakeService) SignOut(context.Context) error {
	if f.signOutErr != nil {
		return f.signOutErr
	}
	f.Emit(dataservice.EventSignedOut, nil)
	return nil
}

func (f *fakeService) QueryActiveMemberships(ctx context.Context, userID string) ([]core.Membership, error) {
	f.mu.Lock()
	f.queries[userID]++
	gate := f.gates[userID]
	ms := append([]core.Membership(nil), f.memberships[userID]...)
	err := f.membershipErr[userID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return ms, err
}

func (f *fakeService) setMemberships(userID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ms []core.Membership
	for _, id := range ids {
		ms = append(ms, core.Membership{BusinessID: id, Role: core.RoleOwner, Business: core.Business{ID: id, Name: "Biz " + id}})
	}
	f.memberships[userID] = ms
}

func (f *fakeService) setMembershipErr(userID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.membershipErr[userID] = err
}

func (f *fakeService) gate(userID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[userID] = ch
	return ch
}

func (f *fakeService) queryCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[userID]
}

type hookRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (h *hookRecorder) record(b *core.Business) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b == nil {
		h.ids = append(h.ids, "")
		return
	}
	h.ids = append(h.ids, b.ID)
}

func (h *hookRecorder) get() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ids...)
}

func newStartedManager(t *testing.T, svc *fakeService) (*Manager, *hookRecorder) {
	t.Helper()
	m := NewManager(svc, svc, nil)
	hooks := &hookRecorder{}
	m.OnActiveTenantChanged(hooks.record)
	m.Start(context.Background())
	m.Wait()
	t.Cleanup(m.Close)
	return m, hooks
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStart_NoSession(t *testing.T) {
	svc := newFakeService()
	m := NewManager(svc, svc, nil)
	if st := m.Snapshot(); st.Status != StatusInitializing || !st.Loading {
		t.Fatalf("expected initializing before Start, got %+v", st)
	}
	m.Start(context.Background())
	defer m.Close()

	st := m.Snapshot()
	if st.Status != StatusUnauthenticated || st.Loading {
		t.Fatalf("expected unauthenticated and not loading, got %+v", st)
	}
}

func TestStart_RestoredSessionSelectsFirstMembership(t *testing.T) {
	svc := newFakeService()
	svc.current = sessionFor("u1")
	svc.setMemberships("u1", "b1", "b2")

	m, hooks := newStartedManager(t, svc)

	st := m.Snapshot()
	if st.Status != StatusAuthenticated || st.Identity.UserID != "u1" {
		t.Fatalf("expected authenticated u1, got %+v", st)
	}
	if len(st.Memberships) != 2 {
		t.Fatalf("expected 2 memberships, got %d", len(st.Memberships))
	}
	if st.ActiveBusinessID() != "b1" {
		t.Errorf("first membership should become active, got %q", st.ActiveBusinessID())
	}
	if st.Resolving {
		t.Error("resolution should be finished")
	}
	if !equalIDs(hooks.get(), []string{"b1"}) {
		t.Errorf("unexpected tenant hook calls %v", hooks.get())
	}
}

func TestStart_LookupFailureDegrades(t *testing.T) {
	svc := newFakeService()
	svc.currentErr = errors.New("offline")

	m, _ := newStartedManager(t, svc)
	if st := m.Snapshot(); st.Status != StatusUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", st.Status)
	}
}

func TestStart_NotificationDuringLookupWins(t *testing.T) {
	svc := newFakeService()
	svc.setMemberships("u1", "b1")
	svc.onGetCurrent = func() { svc.Emit(dataservice.EventSignedIn, sessionFor("u1")) }

	m, _ := newStartedManager(t, svc)
	st := m.Snapshot()
	if st.Status != StatusAuthenticated || st.ActiveBusinessID() != "b1" {
		t.Fatalf("stale initial lookup must not override notification, got %+v", st)
	}
}

func TestSignIn_ResolvesMemberships(t *testing.T) {
	svc := newFakeService()
	svc.setMemberships("u1", "b1")
	m, hooks := newStartedManager(t, svc)

	id, err := m.SignIn(context.Background(), "u1", "pw")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if id.UserID != "u1" {
		t.Fatalf("expected u1, got %+v", id)
	}
	m.Wait()

	st := m.Snapshot()
	if st.ActiveBusinessID() != "b1" || len(st.Memberships) != 1 {
		t.Fatalf("unexpected state %+v", st)
	}
	if !equalIDs(hooks.get(), []string{"b1"}) {
		t.Errorf("unexpected hooks %v", hooks.get())
	}
}

func TestSignIn_ErrorsAreAuthErrors(t *testing.T) {
	svc := newFakeService()
	m, _ := newStartedManager(t, svc)

	svc.signInErr = core.NewAuthError("sign_in", core.ReasonInvalidCredentials, core.ErrInvalidCredentials)
	_, err := m.SignIn(context.Background(), "u1", "bad")
	if !errors.Is(err, core.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	svc.signInErr = errors.New("connection reset")
	_, err = m.SignIn(context.Background(), "u1", "pw")
	if core.AuthReasonOf(err) != core.ReasonNetwork {
		t.Fatalf("expected network reason, got %v", err)
	}

	if st := m.Snapshot(); st.Status != StatusUnauthenticated || len(st.Memberships) != 0 {
		t.Fatalf("failed sign-in must not change state, got %+v", st)
	}
}

func TestSignUp_PassesProfile(t *testing.T) {
	svc := newFakeService()
	m, _ := newStartedManager(t, svc)

	id, err := m.SignUp(context.Background(), "u9", "pw-long-enough", map[string]any{"full_name": "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	m.Wait()
	if id.Metadata["full_name"] != "Ada" || m.Snapshot().Identity.Metadata["full_name"] != "Ada" {
		t.Fatalf("expected profile metadata on identity, got %+v", id)
	}
}

func TestSwitchBusiness(t *testing.T) {
	svc := newFakeService()
	svc.current = sessionFor("u1")
	svc.setMemberships("u1", "b1", "b2")
	m, hooks := newStartedManager(t, svc)

	before := m.Snapshot()
	if m.SwitchBusiness("b9") {
		t.Fatal("switching to a foreign business must be rejected")
	}
	if after := m.Snapshot(); after.Version != before.Version || after.ActiveBusinessID() != "b1" {
		t.Fatalf("foreign switch must be a no-op, got %+v", after)
	}

	if !m.SwitchBusiness("b2") {
		t.Fatal("switch to member business failed")
	}
	if m.Snapshot().ActiveBusinessID() != "b2" {
		t.Fatalf("expected b2 active")
	}

	v := m.Snapshot().Version
	if !m.SwitchBusiness("b2") {
		t.Fatal("switch to already active business should succeed")
	}
	if m.Snapshot().Version != v {
		t.Error("re-selecting the active business must not publish")
	}

	if got := svc.queryCount("u1"); got != 1 {
		t.Errorf("switching must not re-fetch memberships, got %d queries", got)
	}
	if !equalIDs(hooks.get(), []string{"b1", "b2"}) {
		t.Errorf("unexpected hooks %v", hooks.get())
	}
}

func TestScenario_SwitchThenSignOut(t *testing.T) {
	svc := newFakeService()
	svc.setMemberships("u1", "b1", "b2")
	m, hooks := newStartedManager(t, svc)

	if _, err := m.SignIn(context.Background(), "u1", "pw"); err != nil {
		t.Fatal(err)
	}
	m.Wait()
	if m.Snapshot().ActiveBusinessID() != "b1" {
		t.Fatal("expected b1 active after sign-in")
	}
	m.SwitchBusiness("b2")

	if err := m.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	st := m.Snapshot()
	if st.Status != StatusUnauthenticated || !st.Identity.IsZero() || len(st.Memberships) != 0 || st.ActiveBusiness != nil {
		t.Fatalf("sign-out must clear everything at once, got %+v", st)
	}
	if !equalIDs(hooks.get(), []string{"b1", "b2", ""}) {
		t.Errorf("unexpected hooks %v", hooks.get())
	}
}

func TestSignOut_NoIntermediateStates(t *testing.T) {
	svc := newFakeService()
	svc.current = sessionFor("u1")
	svc.setMemberships("u1", "b1")
	m, _ := newStartedManager(t, svc)

	var mu sync.Mutex
	var bad []State
	unsub := m.Subscribe(func(st State) {
		identityGone := st.Identity.IsZero()
		tenantsGone := len(st.Memberships) == 0 && st.ActiveBusiness == nil
		if identityGone != tenantsGone {
			mu.Lock()
			bad = append(bad, st)
			mu.Unlock()
		}
	})
	defer unsub()

	if err := m.SignOut(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(bad) != 0 {
		t.Fatalf("observed partially cleared states: %+v", bad)
	}
}

func TestSignOut_FailureKeepsState(t *testing.T) {
	svc := newFakeService()
	svc.current = sessionFor("u1")
	svc.setMemberships("u1", "b1")
	m, _ := newStartedManager(t, svc)

	svc.signOutErr = errors.New("timeout")
	err := m.SignOut(context.Background())
	if core.AuthReasonOf(err) != core.ReasonNetwork {
		t.Fatalf("expected network auth error, got %v", err)
	}
	if st := m.Snapshot(); st.Status != StatusAuthenticated || st.ActiveBusinessID() != "b1" {
		t.Fatalf("failed sign-out must keep state, got %+v", st)
	}
}

func TestStaleResolutionDiscardedAfterSignOut(t *testing.T) {
	svc := newFakeService()
	svc.setMemberships("u1", "b1")
	gate := svc.gate("u1")
	m, hooks := newStartedManager(t, svc)

	if _, err := m.SignIn(context.Background(), "u1", "pw"); err != nil {
		t.Fatal(err)
	}
	if !m.Snapshot().Resolving {
		t.Fatal("expected resolution in flight")
	}
	if err := m.SignOut(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(gate)
	m.Wait()

	st := m.Snapshot()
	if len(st.Memberships) != 0 || st.ActiveBusiness != nil || st.Status != StatusUnauthenticated {
		t.Fatalf("stale resolution leaked into state: %+v", st)
	}
	if len(hooks.get()) != 0 {
		t.Errorf("no tenant change expected, got %v", hooks.get())
	}
}

func TestStaleResolutionDiscardedAfterUserChange(t *testing.T) {
	svc := newFakeService()
	svc.setMemberships("u1", "b1")
	svc.setMemberships("u2", "b2")
	gate := svc.gate("u1")
	m, _ := newStartedManager(t, svc)

	svc.Emit(dataservice.EventSignedIn, sessionFor("u1"))
	svc.Emit(dataservice.EventSignedIn, sessionFor("u2"))
	close(gate)
	m.Wait()

	st := m.Snapshot()
	if st.Identity.UserID != "u2" || st.ActiveBusinessID() != "b2" || len(st.Memberships) != 1 {
		t.Fatalf("expected u2 with b2 only, got %+v", st)
	}
}

func TestUserChangeClearsPreviousTenants(t *testing.T) {
	svc := newFakeService()
	svc.current = sessionFor("u1")
	svc.setMemberships("u1", "b1")
	svc.setMemberships("u2", "b2")
	m, hooks := newStartedManager(t, svc)

	gate := svc.gate("u2")
	svc.Emit(dataservice.EventSignedIn, sessionFor("u2"))

	st := m.Snapshot()
	if st.Identity.UserID != "u2" || len(st.Memberships) != 0 || st.ActiveBusiness != nil {
		t.Fatalf("previous user's tenants must be cleared immediately, got %+v", st)
	}
	close(gate)
	m.Wait()
	if !equalIDs(hooks.get(), []string{"b1", "", "b2"}) {
		t.Errorf("unexpected hooks %v", hooks.get())
	}
}

func TestResolutionFailureRetriesOnNextNotification(t *testing.T) {
	svc := newFakeService()
	svc.current = sessionFor("u1")
	svc.setMemberships("u1", "b1")
	svc.setMembershipErr("u1", errors.New("permission denied"))
	m, _ := newStartedManager(t, svc)

	st := m.Snapshot()
	if st.Status != StatusAuthenticated || len(st.Memberships) != 0 || st.ActiveBusiness != nil || st.Resolving {
		t.Fatalf("failed resolution should leave empty memberships, got %+v", st)
	}

	svc.setMembershipErr("u1", nil)
	svc.Emit(dataservice.EventTokenRefreshed, sessionFor("u1"))
	m.Wait()

	if got := m.Snapshot().ActiveBusinessID(); got != "b1" {
		t.Fatalf("expected retry to resolve b1, got %q", got)
	}
	if svc.queryCount("u1") != 2 {
		t.Errorf("expected 2 queries, got %d", svc.queryCount("u1"))
	}
}

func TestTokenRefreshDoesNotRefetch(t *testing.T) {
	svc := newFakeService()
	svc.current = sessionFor("u1")
	svc.setMemberships("u1", "b1", "b2")
	m, hooks := newStartedManager(t, svc)
	m.SwitchBusiness("b2")

	refreshed := sessionFor("u1")
	refreshed.AccessToken = "rotated"
	svc.Emit(dataservice.EventTokenRefreshed, refreshed)
	m.Wait()

	if svc.queryCount("u1") != 1 {
		t.Errorf("token refresh must not re-resolve, got %d queries", svc.queryCount("u1"))
	}
	if m.Snapshot().ActiveBusinessID() != "b2" {
		t.Error("token refresh must keep the active business")
	}
	if !equalIDs(hooks.get(), []string{"b1", "b2"}) {
		t.Errorf("unexpected hooks %v", hooks.get())
	}
}

func TestReloadMemberships(t *testing.T) {
	ctx := context.Background()
	svc := newFakeService()
	m, hooks := newStartedManager(t, svc)

	if err := m.ReloadMemberships(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	svc.setMemberships("u1", "b1", "b2")
	svc.Emit(dataservice.EventSignedIn, sessionFor("u1"))
	m.Wait()
	m.SwitchBusiness("b2")

	svc.setMemberships("u1", "b3", "b2")
	if err := m.ReloadMemberships(ctx); err != nil {
		t.Fatal(err)
	}
	st := m.Snapshot()
	if st.ActiveBusinessID() != "b2" || len(st.Memberships) != 2 {
		t.Fatalf("expected b2 kept after reload, got %+v", st)
	}

	svc.setMemberships("u1", "b3")
	if err := m.ReloadMemberships(ctx); err != nil {
		t.Fatal(err)
	}
	if got := m.Snapshot().ActiveBusinessID(); got != "b3" {
		t.Fatalf("expected fallback to first membership, got %q", got)
	}

	svc.setMembershipErr("u1", errors.New("boom"))
	var rerr *core.MembershipResolutionError
	if err := m.ReloadMemberships(ctx); !errors.As(err, &rerr) || rerr.UserID != "u1" {
		t.Fatalf("expected MembershipResolutionError, got %v", err)
	}
	if got := m.Snapshot().ActiveBusinessID(); got != "b3" {
		t.Errorf("failed reload must keep previous state, got %q", got)
	}

	if !equalIDs(hooks.get(), []string{"b1", "b2", "b3"}) {
		t.Errorf("unexpected hooks %v", hooks.get())
	}
}

func TestReloadMemberships_FailurePublishesResolved(t *testing.T) {
	ctx := context.Background()
	svc := newFakeService()
	svc.setMemberships("u1", "b1")
	m, _ := newStartedManager(t, svc)
	svc.Emit(dataservice.EventSignedIn, sessionFor("u1"))
	m.Wait()

	var mu sync.Mutex
	var seen []State
	defer m.Subscribe(func(st State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})()

	svc.setMembershipErr("u1", errors.New("boom"))
	var rerr *core.MembershipResolutionError
	if err := m.ReloadMemberships(ctx); !errors.As(err, &rerr) {
		t.Fatalf("expected MembershipResolutionError, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected resolving and resolved states, got %d", len(seen))
	}
	if !seen[0].Resolving {
		t.Errorf("expected first state to be resolving: %+v", seen[0])
	}
	last := seen[1]
	if last.Resolving || last.ActiveBusinessID() != "b1" || last.Version <= seen[0].Version {
		t.Errorf("expected settled state keeping b1, got %+v", last)
	}
	if m.Snapshot().Resolving {
		t.Error("snapshot still resolving after failed reload")
	}
}

func TestSubscribe_OrderedVersions(t *testing.T) {
	svc := newFakeService()
	svc.setMemberships("u1", "b1", "b2")
	m, _ := newStartedManager(t, svc)

	var mu sync.Mutex
	var versions []uint64
	unsub := m.Subscribe(func(st State) {
		mu.Lock()
		versions = append(versions, st.Version)
		mu.Unlock()
	})

	m.SignIn(context.Background(), "u1", "pw")
	m.Wait()
	m.SwitchBusiness("b2")
	unsub()
	m.SwitchBusiness("b1")

	mu.Lock()
	defer mu.Unlock()
	if len(versions) != 3 {
		t.Fatalf("expected 3 published states, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("versions must increase: %v", versions)
		}
	}
}

func TestClose_AbandonsInFlightResolution(t *testing.T) {
	svc := newFakeService()
	svc.setMemberships("u1", "b1")
	svc.gate("u1")
	m := NewManager(svc, svc, nil)
	m.Start(context.Background())

	svc.Emit(dataservice.EventSignedIn, sessionFor("u1"))
	m.Close()
	m.Wait()

	if st := m.Snapshot(); len(st.Memberships) != 0 {
		t.Fatalf("closed manager must not install memberships, got %+v", st)
	}
	if svc.Len() != 0 {
		t.Errorf("expected manager to unsubscribe, %d listeners left", svc.Len())
	}
}
