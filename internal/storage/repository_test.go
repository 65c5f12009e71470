package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bizdash/internal/auth"
	"bizdash/internal/core"
	"bizdash/internal/seed"
)

var testHasher = auth.Hasher{Memory: 1024, Time: 1, Threads: 1, KeyLen: 32, SaltLen: 16}

func newTestRepo(t *testing.T, cacheTTL time.Duration) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "bizdash.db"), Options{MembershipCacheTTL: cacheTTL})
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seededRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo := newTestRepo(t, time.Minute)
	ds, err := seed.Load("../seed/testdata/demo.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.ImportDataset(context.Background(), ds, testHasher); err != nil {
		t.Fatalf("ImportDataset() error = %v", err)
	}
	return repo
}

func TestRunMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	v1, err := RunMigrations(path)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	v2, err := RunMigrations(path)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if v1 != 2 || v2 != 2 {
		t.Fatalf("expected schema version 2, got %d and %d", v1, v2)
	}
}

func TestImportDataset(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()

	ds, _ := seed.Load("../seed/testdata/demo.json")
	stats, err := repo.ImportDataset(ctx, ds, testHasher)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if stats.Users != 0 {
		t.Errorf("re-import should skip existing users, inserted %d", stats.Users)
	}
	if stats.Invoices != 4 {
		t.Errorf("expected 4 invoices upserted, got %d", stats.Invoices)
	}

	u, err := repo.FindUserByEmail(ctx, "owner@acme.test")
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := testHasher.Verify("correct-horse", u.PasswordHash); !ok {
		t.Error("seed password should verify")
	}
	if u.Metadata["full_name"] != "Ada Owner" {
		t.Errorf("expected metadata round trip, got %v", u.Metadata)
	}
}

func TestQueryActiveMemberships(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()

	ms, err := repo.QueryActiveMemberships(ctx, "u-owner")
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 2 || ms[0].BusinessID != "b-acme" || ms[1].BusinessID != "b-north" {
		t.Fatalf("unexpected memberships %+v", ms)
	}
	if ms[1].Business.Currency != "EUR" || ms[1].Role != core.RoleAdmin {
		t.Errorf("expected joined business data, got %+v", ms[1])
	}

	books, _ := repo.QueryActiveMemberships(ctx, "u-bookkeeper")
	if len(books) != 1 {
		t.Errorf("inactive membership should be filtered, got %+v", books)
	}

	none, err := repo.QueryActiveMemberships(ctx, "nobody")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty result, got %v %v", none, err)
	}
}

func TestQueryActiveMemberships_Cached(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.QueryActiveMemberships(ctx, "u-owner"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	first, _ := repo.QueryActiveMemberships(ctx, "u-owner")
	first[0].BusinessID = "mutated"
	second, _ := repo.QueryActiveMemberships(ctx, "u-owner")
	if second[0].BusinessID != "b-acme" {
		t.Fatal("cached memberships must not be shared with callers")
	}
	if repo.MembershipCache().Stats().Hits == 0 {
		t.Error("expected cache hits")
	}
}

func TestQueryRecentInvoices(t *testing.T) {
	repo := seededRepo(t)
	ctx := context.Background()

	invs, err := repo.QueryRecentInvoices(ctx, "b-acme", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(invs) != 3 {
		t.Fatalf("expected 3 invoices, got %d", len(invs))
	}
	if invs[0].ID != "i-3" || invs[2].ID != "i-1" {
		t.Errorf("expected newest first, got %s..%s", invs[0].ID, invs[2].ID)
	}
	if invs[0].Contact != nil || invs[0].DueDate != nil {
		t.Errorf("invoice without contact or due date should keep nils: %+v", invs[0])
	}
	if invs[0].TotalAmount.CentsOrZero() != 25050 {
		t.Errorf("expected 250.50, got %v", invs[0].TotalAmount)
	}
	if invs[1].CustomerName() != "Jane Doe" || invs[2].CustomerName() != "Globex" {
		t.Errorf("unexpected customer names %q, %q", invs[1].CustomerName(), invs[2].CustomerName())
	}

	limited, _ := repo.QueryRecentInvoices(ctx, "b-acme", 1)
	if len(limited) != 1 || limited[0].ID != "i-3" {
		t.Errorf("limit not applied: %+v", limited)
	}
}

func TestUserStoreAndSession(t *testing.T) {
	repo := newTestRepo(t, 0)
	ctx := context.Background()

	u := auth.UserRecord{ID: "u1", Email: "Someone@Example.com", PasswordHash: "h"}
	if err := repo.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateUser(ctx, auth.UserRecord{ID: "u2", Email: "someone@example.com", PasswordHash: "h"}); !errors.Is(err, core.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	if _, err := repo.FindUserByEmail(ctx, "missing@example.com"); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := repo.UpdateUserMetadata(ctx, "u1", map[string]any{"plan": "pro"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateUserMetadata(ctx, "ghost", nil); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if s, err := repo.LoadClientSession(ctx); err != nil || s != nil {
		t.Fatalf("expected no session, got %v %v", s, err)
	}

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.SaveClientSession(ctx, core.Session{AccessToken: "t1", User: core.Identity{UserID: "u1"}, ExpiresAt: expires}); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveClientSession(ctx, core.Session{AccessToken: "t2", User: core.Identity{UserID: "u1"}, ExpiresAt: expires}); err != nil {
		t.Fatal(err)
	}
	s, err := repo.LoadClientSession(ctx)
	if err != nil || s == nil {
		t.Fatalf("expected session, got %v %v", s, err)
	}
	if s.AccessToken != "t2" || s.User.Email != "someone@example.com" || !s.ExpiresAt.Equal(expires) {
		t.Errorf("unexpected session %+v", s)
	}
	if s.User.Metadata["plan"] != "pro" {
		t.Errorf("expected metadata joined from users, got %v", s.User.Metadata)
	}

	if err := repo.ClearClientSession(ctx); err != nil {
		t.Fatal(err)
	}
	if s, _ := repo.LoadClientSession(ctx); s != nil {
		t.Fatal("expected cleared session")
	}
}

func TestRecordActivity(t *testing.T) {
	repo := newTestRepo(t, 0)
	ctx := context.Background()

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ev := core.ActivityEvent{
		ID:         "ev-1",
		Type:       core.ActivityDashboardRefresh,
		UserID:     "u1",
		BusinessID: "b1",
		OccurredAt: at,
		Snapshot: &core.DashboardSnapshot{
			Business: core.Business{ID: "b1", Name: "One"},
			Metrics:  core.DashboardMetrics{BusinessID: "b1", TotalRevenue: core.Money{Cents: 15000}, OverdueCount: 1},
		},
	}

	inserted, err := repo.RecordActivity(ctx, ev)
	if err != nil || !inserted {
		t.Fatalf("RecordActivity() = %v, %v", inserted, err)
	}
	inserted, err = repo.RecordActivity(ctx, ev)
	if err != nil || inserted {
		t.Fatalf("duplicate RecordActivity() = %v, %v", inserted, err)
	}
	if _, err := repo.RecordActivity(ctx, core.ActivityEvent{Type: core.ActivitySignedIn}); err == nil {
		t.Fatal("expected error for event without id")
	}

	list, err := repo.ListActivity(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 event, got %d", len(list))
	}
	got := list[0]
	if !got.OccurredAt.Equal(at) || got.Snapshot == nil || got.Snapshot.Metrics.TotalRevenue.Cents != 15000 {
		t.Errorf("unexpected stored activity %+v", got)
	}
}

func TestPendingExports(t *testing.T) {
	repo := newTestRepo(t, 0)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	snap := &core.DashboardSnapshot{
		Business: core.Business{ID: "b1", Name: "One"},
		Metrics:  core.DashboardMetrics{BusinessID: "b1"},
	}
	events := []core.ActivityEvent{
		{ID: "a", Type: core.ActivityDashboardRefresh, BusinessID: "b1", Snapshot: snap, OccurredAt: base.Add(2 * time.Minute)},
		{ID: "b", Type: core.ActivitySignedIn, UserID: "u1", OccurredAt: base},
		{ID: "c", Type: core.ActivityDashboardRefresh, BusinessID: "b1", Snapshot: snap, OccurredAt: base.Add(time.Minute)},
	}
	for _, ev := range events {
		if _, err := repo.RecordActivity(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := repo.PendingExports(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != "c" || pending[1].ID != "a" {
		t.Fatalf("pending = %+v, want c then a", pending)
	}

	if err := repo.MarkActivityExported(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkActivityExported(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown id")
	}
	pending, _ = repo.PendingExports(ctx, 10)
	if len(pending) != 1 || pending[0].ID != "a" {
		t.Fatalf("pending after mark = %+v", pending)
	}
}
