package sheets

import (
	"errors"
	"testing"
	"time"

	"bizdash/internal/core"
)

func refreshEvent() core.ActivityEvent {
	return core.ActivityEvent{
		ID:         "ev-1",
		Type:       core.ActivityDashboardRefresh,
		Email:      "owner@acme.test",
		BusinessID: "b-acme",
		OccurredAt: time.Date(2024, 2, 1, 9, 5, 7, 0, time.UTC),
		Snapshot: &core.DashboardSnapshot{
			Business: core.Business{ID: "b-acme", Name: "Acme", Currency: "usd"},
			Metrics: core.DashboardMetrics{
				BusinessID:         "b-acme",
				TotalRevenue:       core.Money{Cents: 40050},
				OutstandingBalance: core.Money{Cents: -5},
				OverdueCount:       1,
				RecentInvoices:     make([]core.RecentInvoice, 3),
			},
		},
	}
}

func TestRowFromEvent(t *testing.T) {
	row, err := RowFromEvent(refreshEvent())
	if err != nil {
		t.Fatal(err)
	}
	got := row.Values()
	want := []any{"2024-02-01", "09:05:07", "b-acme", "Acme", "USD", "400.50", "-0.05", 1, 3, "owner@acme.test"}
	if len(got) != len(Header) {
		t.Fatalf("got %d cells, header has %d", len(got), len(Header))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cell %d (%v) = %v, want %v", i, Header[i], got[i], want[i])
		}
	}
}

func TestRowFromEvent_NoSnapshot(t *testing.T) {
	_, err := RowFromEvent(core.ActivityEvent{Type: core.ActivitySignedIn})
	if !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("err = %v, want ErrNoSnapshot", err)
	}
}

func TestParseRow(t *testing.T) {
	row, _ := RowFromEvent(refreshEvent())
	back, err := ParseRow(row.Values())
	if err != nil {
		t.Fatal(err)
	}
	if !back.RecordedAt.Equal(row.RecordedAt) {
		t.Fatalf("RecordedAt = %v, want %v", back.RecordedAt, row.RecordedAt)
	}
	back.RecordedAt = row.RecordedAt
	if back != row {
		t.Fatalf("ParseRow = %+v, want %+v", back, row)
	}

	tests := []struct {
		name   string
		values []any
	}{
		{"empty", nil},
		{"bad date", []any{"01/02/2024", "09:00:00", "b-1"}},
		{"missing business", []any{"2024-02-01", "09:00:00", ""}},
		{"bad amount", []any{"2024-02-01", "09:00:00", "b-1", "", "", "abc"}},
		{"bad count", []any{"2024-02-01", "09:00:00", "b-1", "", "", "1", "2", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRow(tt.values); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseRow_ShortRowDefaultsToZero(t *testing.T) {
	row, err := ParseRow([]any{"2024-02-01", "09:00:00", "b-1", "Acme", "EUR", "12", ""})
	if err != nil {
		t.Fatal(err)
	}
	if row.Revenue.Cents != 1200 || row.Outstanding.Cents != 0 || row.OverdueCount != 0 || row.UserEmail != "" {
		t.Fatalf("row = %+v", row)
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"Dashboard", "2024 Dashboard"},
		{" Dashboard ", "2024 Dashboard"},
		{"2023 Dashboard", "2023 Dashboard"},
		{"1200 Dashboard", "2024 1200 Dashboard"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := YearPrefixedName(tt.base, 2024); got != tt.want {
			t.Errorf("YearPrefixedName(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
