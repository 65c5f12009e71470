package memory

import (
	"context"
	"testing"
	"time"

	"bizdash/internal/core"
)

func TestWriter_GroupsByYear(t *testing.T) {
	w := New()
	ctx := context.Background()

	for i, at := range []time.Time{
		time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC),
	} {
		ref, err := w.AppendSnapshot(ctx, core.ActivityEvent{
			Type:       core.ActivityDashboardRefresh,
			OccurredAt: at,
			Snapshot: &core.DashboardSnapshot{
				Business: core.Business{ID: "b-1", Name: "Acme"},
				Metrics:  core.DashboardMetrics{BusinessID: "b-1", TotalRevenue: core.Money{Cents: int64(i)}},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if ref == "" {
			t.Fatal("empty row ref")
		}
	}

	rows, _ := w.ListSnapshots(ctx, 2024)
	if len(rows) != 2 || rows[1].Revenue.Cents != 2 {
		t.Fatalf("2024 rows = %+v", rows)
	}
	if w.Len() != 3 {
		t.Fatalf("Len = %d", w.Len())
	}
	if _, err := w.AppendSnapshot(ctx, core.ActivityEvent{Type: core.ActivitySignedIn}); err == nil {
		t.Fatal("event without snapshot should be rejected")
	}
}
