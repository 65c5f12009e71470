package sheets

import (
	"context"

	"bizdash/internal/core"
)

// Ports for outbound adapters.
type (
	// SnapshotWriter appends one dashboard snapshot row per refresh event.
	SnapshotWriter interface {
		AppendSnapshot(ctx context.Context, ev core.ActivityEvent) (rowRef string, err error)
	}

	// SnapshotReader reads back the rows written for a given year.
	SnapshotReader interface {
		ListSnapshots(ctx context.Context, year int) ([]Row, error)
	}
)
