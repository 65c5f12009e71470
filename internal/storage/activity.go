package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bizdash/internal/core"
)

// RecordActivity appends an audit event. Redelivered events with an already
// stored id are ignored and reported as not inserted.
func (r *SQLiteRepository) RecordActivity(ctx context.Context, ev core.ActivityEvent) (bool, error) {
	if ev.ID == "" {
		return false, fmt.Errorf("record activity: missing event id")
	}
	var snapshot sql.NullString
	if ev.Snapshot != nil {
		b, err := json.Marshal(ev.Snapshot)
		if err != nil {
			return false, fmt.Errorf("encode activity snapshot: %w", err)
		}
		snapshot = sql.NullString{String: string(b), Valid: true}
	}

	inserted, err := r.queries.InsertActivity(ctx, ActivityRow{
		ID:         ev.ID,
		Type:       string(ev.Type),
		UserID:     ev.UserID,
		Email:      ev.Email,
		BusinessID: ev.BusinessID,
		Snapshot:   snapshot,
		OccurredAt: ev.OccurredAt.UnixMilli(),
		RecordedAt: r.now().UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("insert activity: %w", err)
	}
	return inserted, nil
}

// ListActivity returns the newest audit events first.
func (r *SQLiteRepository) ListActivity(ctx context.Context, limit int) ([]core.ActivityEvent, error) {
	rows, err := r.queries.ListActivity(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}

	return activitiesFromRows(rows)
}

// PendingExports returns snapshot events not yet exported, oldest first.
func (r *SQLiteRepository) PendingExports(ctx context.Context, limit int) ([]core.ActivityEvent, error) {
	rows, err := r.queries.ListPendingExports(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending exports: %w", err)
	}
	return activitiesFromRows(rows)
}

// MarkActivityExported records that the event's snapshot reached the sheet.
func (r *SQLiteRepository) MarkActivityExported(ctx context.Context, id string) error {
	n, err := r.queries.MarkActivityExported(ctx, id, r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark activity %s exported: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark activity %s exported: %w", id, sql.ErrNoRows)
	}
	return nil
}

func activitiesFromRows(rows []ActivityRow) ([]core.ActivityEvent, error) {
	out := make([]core.ActivityEvent, 0, len(rows))
	for _, row := range rows {
		ev := core.ActivityEvent{
			ID:         row.ID,
			Type:       core.ActivityType(row.Type),
			UserID:     row.UserID,
			Email:      row.Email,
			BusinessID: row.BusinessID,
			OccurredAt: time.UnixMilli(row.OccurredAt).UTC(),
		}
		if row.Snapshot.Valid {
			var snap core.DashboardSnapshot
			if err := json.Unmarshal([]byte(row.Snapshot.String), &snap); err != nil {
				return nil, fmt.Errorf("decode activity %s snapshot: %w", row.ID, err)
			}
			ev.Snapshot = &snap
		}
		out = append(out, ev)
	}
	return out, nil
}

// PublishActivity records ev directly, for deployments without a broker.
func (r *SQLiteRepository) PublishActivity(ctx context.Context, ev core.ActivityEvent) error {
	_, err := r.RecordActivity(ctx, ev)
	return err
}
