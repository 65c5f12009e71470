package worker

import (
	"context"
	"fmt"
	"time"

	"bizdash/internal/core"
	"bizdash/internal/log"
	"bizdash/internal/sheets"
)

// ActivityStore is the persistence the worker needs. Implemented by
// storage.SQLiteRepository.
type ActivityStore interface {
	RecordActivity(ctx context.Context, ev core.ActivityEvent) (bool, error)
	PendingExports(ctx context.Context, limit int) ([]core.ActivityEvent, error)
	MarkActivityExported(ctx context.Context, id string) error
}

// ActivityWorker stores activity events from the broker and exports dashboard
// snapshots to a spreadsheet.
type ActivityWorker struct {
	store     ActivityStore
	sheets    sheets.SnapshotWriter
	batchSize int
	logger    *log.Logger
}

// NewActivityWorker creates a worker. sheets may be nil, in which case events
// are only stored.
func NewActivityWorker(store ActivityStore, writer sheets.SnapshotWriter, batchSize int, logger *log.Logger) *ActivityWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &ActivityWorker{
		store:     store,
		sheets:    writer,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleActivity processes a single activity event from AMQP. A storage
// failure is returned so the message is redelivered; an export failure is
// only logged because the event stays pending and is retried by
// ProcessPendingExports.
func (w *ActivityWorker) HandleActivity(ctx context.Context, ev core.ActivityEvent) error {
	w.logger.InfoContext(ctx, "Processing activity message",
		"id", ev.ID,
		log.FieldActivityType, ev.Type,
		log.FieldBusinessID, ev.BusinessID)

	inserted, err := w.store.RecordActivity(ctx, ev)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	if !inserted {
		w.logger.DebugContext(ctx, "Duplicate activity message ignored", "id", ev.ID)
		return nil
	}
	if ev.Snapshot == nil || w.sheets == nil {
		return nil
	}
	if err := w.export(ctx, ev); err != nil {
		w.logger.ErrorContext(ctx, "Failed to export snapshot, will retry", "id", ev.ID, log.FieldError, err)
	}
	return nil
}

// ProcessPendingExports exports stored snapshots that have not reached the
// sheet yet. This is a backup mechanism for failed or missed exports.
func (w *ActivityWorker) ProcessPendingExports(ctx context.Context) (exported, failed int, err error) {
	if w.sheets == nil {
		return 0, 0, nil
	}
	pending, err := w.store.PendingExports(ctx, w.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending exports: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	w.logger.InfoContext(ctx, "Processing pending exports", "count", len(pending))
	for _, ev := range pending {
		if err := ctx.Err(); err != nil {
			return exported, failed, err
		}
		if err := w.export(ctx, ev); err != nil {
			w.logger.ErrorContext(ctx, "Failed to export snapshot", "id", ev.ID, log.FieldError, err)
			failed++
			continue
		}
		exported++
	}

	w.logger.InfoContext(ctx, "Pending exports processed",
		"total", len(pending),
		"exported", exported,
		"errors", failed)
	return exported, failed, nil
}

// RunPeriodicExports calls ProcessPendingExports every interval until ctx is
// done.
func (w *ActivityWorker) RunPeriodicExports(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := w.ProcessPendingExports(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "Periodic export failed", log.FieldError, err)
			}
		}
	}
}

func (w *ActivityWorker) export(ctx context.Context, ev core.ActivityEvent) error {
	ref, err := w.sheets.AppendSnapshot(ctx, ev)
	if err != nil {
		return fmt.Errorf("append to sheets: %w", err)
	}

	// The row exists now; a failed mark only causes a duplicate row later.
	if err := w.store.MarkActivityExported(ctx, ev.ID); err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark as exported", "id", ev.ID, log.FieldError, err)
	}

	w.logger.InfoContext(ctx, "Snapshot exported",
		"id", ev.ID,
		"sheets_ref", ref,
		log.FieldOperation, log.OpExport,
		log.FieldBusinessID, ev.BusinessID)
	return nil
}
