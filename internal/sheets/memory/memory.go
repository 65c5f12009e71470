package memory

import (
	"context"
	"fmt"
	"sync"

	"bizdash/internal/core"
	ports "bizdash/internal/sheets"
)

// Writer keeps exported snapshot rows in memory, grouped by year. Used when
// no spreadsheet is configured and in tests.
type Writer struct {
	mu     sync.Mutex
	byYear map[int][]ports.Row
	total  int
}

var (
	_ ports.SnapshotWriter = (*Writer)(nil)
	_ ports.SnapshotReader = (*Writer)(nil)
)

func New() *Writer {
	return &Writer{byYear: make(map[int][]ports.Row)}
}

// AppendSnapshot stores the row and returns a synthetic row reference.
func (w *Writer) AppendSnapshot(_ context.Context, ev core.ActivityEvent) (string, error) {
	row, err := ports.RowFromEvent(ev)
	if err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	year := row.RecordedAt.Year()
	w.byYear[year] = append(w.byYear[year], row)
	w.total++
	return fmt.Sprintf("mem:%d:%d", year, len(w.byYear[year])), nil
}

func (w *Writer) ListSnapshots(_ context.Context, year int) ([]ports.Row, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ports.Row(nil), w.byYear[year]...), nil
}

// Len returns the number of rows written across all years.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}
