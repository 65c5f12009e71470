package sheets

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bizdash/internal/core"
)

// Header is the first row of every snapshot sheet.
var Header = []any{
	"Date", "Time", "Business ID", "Business", "Currency",
	"Revenue", "Outstanding", "Overdue", "Invoices", "User",
}

// Row is one exported snapshot.
type Row struct {
	RecordedAt   time.Time
	BusinessID   string
	BusinessName string
	Currency     string
	Revenue      core.Money
	Outstanding  core.Money
	OverdueCount int
	InvoiceCount int
	UserEmail    string
}

var ErrNoSnapshot = errors.New("activity event carries no snapshot")

// RowFromEvent projects a dashboard refresh event onto a sheet row.
func RowFromEvent(ev core.ActivityEvent) (Row, error) {
	s := ev.Snapshot
	if s == nil {
		return Row{}, ErrNoSnapshot
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = s.Metrics.ComputedAt
	}
	id := s.Business.ID
	if id == "" {
		id = ev.BusinessID
	}
	return Row{
		RecordedAt:   at.UTC(),
		BusinessID:   id,
		BusinessName: s.Business.Name,
		Currency:     s.Business.CurrencyOrDefault(),
		Revenue:      s.Metrics.TotalRevenue,
		Outstanding:  s.Metrics.OutstandingBalance,
		OverdueCount: s.Metrics.OverdueCount,
		InvoiceCount: len(s.Metrics.RecentInvoices),
		UserEmail:    ev.Email,
	}, nil
}

// Values renders the row in Header order. Amounts are plain decimals so the
// sheet can format them.
func (r Row) Values() []any {
	return []any{
		r.RecordedAt.Format("2006-01-02"),
		r.RecordedAt.Format("15:04:05"),
		r.BusinessID,
		r.BusinessName,
		r.Currency,
		centsToDecimal(r.Revenue.Cents),
		centsToDecimal(r.Outstanding.Cents),
		r.OverdueCount,
		r.InvoiceCount,
		r.UserEmail,
	}
}

// ParseRow is the inverse of Values for rows read back from a sheet.
func ParseRow(values []any) (Row, error) {
	cells := make([]string, len(Header))
	for i := range cells {
		if i < len(values) {
			cells[i] = strings.TrimSpace(fmt.Sprint(values[i]))
		}
	}
	at, err := time.ParseInLocation("2006-01-02 15:04:05", cells[0]+" "+cells[1], time.UTC)
	if err != nil {
		return Row{}, fmt.Errorf("parse timestamp: %w", err)
	}
	if cells[2] == "" {
		return Row{}, errors.New("missing business id")
	}
	revenue, err := amountOrZero(cells[5])
	if err != nil {
		return Row{}, fmt.Errorf("parse revenue: %w", err)
	}
	outstanding, err := amountOrZero(cells[6])
	if err != nil {
		return Row{}, fmt.Errorf("parse outstanding: %w", err)
	}
	overdue, err := atoiOrZero(cells[7])
	if err != nil {
		return Row{}, fmt.Errorf("parse overdue count: %w", err)
	}
	count, err := atoiOrZero(cells[8])
	if err != nil {
		return Row{}, fmt.Errorf("parse invoice count: %w", err)
	}
	return Row{
		RecordedAt:   at,
		BusinessID:   cells[2],
		BusinessName: cells[3],
		Currency:     cells[4],
		Revenue:      revenue,
		Outstanding:  outstanding,
		OverdueCount: overdue,
		InvoiceCount: count,
		UserEmail:    cells[9],
	}, nil
}

func amountOrZero(s string) (core.Money, error) {
	if s == "" {
		return core.Money{}, nil
	}
	return core.ParseAmount(s)
}

func atoiOrZero(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func centsToDecimal(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// YearPrefixedName returns "<year> <base>" unless base already starts with a
// 4-digit year.
func YearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
