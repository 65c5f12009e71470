package dashboard

import (
	"time"

	"bizdash/internal/core"
)

// Compute reduces one invoice batch to dashboard metrics. Missing amounts
// count as zero. Overdueness is derived from the due date at now, not from
// the stored status label, and paid invoices are never overdue.
func Compute(businessID string, invoices []core.Invoice, now time.Time) core.DashboardMetrics {
	m := core.DashboardMetrics{
		BusinessID:     businessID,
		RecentInvoices: make([]core.RecentInvoice, 0, len(invoices)),
		ComputedAt:     now,
	}
	for _, inv := range invoices {
		m.TotalRevenue.Cents += inv.TotalAmount.CentsOrZero()
		m.OutstandingBalance.Cents += inv.BalanceDue.CentsOrZero()
		if inv.IsOverdueAt(now) {
			m.OverdueCount++
		}
		m.RecentInvoices = append(m.RecentInvoices, core.RecentInvoice{
			Invoice:      inv,
			CustomerName: inv.CustomerName(),
		})
	}
	return m
}
