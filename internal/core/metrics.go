package core

import "time"

// RecentInvoice is an invoice annotated for display.
type RecentInvoice struct {
	Invoice
	CustomerName string
}

// DashboardMetrics summarises the most recent invoices of one business.
// It is a recent-activity snapshot, not a ledger total.
type DashboardMetrics struct {
	BusinessID         string
	TotalRevenue       Money
	OutstandingBalance Money
	OverdueCount       int
	RecentInvoices     []RecentInvoice
	ComputedAt         time.Time
}

// IsZero reports whether no aggregation has produced these metrics.
func (m DashboardMetrics) IsZero() bool {
	return m.BusinessID == "" && len(m.RecentInvoices) == 0 &&
		m.TotalRevenue.Cents == 0 && m.OutstandingBalance.Cents == 0 && m.OverdueCount == 0
}

// DashboardSnapshot pairs metrics with the business they describe.
type DashboardSnapshot struct {
	Business Business
	Metrics  DashboardMetrics
}

// ActivityType names audit events emitted by the dashboard client.
type ActivityType string

const (
	ActivitySignedIn         ActivityType = "session.signed_in"
	ActivitySignedOut        ActivityType = "session.signed_out"
	ActivityBusinessSwitched ActivityType = "business.switched"
	ActivityDashboardRefresh ActivityType = "dashboard.refreshed"
)

// ActivityEvent is one audit trail record.
type ActivityEvent struct {
	ID         string
	Type       ActivityType
	UserID     string
	Email      string
	BusinessID string
	Snapshot   *DashboardSnapshot
	OccurredAt time.Time
}
