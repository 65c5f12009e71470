package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"bizdash/internal/core"
)

// ActivityMessage is the wire form of a core.ActivityEvent.
type ActivityMessage struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	UserID     string           `json:"user_id,omitempty"`
	Email      string           `json:"email,omitempty"`
	BusinessID string           `json:"business_id,omitempty"`
	Snapshot   *SnapshotMessage `json:"snapshot,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// SnapshotMessage carries the dashboard totals, not the invoice list.
type SnapshotMessage struct {
	BusinessID              string    `json:"business_id"`
	BusinessName            string    `json:"business_name"`
	Currency                string    `json:"currency"`
	TotalRevenueCents       int64     `json:"total_revenue_cents"`
	OutstandingBalanceCents int64     `json:"outstanding_balance_cents"`
	OverdueCount            int       `json:"overdue_count"`
	InvoiceCount            int       `json:"invoice_count"`
	ComputedAt              time.Time `json:"computed_at"`
}

func NewActivityMessage(ev core.ActivityEvent) *ActivityMessage {
	msg := &ActivityMessage{
		ID:         ev.ID,
		Type:       string(ev.Type),
		UserID:     ev.UserID,
		Email:      ev.Email,
		BusinessID: ev.BusinessID,
		OccurredAt: ev.OccurredAt.UTC(),
	}
	if s := ev.Snapshot; s != nil {
		msg.Snapshot = &SnapshotMessage{
			BusinessID:              s.Business.ID,
			BusinessName:            s.Business.Name,
			Currency:                s.Business.CurrencyOrDefault(),
			TotalRevenueCents:       s.Metrics.TotalRevenue.Cents,
			OutstandingBalanceCents: s.Metrics.OutstandingBalance.Cents,
			OverdueCount:            s.Metrics.OverdueCount,
			InvoiceCount:            len(s.Metrics.RecentInvoices),
			ComputedAt:              s.Metrics.ComputedAt.UTC(),
		}
	}
	return msg
}

// Event converts the message back to a domain event. The snapshot's recent
// invoice list is not transmitted and comes back empty.
func (m *ActivityMessage) Event() core.ActivityEvent {
	ev := core.ActivityEvent{
		ID:         m.ID,
		Type:       core.ActivityType(m.Type),
		UserID:     m.UserID,
		Email:      m.Email,
		BusinessID: m.BusinessID,
		OccurredAt: m.OccurredAt,
	}
	if s := m.Snapshot; s != nil {
		ev.Snapshot = &core.DashboardSnapshot{
			Business: core.Business{ID: s.BusinessID, Name: s.BusinessName, Currency: s.Currency},
			Metrics: core.DashboardMetrics{
				BusinessID:         s.BusinessID,
				TotalRevenue:       core.Money{Cents: s.TotalRevenueCents},
				OutstandingBalance: core.Money{Cents: s.OutstandingBalanceCents},
				OverdueCount:       s.OverdueCount,
				ComputedAt:         s.ComputedAt,
			},
		}
	}
	return ev
}

func (m *ActivityMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ActivityMessageFromJSON decodes and validates a message body.
func ActivityMessageFromJSON(data []byte) (*ActivityMessage, error) {
	var msg ActivityMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" || msg.Type == "" {
		return nil, fmt.Errorf("activity message missing id or type")
	}
	return &msg, nil
}
