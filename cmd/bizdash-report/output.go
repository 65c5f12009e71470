package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"bizdash/internal/core"
)

type snapshotJSON struct {
	BusinessID         string `json:"business_id"`
	Name               string `json:"name"`
	Currency           string `json:"currency"`
	TotalRevenue       string `json:"total_revenue"`
	OutstandingBalance string `json:"outstanding_balance"`
	OverdueCount       int    `json:"overdue_count"`
	Invoices           int    `json:"invoices"`
	ComputedAt         string `json:"computed_at"`
}

func writeJSON(w io.Writer, snaps []core.DashboardSnapshot) error {
	out := make([]snapshotJSON, 0, len(snaps))
	for _, s := range snaps {
		cur := s.Business.CurrencyOrDefault()
		out = append(out, snapshotJSON{
			BusinessID:         s.Business.ID,
			Name:               s.Business.Name,
			Currency:           cur,
			TotalRevenue:       s.Metrics.TotalRevenue.String(),
			OutstandingBalance: s.Metrics.OutstandingBalance.String(),
			OverdueCount:       s.Metrics.OverdueCount,
			Invoices:           len(s.Metrics.RecentInvoices),
			ComputedAt:         s.Metrics.ComputedAt.UTC().Format(time.RFC3339),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeTable(w io.Writer, snaps []core.DashboardSnapshot) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, "No businesses.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BUSINESS\tNAME\tREVENUE\tOUTSTANDING\tOVERDUE\tINVOICES")
	for _, s := range snaps {
		cur := s.Business.CurrencyOrDefault()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			s.Business.ID,
			s.Business.Name,
			core.FormatMoney(s.Metrics.TotalRevenue, cur),
			core.FormatMoney(s.Metrics.OutstandingBalance, cur),
			s.Metrics.OverdueCount,
			len(s.Metrics.RecentInvoices))
	}
	return tw.Flush()
}
