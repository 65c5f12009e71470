package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bizdash/internal/backend"
	"bizdash/internal/cli"
	"bizdash/internal/config"
	"bizdash/internal/core"
	"bizdash/internal/dashboard"
	"bizdash/internal/log"
	"bizdash/internal/session"
)

type reportOptions struct {
	email    string
	password string
	business string
	json     bool
	timeout  time.Duration
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &reportOptions{}
	cmd := &cobra.Command{
		Use:   "bizdash-report",
		Short: "Print dashboard metrics for every business of a user",
		Long: `bizdash-report signs in with the given credentials, resolves the
user's active business memberships and prints revenue, outstanding balance
and overdue invoices for each of them.

The data backend is configured through the same environment variables as the
server (DATA_BACKEND, SQLITE_DB_PATH, SEED_FILE, ...).

Examples:
  bizdash-report --email owner@acme.test
  BIZDASH_PASSWORD=secret bizdash-report --email owner@acme.test --json
  bizdash-report --email owner@acme.test --business b-acme`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.password, "password", "", "account password (default $BIZDASH_PASSWORD)")
	cmd.Flags().StringVar(&opts.business, "business", "", "only report this business id")
	cmd.Flags().BoolVar(&opts.json, "json", false, "output as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runReport(cmd *cobra.Command, opts *reportOptions) error {
	cli.LoadEnvFile()

	logger := log.Discard()
	if opts.verbose {
		logger = log.New(log.Config{Level: log.ParseLevel("debug"), Output: os.Stderr})
	}

	password := opts.password
	if password == "" {
		password = os.Getenv("BIZDASH_PASSWORD")
	}
	if password == "" {
		return errors.New("a password is required (--password or BIZDASH_PASSWORD)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	cfg := config.Load()
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return fmt.Errorf("initialize backend: %w", err)
	}
	defer res.Cleanup()

	mgr := session.NewManager(res.Service, res.Service, logger)
	defer mgr.Close()
	mgr.Start(ctx)

	if _, err := mgr.SignIn(ctx, opts.email, password); err != nil {
		return err
	}
	mgr.Wait()

	st := mgr.Snapshot()
	if st.Status != session.StatusAuthenticated {
		return errors.New("sign in did not produce a session")
	}
	businesses, err := selectBusinesses(st.Memberships, opts.business)
	if err != nil {
		return err
	}

	agg := dashboard.New(res.Service, dashboard.WithLimit(cfg.RecentInvoiceLimit), dashboard.WithLogger(logger))
	defer agg.Close()
	snaps, err := agg.SnapshotAll(ctx, businesses)
	if err != nil {
		return err
	}

	if opts.json {
		return writeJSON(cmd.OutOrStdout(), snaps)
	}
	return writeTable(cmd.OutOrStdout(), snaps)
}

// selectBusinesses returns all membership businesses, or just the one named
// by only.
func selectBusinesses(ms []core.Membership, only string) ([]core.Business, error) {
	out := make([]core.Business, 0, len(ms))
	for _, m := range ms {
		if only != "" && m.Business.ID != only {
			continue
		}
		out = append(out, m.Business)
	}
	if only != "" && len(out) == 0 {
		return nil, fmt.Errorf("business %s is not among your memberships", only)
	}
	return out, nil
}
