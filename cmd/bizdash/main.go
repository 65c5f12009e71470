package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"bizdash/internal/activity"
	"bizdash/internal/backend"
	"bizdash/internal/cli"
	"bizdash/internal/core"
	"bizdash/internal/dashboard"
	apphttp "bizdash/internal/http"
	"bizdash/internal/log"
	"bizdash/internal/session"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	mgr := session.NewManager(res.Service, res.Service, logger)
	agg := dashboard.New(res.Service,
		dashboard.WithLimit(cfg.RecentInvoiceLimit),
		dashboard.WithLogger(logger))

	// The recorder subscribes before Start so the restored session is audited.
	var recorder *activity.Recorder
	if res.Activity != nil {
		recorder = activity.NewRecorder(res.Activity, activity.WithLogger(logger))
		recorder.AttachSession(mgr)
		recorder.AttachDashboard(agg)
	}

	mgr.Start(context.Background())
	agg.Attach(mgr)

	srv := apphttp.NewServer(apphttp.Options{
		Addr:      ":" + cfg.Port,
		Session:   mgr,
		Dashboard: agg,
		Profile:   res.Auth,
		Logger:    logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if recorder != nil {
			recorder.Close()
			if dropped, failed := recorder.Stats(); dropped+failed > 0 {
				logger.Warn("Activity events lost", "dropped", dropped, "failed", failed)
			}
		}
		agg.Close()
		mgr.Close()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	go keepSessionAlive(ctx, mgr, res.Auth, cfg.SessionTTL/2, logger)

	logger.Info("Starting bizdash server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"activity_enabled", recorder != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

type sessionRefresher interface {
	RefreshSession(ctx context.Context) (*core.Session, error)
}

// keepSessionAlive extends the client session while someone is signed in.
func keepSessionAlive(ctx context.Context, mgr *session.Manager, auth sessionRefresher, interval time.Duration, logger *log.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if mgr.Snapshot().Status != session.StatusAuthenticated {
				continue
			}
			if _, err := auth.RefreshSession(ctx); err != nil {
				logger.Warn("Session refresh failed", log.FieldError, err, log.FieldOperation, log.OpRefresh)
			}
		}
	}
}
