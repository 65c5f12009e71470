// Package http exposes the session manager and dashboard aggregator as a
// JSON API plus one server-rendered dashboard page.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"bizdash/internal/core"
	"bizdash/internal/dashboard"
	"bizdash/internal/log"
	"bizdash/internal/middleware/ratelimit"
	"bizdash/internal/middleware/security"
	"bizdash/internal/middleware/trace"
	"bizdash/internal/session"
	appweb "bizdash/web"
)

// SessionController is the part of session.Manager the handlers drive.
type SessionController interface {
	Snapshot() session.State
	SignIn(ctx context.Context, email, password string) (core.Identity, error)
	SignUp(ctx context.Context, email, password string, profile map[string]any) (core.Identity, error)
	SignOut(ctx context.Context) error
	SwitchBusiness(businessID string) bool
	ReloadMemberships(ctx context.Context) error
}

// DashboardController is the part of dashboard.Aggregator the handlers drive.
type DashboardController interface {
	View() dashboard.View
	Refresh(ctx context.Context, businessID string) (core.DashboardMetrics, error)
}

// ProfileUpdater replaces the signed-in user's profile metadata.
type ProfileUpdater interface {
	UpdateUser(ctx context.Context, metadata map[string]any) (*core.Session, error)
}

type Options struct {
	Addr      string
	Session   SessionController
	Dashboard DashboardController
	// Profile enables POST /api/session/profile when set.
	Profile ProfileUpdater
	Logger    *log.Logger
	// RequestsPerMinute limits POSTs per client IP; 0 means 60.
	RequestsPerMinute int
	// BlockSuspicious rejects requests that look like probes instead of
	// only logging them.
	BlockSuspicious bool
}

type Server struct {
	http.Server
	session   SessionController
	dashboard DashboardController
	profile   ProfileUpdater
	logger    *log.Logger
	templates *template.Template

	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware
	detector *security.Detector

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	mux := http.NewServeMux()
	detector := security.NewDetector()

	s := &Server{
		session:   opts.Session,
		dashboard: opts.Dashboard,
		profile:   opts.Profile,
		logger:    logger.WithComponent(log.ComponentHTTP),
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute}),
		tracer:    trace.NewMiddleware(logger, detector.ExtractClientIP),
		detector:  detector,
	}

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		s.logger.Warn("Failed parsing templates", log.FieldError, err)
	}
	s.templates = t

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	limited := s.limiter.Middleware(detector.ExtractClientIP, s.onRateLimit)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /{$}", s.handleIndex)

	mux.HandleFunc("GET /api/session", s.handleGetSession)
	mux.Handle("POST /api/session/signin", limited(http.HandlerFunc(s.handleSignIn)))
	mux.Handle("POST /api/session/signup", limited(http.HandlerFunc(s.handleSignUp)))
	mux.Handle("POST /api/session/signout", limited(http.HandlerFunc(s.handleSignOut)))
	mux.Handle("POST /api/session/switch", limited(http.HandlerFunc(s.handleSwitch)))
	mux.Handle("POST /api/session/reload", limited(http.HandlerFunc(s.handleReload)))
	if s.profile != nil {
		mux.Handle("POST /api/session/profile", limited(http.HandlerFunc(s.handleUpdateProfile)))
	}

	mux.HandleFunc("GET /api/dashboard", s.handleGetDashboard)
	mux.Handle("POST /api/dashboard/refresh", limited(http.HandlerFunc(s.handleRefresh)))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var handler http.Handler = mux
	handler = detector.Middleware(logger, opts.BlockSuspicious)(handler)
	handler = headers.Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and its background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Metrics reports the middleware counters.
type Metrics struct {
	Requests        trace.Metrics
	RateLimited     int64
	Suspicious      int64
	BlockedRequests int64
}

func (s *Server) Metrics() Metrics {
	d := s.detector.GetMetrics()
	return Metrics{
		Requests:        s.tracer.GetMetrics(),
		RateLimited:     s.limiter.GetMetrics().Rejected,
		Suspicious:      d.SuspiciousRequests,
		BlockedRequests: d.BlockedRequests,
	}
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context(), s.logger).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").
		Header("Retry-After", "60").
		Write(w)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports ready once the session manager left initialization.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.session.Snapshot().Status == session.StatusInitializing {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("initializing"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
