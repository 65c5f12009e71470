package http

import (
	"errors"
	"net/http"
	"strings"

	"bizdash/internal/core"
	"bizdash/internal/dashboard"
	"bizdash/internal/log"
	"bizdash/internal/session"
)

func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	st := s.session.Snapshot()
	if st.Status != session.StatusAuthenticated {
		UnauthorizedError("not signed in").Write(w)
		return
	}
	NewJSONResponse().Body(newDashboardDTO(s.dashboard.View(), st.ActiveBusiness)).Write(w)
}

// handleRefresh recomputes the metrics of the active business.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p := parseBody(w, r)
	if p == nil {
		return
	}
	st := s.session.Snapshot()
	if st.Status != session.StatusAuthenticated {
		s.fail(w, r, p, UnauthorizedError("not signed in"), "not signed in")
		return
	}
	if st.ActiveBusiness == nil {
		s.fail(w, r, p, ConflictError("no active business"), "no active business")
		return
	}

	_, err := s.dashboard.Refresh(r.Context(), st.ActiveBusiness.ID)
	var ferr *core.AggregationFetchError
	switch {
	case err == nil, errors.Is(err, dashboard.ErrSuperseded):
		// A superseding refresh is already loading newer data.
		s.succeed(w, r, p, http.StatusOK, newDashboardDTO(s.dashboard.View(), s.session.Snapshot().ActiveBusiness))
	case errors.As(err, &ferr):
		log.FromContext(r.Context(), s.logger).ErrorContext(r.Context(), "Dashboard refresh failed",
			log.FieldBusinessID, ferr.BusinessID, log.FieldError, err)
		s.fail(w, r, p, ErrorResponse(http.StatusBadGateway, "could not load invoices"), "could not load invoices")
	default:
		s.fail(w, r, p, ErrorResponse(http.StatusInternalServerError, "refresh failed"), "refresh failed")
	}
}

var templateFuncs = map[string]any{
	"upper": strings.ToUpper,
}

type indexPage struct {
	Error     string
	Session   SessionDTO
	Dashboard *DashboardDTO
}

// handleIndex renders the dashboard page for browsers.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		s.logger.ErrorContext(r.Context(), "Templates not loaded", log.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	st := s.session.Snapshot()
	page := indexPage{
		Error:   sanitizeInput(r.URL.Query().Get("error")),
		Session: newSessionDTO(st),
	}
	if st.Status == session.StatusAuthenticated {
		d := newDashboardDTO(s.dashboard.View(), st.ActiveBusiness)
		page.Dashboard = &d
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "dashboard.html", page); err != nil {
		s.logger.ErrorContext(r.Context(), "Dashboard template execution failed", log.FieldError, err)
	}
}
