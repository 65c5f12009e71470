package http

import (
	"errors"
	"net/http"

	"bizdash/internal/core"
	"bizdash/internal/log"
	"bizdash/internal/session"
)

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(newSessionDTO(s.session.Snapshot())).Write(w)
}

// parseBody parses the request body, writing a 400 and returning nil on
// failure.
func parseBody(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			ErrorResponse(http.StatusRequestEntityTooLarge, err.Error()).Write(w)
			return nil
		}
		BadRequestError("invalid request body").Write(w)
		return nil
	}
	return p
}

func credentials(p *RequestBodyParser) (email, password string, err error) {
	email = p.Get("email")
	password = p.GetRaw("password")
	if err := core.ValidateEmail(email); err != nil {
		return "", "", err
	}
	if password == "" {
		return "", "", errors.New("password is required")
	}
	return email, password, nil
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	p := parseBody(w, r)
	if p == nil {
		return
	}
	email, password, err := credentials(p)
	if err != nil {
		s.fail(w, r, p, UnprocessableEntityError(err.Error()), err.Error())
		return
	}

	id, err := s.session.SignIn(r.Context(), email, password)
	if err != nil {
		s.fail(w, r, p, AuthErrorResponse(err), string(core.AuthReasonOf(err)))
		return
	}
	s.succeed(w, r, p, http.StatusOK, s.identityBody(id))
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	p := parseBody(w, r)
	if p == nil {
		return
	}
	email, password, err := credentials(p)
	if err != nil {
		s.fail(w, r, p, UnprocessableEntityError(err.Error()), err.Error())
		return
	}

	id, err := s.session.SignUp(r.Context(), email, password, p.GetObject("profile"))
	if err != nil {
		s.fail(w, r, p, AuthErrorResponse(err), string(core.AuthReasonOf(err)))
		return
	}
	s.succeed(w, r, p, http.StatusCreated, s.identityBody(id))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	p := parseBody(w, r)
	if p == nil {
		return
	}
	if err := s.session.SignOut(r.Context()); err != nil {
		s.fail(w, r, p, AuthErrorResponse(err), string(core.AuthReasonOf(err)))
		return
	}
	s.succeed(w, r, p, http.StatusOK, newSessionDTO(s.session.Snapshot()))
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	p := parseBody(w, r)
	if p == nil {
		return
	}
	if s.session.Snapshot().Status != session.StatusAuthenticated {
		s.fail(w, r, p, UnauthorizedError("not signed in"), "not signed in")
		return
	}
	businessID := p.Get("business_id")
	if businessID == "" {
		s.fail(w, r, p, UnprocessableEntityError(core.ErrEmptyBusinessID.Error()), core.ErrEmptyBusinessID.Error())
		return
	}
	if !s.session.SwitchBusiness(businessID) {
		s.fail(w, r, p, NotFoundError("business is not among your memberships"), "unknown business")
		return
	}
	s.succeed(w, r, p, http.StatusOK, newSessionDTO(s.session.Snapshot()))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	p := parseBody(w, r)
	if p == nil {
		return
	}
	err := s.session.ReloadMemberships(r.Context())
	var rerr *core.MembershipResolutionError
	switch {
	case err == nil:
		s.succeed(w, r, p, http.StatusOK, newSessionDTO(s.session.Snapshot()))
	case errors.Is(err, session.ErrNotAuthenticated):
		s.fail(w, r, p, UnauthorizedError("not signed in"), "not signed in")
	case errors.Is(err, session.ErrSuperseded):
		s.fail(w, r, p, ConflictError("membership reload superseded by a newer change"), "reload superseded")
	case errors.As(err, &rerr):
		log.FromContext(r.Context(), s.logger).ErrorContext(r.Context(), "Membership reload failed", log.FieldError, err)
		s.fail(w, r, p, ErrorResponse(http.StatusBadGateway, "could not load memberships"), "could not load memberships")
	default:
		s.fail(w, r, p, ErrorResponse(http.StatusInternalServerError, "reload failed"), "reload failed")
	}
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	p := parseBody(w, r)
	if p == nil {
		return
	}
	profile := p.GetObject("profile")
	if profile == nil {
		s.fail(w, r, p, UnprocessableEntityError("profile is required"), "profile is required")
		return
	}
	updated, err := s.profile.UpdateUser(r.Context(), profile)
	if err != nil {
		s.fail(w, r, p, AuthErrorResponse(err), string(core.AuthReasonOf(err)))
		return
	}
	s.succeed(w, r, p, http.StatusOK, s.identityBody(updated.User))
}

type identityResponse struct {
	User    IdentityDTO `json:"user"`
	Session SessionDTO  `json:"session"`
}

func (s *Server) identityBody(id core.Identity) identityResponse {
	return identityResponse{
		User:    IdentityDTO{UserID: id.UserID, Email: id.Email, Metadata: id.Metadata},
		Session: newSessionDTO(s.session.Snapshot()),
	}
}

// succeed answers JSON clients with body and browser forms with a redirect.
func (s *Server) succeed(w http.ResponseWriter, r *http.Request, p *RequestBodyParser, status int, body any) {
	if p.IsForm() {
		redirectHome(w, r, "")
		return
	}
	NewJSONResponse().Status(status).Body(body).Write(w)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, p *RequestBodyParser, resp *JSONResponse, problem string) {
	if p.IsForm() {
		redirectHome(w, r, problem)
		return
	}
	resp.Write(w)
}
