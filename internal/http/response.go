package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"bizdash/internal/core"
	"bizdash/internal/dashboard"
	"bizdash/internal/session"
)

// JSONResponse provides a fluent API for building JSON responses.
type JSONResponse struct {
	statusCode int
	body       any
	headers    map[string]string
}

func NewJSONResponse() *JSONResponse {
	return &JSONResponse{statusCode: http.StatusOK, headers: make(map[string]string)}
}

func (b *JSONResponse) Status(code int) *JSONResponse {
	b.statusCode = code
	return b
}

func (b *JSONResponse) Header(name, value string) *JSONResponse {
	b.headers[name] = value
	return b
}

func (b *JSONResponse) Body(v any) *JSONResponse {
	b.body = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponse) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse creates a standard JSON error response.
func ErrorResponse(statusCode int, message string) *JSONResponse {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

func BadRequestError(message string) *JSONResponse {
	return ErrorResponse(http.StatusBadRequest, message)
}

func UnauthorizedError(message string) *JSONResponse {
	return ErrorResponse(http.StatusUnauthorized, message)
}

func NotFoundError(message string) *JSONResponse {
	return ErrorResponse(http.StatusNotFound, message)
}

func ConflictError(message string) *JSONResponse {
	return ErrorResponse(http.StatusConflict, message)
}

func UnprocessableEntityError(message string) *JSONResponse {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}

// AuthStatus maps an auth failure reason to an HTTP status.
func AuthStatus(reason core.AuthReason) int {
	switch reason {
	case core.ReasonInvalidCredentials, core.ReasonSessionExpired:
		return http.StatusUnauthorized
	case core.ReasonUserExists:
		return http.StatusConflict
	case core.ReasonWeakPassword:
		return http.StatusUnprocessableEntity
	case core.ReasonRateLimited:
		return http.StatusTooManyRequests
	case core.ReasonNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AuthErrorResponse renders an AuthError with its reason so clients can
// show a specific message.
func AuthErrorResponse(err error) *JSONResponse {
	reason := core.AuthReasonOf(err)
	resp := NewJSONResponse().
		Status(AuthStatus(reason)).
		Body(errorBody{Error: authMessage(err), Reason: string(reason)})
	if reason == core.ReasonRateLimited {
		resp.Header("Retry-After", "60")
	}
	return resp
}

var authSentinels = []error{
	core.ErrInvalidCredentials,
	core.ErrNetwork,
	core.ErrRateLimited,
	core.ErrUserExists,
	core.ErrWeakPassword,
	core.ErrSessionExpired,
}

func authMessage(err error) string {
	for _, s := range authSentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "authentication failed"
}

// redirectHome answers a browser form post. A non-empty problem is passed
// back to the page as ?error=.
func redirectHome(w http.ResponseWriter, r *http.Request, problem string) {
	target := "/"
	if problem != "" {
		target += "?error=" + url.QueryEscape(problem)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

type (
	BusinessDTO struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Currency string `json:"currency"`
		Role     string `json:"role,omitempty"`
	}

	IdentityDTO struct {
		UserID   string         `json:"user_id"`
		Email    string         `json:"email"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	SessionDTO struct {
		Status         string        `json:"status"`
		Loading        bool          `json:"loading"`
		Resolving      bool          `json:"resolving"`
		User           *IdentityDTO  `json:"user"`
		Memberships    []BusinessDTO `json:"memberships"`
		ActiveBusiness *BusinessDTO  `json:"active_business"`
		Version        uint64        `json:"version"`
	}

	MoneyDTO struct {
		Cents     int64  `json:"cents"`
		Formatted string `json:"formatted"`
	}

	InvoiceDTO struct {
		ID            string    `json:"id"`
		InvoiceNumber string    `json:"invoice_number"`
		CustomerName  string    `json:"customer_name"`
		Status        string    `json:"status"`
		InvoiceDate   string    `json:"invoice_date"`
		DueDate       string    `json:"due_date,omitempty"`
		TotalAmount   *MoneyDTO `json:"total_amount"`
		BalanceDue    *MoneyDTO `json:"balance_due"`
		Overdue       bool      `json:"overdue"`
	}

	DashboardDTO struct {
		BusinessID         string       `json:"business_id"`
		Currency           string       `json:"currency"`
		Loading            bool         `json:"loading"`
		TotalRevenue       MoneyDTO     `json:"total_revenue"`
		OutstandingBalance MoneyDTO     `json:"outstanding_balance"`
		OverdueCount       int          `json:"overdue_count"`
		RecentInvoices     []InvoiceDTO `json:"recent_invoices"`
		ComputedAt         string       `json:"computed_at,omitempty"`
		Version            uint64       `json:"version"`
	}
)

func newSessionDTO(st session.State) SessionDTO {
	dto := SessionDTO{
		Status:      string(st.Status),
		Loading:     st.Loading,
		Resolving:   st.Resolving,
		Memberships: make([]BusinessDTO, 0, len(st.Memberships)),
		Version:     st.Version,
	}
	if !st.Identity.IsZero() {
		dto.User = &IdentityDTO{UserID: st.Identity.UserID, Email: st.Identity.Email, Metadata: st.Identity.Metadata}
	}
	for _, m := range st.Memberships {
		dto.Memberships = append(dto.Memberships, BusinessDTO{
			ID:       m.Business.ID,
			Name:     m.Business.Name,
			Currency: m.Business.CurrencyOrDefault(),
			Role:     string(m.Role),
		})
	}
	if b := st.ActiveBusiness; b != nil {
		dto.ActiveBusiness = &BusinessDTO{ID: b.ID, Name: b.Name, Currency: b.CurrencyOrDefault()}
	}
	return dto
}

func newMoneyDTO(m core.Money, currency string) MoneyDTO {
	return MoneyDTO{Cents: m.Cents, Formatted: core.FormatMoney(m, currency)}
}

// newDashboardDTO renders v. Metrics computed for another business than the
// active one are not shown.
func newDashboardDTO(v dashboard.View, active *core.Business) DashboardDTO {
	currency := "USD"
	if active != nil {
		currency = active.CurrencyOrDefault()
	}
	m := v.Metrics
	if active == nil || m.BusinessID != active.ID {
		m = core.DashboardMetrics{}
	}

	dto := DashboardDTO{
		BusinessID:         m.BusinessID,
		Currency:           currency,
		Loading:            v.Loading,
		TotalRevenue:       newMoneyDTO(m.TotalRevenue, currency),
		OutstandingBalance: newMoneyDTO(m.OutstandingBalance, currency),
		OverdueCount:       m.OverdueCount,
		RecentInvoices:     make([]InvoiceDTO, 0, len(m.RecentInvoices)),
		Version:            v.Version,
	}
	if !m.ComputedAt.IsZero() {
		dto.ComputedAt = m.ComputedAt.UTC().Format(time.RFC3339)
	}
	at := m.ComputedAt
	for _, ri := range m.RecentInvoices {
		inv := InvoiceDTO{
			ID:            ri.ID,
			InvoiceNumber: ri.InvoiceNumber,
			CustomerName:  ri.CustomerName,
			Status:        string(ri.Status),
			InvoiceDate:   ri.InvoiceDate.String(),
			Overdue:       ri.IsOverdueAt(at),
		}
		if ri.DueDate != nil {
			inv.DueDate = ri.DueDate.String()
		}
		if ri.TotalAmount != nil {
			d := newMoneyDTO(*ri.TotalAmount, currency)
			inv.TotalAmount = &d
		}
		if ri.BalanceDue != nil {
			d := newMoneyDTO(*ri.BalanceDue, currency)
			inv.BalanceDue = &d
		}
		dto.RecentInvoices = append(dto.RecentInvoices, inv)
	}
	return dto
}
