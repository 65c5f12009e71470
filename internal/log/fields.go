package log

import "bizdash/internal/core"

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldSuccess      = "success"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldUserID       = "user_id"
	FieldEmail        = "email"
	FieldBusinessID   = "business_id"
	FieldSessionEvent = "session_event"
	FieldMemberships  = "memberships"
	FieldInvoiceCount = "invoice_count"
	FieldRevenueCents = "total_revenue_cents"
	FieldBalanceCents = "outstanding_balance_cents"
	FieldOverdueCount = "overdue_count"
	FieldActivityType = "activity_type"
	FieldAuthReason   = "auth_reason"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentSession   = "session"
	ComponentDashboard = "dashboard"
	ComponentAuth      = "auth"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentActivity  = "activity"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpSignIn   = "sign_in"
	OpSignUp   = "sign_up"
	OpSignOut  = "sign_out"
	OpRestore  = "restore_session"
	OpResolve  = "resolve_memberships"
	OpSwitch   = "switch_business"
	OpRefresh  = "refresh_dashboard"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpExport   = "export"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		if reason := core.AuthReasonOf(err); reason != "" {
			f[FieldAuthReason] = string(reason)
		}
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithIdentity adds the user fields, skipping them for an empty identity.
func (f LogFields) WithIdentity(id core.Identity) LogFields {
	if !id.IsZero() {
		f[FieldUserID] = id.UserID
		f[FieldEmail] = id.Email
	}
	return f
}

// WithBusiness adds business id field
func (f LogFields) WithBusiness(businessID string) LogFields {
	if businessID != "" {
		f[FieldBusinessID] = businessID
	}
	return f
}

// WithMetrics adds dashboard metric fields
func (f LogFields) WithMetrics(m core.DashboardMetrics) LogFields {
	f[FieldBusinessID] = m.BusinessID
	f[FieldInvoiceCount] = len(m.RecentInvoices)
	f[FieldRevenueCents] = m.TotalRevenue.Cents
	f[FieldBalanceCents] = m.OutstandingBalance.Cents
	f[FieldOverdueCount] = m.OverdueCount
	return f
}

// WithHTTP adds HTTP request/response fields
func (f LogFields) WithHTTP(method, path string, statusCode int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
