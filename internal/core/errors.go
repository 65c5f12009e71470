package core

import (
	"errors"
	"fmt"
)

// AuthReason classifies authentication failures for the presentation layer.
type AuthReason string

const (
	ReasonInvalidCredentials AuthReason = "invalid_credentials"
	ReasonNetwork            AuthReason = "network"
	ReasonRateLimited        AuthReason = "rate_limited"
	ReasonUserExists         AuthReason = "user_exists"
	ReasonWeakPassword       AuthReason = "weak_password"
	ReasonSessionExpired     AuthReason = "session_expired"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrNetwork            = errors.New("auth service unavailable")
	ErrRateLimited        = errors.New("too many attempts, try again later")
	ErrUserExists         = errors.New("user already registered")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrSessionExpired     = errors.New("session expired")
)

var reasonSentinels = map[AuthReason]error{
	ReasonInvalidCredentials: ErrInvalidCredentials,
	ReasonNetwork:            ErrNetwork,
	ReasonRateLimited:        ErrRateLimited,
	ReasonUserExists:         ErrUserExists,
	ReasonWeakPassword:       ErrWeakPassword,
	ReasonSessionExpired:     ErrSessionExpired,
}

// AuthError is returned by sign-in, sign-up and sign-out. It is a value for
// the caller to display, never a fault.
type AuthError struct {
	Op     string
	Reason AuthReason
	Err    error
}

// NewAuthError builds an AuthError for op with the given reason and cause.
func NewAuthError(op string, reason AuthReason, cause error) *AuthError {
	return &AuthError{Op: op, Reason: reason, Err: cause}
}

func (e *AuthError) Error() string {
	msg := string(e.Reason)
	if s, ok := reasonSentinels[e.Reason]; ok {
		msg = s.Error()
	}
	if e.Err != nil && !errors.Is(e.Err, reasonSentinels[e.Reason]) {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's reason.
func (e *AuthError) Is(target error) bool {
	s, ok := reasonSentinels[e.Reason]
	return ok && s == target
}

// AuthReasonOf extracts the reason of an AuthError, or "" for other errors.
func AuthReasonOf(err error) AuthReason {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

// MembershipResolutionError reports a failed membership query.
type MembershipResolutionError struct {
	UserID string
	Err    error
}

func (e *MembershipResolutionError) Error() string {
	return fmt.Sprintf("resolve memberships for user %s: %v", e.UserID, e.Err)
}

func (e *MembershipResolutionError) Unwrap() error {
	return e.Err
}

// AggregationFetchError reports a failed invoice fetch during a refresh.
type AggregationFetchError struct {
	BusinessID string
	Err        error
}

func (e *AggregationFetchError) Error() string {
	return fmt.Sprintf("fetch recent invoices for business %s: %v", e.BusinessID, e.Err)
}

func (e *AggregationFetchError) Unwrap() error {
	return e.Err
}
