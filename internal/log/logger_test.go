package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"bizdash/internal/core"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return out
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Format: "json", Output: &buf}).WithComponent(ComponentSession)

	l.Info("hello", FieldUserID, "u1")

	line := decodeLine(t, &buf)
	if line[FieldComponent] != ComponentSession {
		t.Fatalf("component = %v", line[FieldComponent])
	}
	if line[FieldUserID] != "u1" {
		t.Fatalf("user_id = %v", line[FieldUserID])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFieldsWithErrorAddsAuthReason(t *testing.T) {
	f := NewFields().WithError(core.NewAuthError("sign in", core.ReasonRateLimited, nil))
	if f[FieldAuthReason] != string(core.ReasonRateLimited) {
		t.Fatalf("auth_reason = %v", f[FieldAuthReason])
	}

	f = NewFields().WithError(errors.New("boom")).WithIdentity(core.Identity{})
	if _, ok := f[FieldAuthReason]; ok {
		t.Fatalf("unexpected auth_reason for plain error")
	}
	if _, ok := f[FieldUserID]; ok {
		t.Fatalf("empty identity should not add user fields")
	}
}

func TestStructuredLoggerDashboard(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Format: "json", Output: &buf}))

	sl.LogDashboardRefreshed(context.Background(), core.DashboardMetrics{
		BusinessID:   "b1",
		TotalRevenue: core.Money{Cents: 15000},
		OverdueCount: 1,
	})

	line := decodeLine(t, &buf)
	if line[FieldComponent] != ComponentDashboard || line[FieldBusinessID] != "b1" {
		t.Fatalf("unexpected line %v", line)
	}
	if line[FieldOverdueCount] != float64(1) || line[FieldRevenueCents] != float64(15000) {
		t.Fatalf("unexpected metric fields %v", line)
	}
}

func TestFromContextFallback(t *testing.T) {
	fallback := Discard().WithComponent("fallback")
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Fatalf("expected fallback logger")
	}
	l := Discard().WithComponent("ctx")
	if got := FromContext(NewContext(context.Background(), l), fallback); got != l {
		t.Fatalf("expected context logger")
	}
	if FromContext(context.Background(), nil) == nil {
		t.Fatalf("expected non-nil discard logger")
	}
}
