package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogger_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentLedger, Output: &buf})

	logger.Info("Saved state", FieldUserID, 42)
	logger.WithComponent(ComponentCycle).Debug("Reminder sent")

	out := buf.String()
	if !strings.Contains(out, "component=ledger") || !strings.Contains(out, "user_id=42") {
		t.Errorf("first record missing fields: %s", out)
	}
	if !strings.Contains(out, "component=cycle") {
		t.Errorf("component override missing: %s", out)
	}
}

func TestLogger_Slog(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Output: &buf}).WithComponent(ComponentScheduler).Slog().Info("Job started")
	if !strings.Contains(buf.String(), "component=scheduler") {
		t.Errorf("slog logger missing component: %s", buf.String())
	}
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "component=app") {
		t.Errorf("default component missing: %s", buf.String())
	}
}

func TestLogFields(t *testing.T) {
	f := NewFields().WithOperation(OpRemind).WithMonth("2024-05").WithUser(7).WithError(nil)
	if len(f) != 3 {
		t.Fatalf("fields = %v", f)
	}
	f.WithError(errors.New("boom"))
	if f[FieldError] != "boom" {
		t.Errorf("error field = %v", f[FieldError])
	}
	if got := len(f.ToSlice()); got != 8 {
		t.Errorf("ToSlice length = %d, want 8", got)
	}
}

func TestMiddleware_FromContext(t *testing.T) {
	logger := New(DefaultConfig()).WithComponent(ComponentHTTP)

	var got *Logger
	h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got == nil || got.Component() != ComponentHTTP {
		t.Fatalf("logger from context = %+v", got)
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Error("missing logger should fall back to the default")
	}
}
