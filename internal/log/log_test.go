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

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewText(&buf, slog.LevelInfo, ComponentWorker)

	logger.Info("Message processed", FieldTransactionID, "tx-1")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "component=worker") || !strings.Contains(out, "transaction_id=tx-1") {
		t.Errorf("unexpected output: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %q", out)
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got == nil || got.Component() != "unknown" {
		t.Fatalf("FromContext() without logger = %+v", got)
	}

	var buf bytes.Buffer
	logger := NewText(&buf, slog.LevelInfo, ComponentHTTP)
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("FromContext() did not return the stored logger")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewText(&buf, slog.LevelInfo, ComponentHTTP)

	h := Middleware(logger)(RequestIDMiddleware(func(*http.Request) string { return "req-42" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).InfoContext(r.Context(), "handled")
		})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Errorf("request id missing from %q", buf.String())
	}
}

func TestStructuredLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(NewText(&buf, slog.LevelInfo, ComponentHTTP))
	r := httptest.NewRequest(http.MethodPost, "/materialize?start=2024-01-01", nil)

	sl.LogHTTPEnd(context.Background(), r, http.StatusConflict, 3, "10.0.0.1")
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "status_code=409") {
		t.Errorf("unexpected output: %q", buf.String())
	}

	buf.Reset()
	sl.LogError(context.Background(), "Store failed", errors.New("boom"), ErrorTypeDatabase, OpMaterialize, nil)
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "error_type=database_error") || !strings.Contains(out, "operation=materialize") {
		t.Errorf("unexpected output: %q", out)
	}
}
