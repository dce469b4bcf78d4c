package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestFrom_AddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	ctx := WithCorrelation(context.Background(), Correlation{RunID: "run-1"})
	ctx = WithScenario(ctx, "Blog app/has title")
	From(ctx).Info("step_done", "step", "open")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %d", len(lines))
	}
	if lines[0]["run_id"] != "run-1" {
		t.Fatalf("run_id missing: %v", lines[0])
	}
	if lines[0]["scenario"] != "Blog app/has title" {
		t.Fatalf("scenario missing: %v", lines[0])
	}
	if _, ok := lines[0]["request_id"]; ok {
		t.Fatalf("request_id should be absent: %v", lines[0])
	}
}

func TestWithCorrelation_KeepsExistingFields(t *testing.T) {
	ctx := WithCorrelation(context.Background(), Correlation{RunID: "run-1", Scenario: "a"})
	ctx = WithCorrelation(ctx, Correlation{Scenario: "b"})

	corr := CorrelationFromContext(ctx)
	if corr.RunID != "run-1" || corr.Scenario != "b" {
		t.Fatalf("unexpected correlation: %+v", corr)
	}
	if got := CorrelationFromContext(nil); got != (Correlation{}) {
		t.Fatalf("nil context should yield zero correlation, got %+v", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
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

func TestMiddleware_RequestIDAndAccessLog(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	var seen Correlation
	handler := RequestContextMiddleware(AccessLogMiddleware("test", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
	req.Header.Set(RunIDHeader, "run-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("X-Request-Id header not set")
	}
	if seen.RequestID != rec.Header().Get("X-Request-Id") {
		t.Fatalf("context request id %q != header %q", seen.RequestID, rec.Header().Get("X-Request-Id"))
	}
	if seen.RunID != "run-7" {
		t.Fatalf("run id not propagated: %+v", seen)
	}

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one access log line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["msg"] != "http_access" || entry["path"] != "/api/users" {
		t.Fatalf("unexpected access log: %v", entry)
	}
	if status, _ := entry["status"].(float64); int(status) != http.StatusCreated {
		t.Fatalf("unexpected status in access log: %v", entry["status"])
	}
	if bytes, _ := entry["resp_bytes"].(float64); int(bytes) != 2 {
		t.Fatalf("unexpected resp_bytes: %v", entry["resp_bytes"])
	}
}
