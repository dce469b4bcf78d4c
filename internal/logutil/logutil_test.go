package logutil

import (
	"net/http"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestRedactJSON_MasksNestedSecrets(t *testing.T) {
	body := []byte(`{"name":"Matti Luukkainen","username":"mluukkai","password":"salainen","nested":[{"token":"abc"}]}`)
	got := RedactJSON(body)

	if strings.Contains(got, "salainen") || strings.Contains(got, "abc") {
		t.Fatalf("secret leaked: %s", got)
	}
	if !strings.Contains(got, "mluukkai") {
		t.Fatalf("non-sensitive field dropped: %s", got)
	}
}

func TestRedactJSON_NonJSONUnchanged(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.StringMatching(`[a-z ]{1,40}`).Draw(rt, "text")
		if got := RedactJSON([]byte("<" + text)); got != "<"+text {
			rt.Fatalf("non-JSON body changed: %q", got)
		}
	})
}

func TestRedactValue_Struct(t *testing.T) {
	type creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	got := RedactValue(creds{Username: "hellas", Password: "sekret"})
	if got != `{"password":"[REDACTED]","username":"hellas"}` {
		t.Fatalf("unexpected redaction: %s", got)
	}
}

func TestFormatHeadersForLog(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer xyz")
	h.Set("Content-Type", "application/json")

	got := FormatHeadersForLog(h)
	if got != `authorization="[REDACTED]"; content-type="application/json"` {
		t.Fatalf("unexpected headers: %s", got)
	}
	if FormatHeadersForLog(nil) != "{}" {
		t.Fatal("empty headers should render as {}")
	}
}

func TestTruncateForLog_Bounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		value := rapid.StringMatching(`[a-z\n]{1,200}`).Draw(rt, "value")
		limit := rapid.IntRange(1, 100).Draw(rt, "limit")
		got := TruncateForLog(value, limit)
		if strings.Contains(got, "\n") {
			rt.Fatalf("newline survived: %q", got)
		}
		if len(got) > limit+len("... [truncated]") {
			rt.Fatalf("preview too long: %d > %d", len(got), limit)
		}
	})
}
