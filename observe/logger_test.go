package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v\n%s", err, buf.String())
	}
	return entry
}

// TestLogger_ProviderFields verifies provider fields are present in log output.
func TestLogger_ProviderFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).WithProvider(ProviderMeta{
		ID:     "primary",
		Vendor: "acme",
		Model:  "m-large",
	})

	logger.Info(context.Background(), "selected")

	entry := decodeLine(t, &buf)
	if entry["provider.id"] != "primary" {
		t.Errorf("provider.id = %v, want primary", entry["provider.id"])
	}
	if entry["provider.vendor"] != "acme" {
		t.Errorf("provider.vendor = %v, want acme", entry["provider.vendor"])
	}
	if entry["model"] != "m-large" {
		t.Errorf("model = %v, want m-large", entry["model"])
	}
	if entry["msg"] != "selected" || entry["level"] != "info" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["provider.address"]; ok {
		t.Error("empty provider.address should be omitted")
	}
}

// TestLogger_LevelFilter verifies entries below the level are dropped.
func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)

	logger.Debug(context.Background(), "debug")
	logger.Info(context.Background(), "info")
	if buf.Len() != 0 {
		t.Fatalf("unexpected output: %s", buf.String())
	}

	logger.Error(context.Background(), "failed", Err(errors.New("boom")))
	entry := decodeLine(t, &buf)
	if entry["level"] != "error" || entry["error"] != "boom" {
		t.Errorf("entry = %v", entry)
	}
}

// TestLogger_Redaction verifies sensitive fields are never written.
func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", &buf).With(F("api_key", "sk-123"))

	logger.Info(context.Background(), "request",
		F("prompt", "tell me a secret"),
		F("payload", []byte("raw")),
		F("request_id", "r1"),
	)

	out := buf.String()
	for _, leaked := range []string{"sk-123", "tell me a secret"} {
		if strings.Contains(out, leaked) {
			t.Errorf("output leaked %q: %s", leaked, out)
		}
	}
	entry := decodeLine(t, &buf)
	if entry["prompt"] != "[REDACTED]" || entry["api_key"] != "[REDACTED]" {
		t.Errorf("entry = %v", entry)
	}
	if entry["request_id"] != "r1" {
		t.Errorf("request_id = %v, want r1", entry["request_id"])
	}
}

// TestLogger_WithDoesNotMutateParent verifies derived loggers are independent.
func TestLogger_WithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLoggerWithWriter("info", &buf)
	_ = parent.With(F("child", true))

	parent.Info(context.Background(), "parent")
	if entry := decodeLine(t, &buf); entry["child"] != nil {
		t.Errorf("parent entry has child field: %v", entry)
	}
}

// TestParseLogLevel verifies level parsing.
func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"loud":  LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// TestNopLogger verifies the no-op logger is safe to use.
func TestNopLogger(t *testing.T) {
	l := NopLogger().WithProvider(ProviderMeta{ID: "x"}).With(F("a", 1))
	l.Info(context.Background(), "ignored")
	l.Error(context.Background(), "ignored", Err(nil))
}
