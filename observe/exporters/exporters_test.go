package exporters

import (
	"context"
	"strings"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// TestTracingExporter_Names verifies every supported tracing exporter name.
func TestTracingExporter_Names(t *testing.T) {
	for _, name := range []string{"stdout", "none", ""} {
		exp, err := NewTracingExporter(context.Background(), name)
		if err != nil {
			t.Fatalf("NewTracingExporter(%q) error = %v", name, err)
		}
		if exp == nil {
			t.Fatalf("NewTracingExporter(%q) returned nil", name)
		}
	}

	if _, err := NewTracingExporter(context.Background(), "jaeger"); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

// TestTracingExporter_OtlpEndpoint verifies the otlp endpoint requirement.
func TestTracingExporter_OtlpEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")

	_, err := NewTracingExporter(context.Background(), "otlp")
	if err == nil || !strings.Contains(err.Error(), "endpoint") {
		t.Fatalf("error = %v, want endpoint error", err)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4317")
	exp, err := NewTracingExporter(context.Background(), "otlp")
	if err != nil || exp == nil {
		t.Fatalf("NewTracingExporter(otlp) = %v, %v", exp, err)
	}
}

// TestMetricsReader_Prometheus verifies the reader registers with the given registry.
func TestMetricsReader_Prometheus(t *testing.T) {
	reg := promclient.NewRegistry()

	reader, err := NewMetricsReader(context.Background(), "prometheus", reg)
	if err != nil {
		t.Fatalf("NewMetricsReader(prometheus) error = %v", err)
	}
	if reader == nil {
		t.Fatal("expected non-nil reader")
	}
	if _, err := reg.Gather(); err != nil {
		t.Errorf("Gather() error = %v", err)
	}
}

// TestMetricsReader_Names verifies the remaining metrics exporter names.
func TestMetricsReader_Names(t *testing.T) {
	for _, name := range []string{"stdout", "none", ""} {
		reader, err := NewMetricsReader(context.Background(), name, nil)
		if err != nil || reader == nil {
			t.Fatalf("NewMetricsReader(%q) = %v, %v", name, reader, err)
		}
	}

	_, err := NewMetricsReader(context.Background(), "badvalue", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown metrics exporter") {
		t.Errorf("error = %v, want unknown metrics exporter", err)
	}
}
