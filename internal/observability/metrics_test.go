package observability

import (
	"context"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	if metrics == nil {
		t.Fatal("Expected metrics to be non-nil")
	}

	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/livez", 200, 0.001)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/jobs/run", 200, 0.050)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/jobs/result", 400, 0.005)
	metrics.RecordHTTPRequest(ctx, "GET", "/v1/jobs/status", 200, 0.010)
	metrics.RecordHTTPRequest(ctx, "POST", "/v1/jobs/stop", 500, 0.001)
}

func TestRecordRunnerMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, _, err := NewMetrics(ctx)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// Should not panic
	metrics.RecordJobClaimed(ctx)
	metrics.RecordJobResult(ctx, "applied")
	metrics.RecordJobResult(ctx, "failed")
	metrics.RecordWatchdogTimeout(ctx)
	metrics.RecordChainHalt(ctx, "failed_to_open_session")
	metrics.SetRunnerActive(ctx, true)
	metrics.SetRunnerActive(ctx, false)
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"/v1/jobs/run", "/v1/jobs/run"},
		{"/v1/jobs/result", "/v1/jobs/result"},
		{"/v1/jobs/status/stream", "/v1/jobs/status/stream"},
		{"/livez", "/livez"},
		{"/v1/anything-else", "/v1/{other}"},
		{"/random/path", "{other}"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
