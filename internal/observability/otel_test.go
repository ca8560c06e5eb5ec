package observability

import (
	"context"
	"reflect"
	"testing"
)

func TestSampleRatioParsesAndClamps(t *testing.T) {
	cases := []struct {
		name string
		env  string
		want float64
	}{
		{"unset defaults to 0.1", "", 0.1},
		{"valid fraction", "0.5", 0.5},
		{"clamps above 1", "3", 1},
		{"clamps below 0", "-2", 0},
		{"unparseable falls back to default", "not-a-number", 0.1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("OTEL_SAMPLER_RATIO", tc.env)
			if got := sampleRatio(); got != tc.want {
				t.Fatalf("sampleRatio() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEnabledRecognizesTruthyValues(t *testing.T) {
	cases := []struct {
		env  string
		want bool
	}{
		{"", false},
		{"0", false},
		{"false", false},
		{"1", true},
		{"true", true},
		{"YES", true},
		{"on", true},
	}
	for _, tc := range cases {
		t.Setenv("OTEL_ENABLED", tc.env)
		if got := enabled(); got != tc.want {
			t.Fatalf("enabled() with OTEL_ENABLED=%q = %v, want %v", tc.env, got, tc.want)
		}
	}
}

func TestHeadersParsesCommaSeparatedPairs(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "api-key=abc123, x-tenant = harmony ,malformed")
	got := headers()
	if got["api-key"] != "abc123" {
		t.Fatalf("expected api-key=abc123, got %v", got)
	}
	if got["x-tenant"] != "harmony" {
		t.Fatalf("expected trimmed x-tenant=harmony, got %v", got)
	}
	if _, ok := got["malformed"]; ok {
		t.Fatalf("a pair with no '=' must be dropped, got %v", got)
	}
}

func TestHeadersEmptyReturnsNil(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "")
	if got := headers(); got != nil {
		t.Fatalf("expected nil headers when unset, got %v", got)
	}
}

func TestInitIsIdempotentAcrossCalls(t *testing.T) {
	// Init's tracer-provider setup is guarded by a package-level
	// sync.Once: only the very first Init call in the whole test binary
	// can build a provider (and only with OTEL_ENABLED set), and every call thereafter — from this
	// test or any other — must hand back that exact same shutdown func
	// rather than building a second tracer provider.
	first := Init(context.Background(), nil, Config{ServiceName: "test"})
	second := Init(context.Background(), nil, Config{ServiceName: "test-again"})
	if reflect.ValueOf(first).Pointer() != reflect.ValueOf(second).Pointer() {
		t.Fatalf("expected Init to return the same shutdown func on repeated calls")
	}
}
