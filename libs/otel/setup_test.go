package otelx

import (
	"context"
	"testing"
)

func withEnv(t *testing.T, env map[string]string) {
	t.Helper()
	prev := lookupEnv
	lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	t.Cleanup(func() { lookupEnv = prev })
}

func TestConfigFromEnv(t *testing.T) {
	withEnv(t, map[string]string{
		"OTEL_ENABLED":        "true",
		"OTEL_SAMPLING_RATIO": "0.25",
	})
	cfg := ConfigFromEnv("booking-service")
	if !cfg.Enabled || cfg.SampleRatio != 0.25 || cfg.ServiceName != "booking-service" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.OTLPEndpoint != "otel-collector:4317" {
		t.Fatalf("unexpected endpoint %q", cfg.OTLPEndpoint)
	}

	withEnv(t, map[string]string{"OTEL_SAMPLING_RATIO": "7"})
	cfg = ConfigFromEnv("x")
	if cfg.Enabled || cfg.SampleRatio != 1 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	tp, ts := TraceContextStrings(context.Background())
	if tp != "" || ts != "" {
		t.Fatalf("expected no trace context without a span, got %q %q", tp, ts)
	}
}
