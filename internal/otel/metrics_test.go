package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.IngressDuration == nil {
		t.Error("IngressDuration is nil")
	}
	if m.RunDuration == nil {
		t.Error("RunDuration is nil")
	}
	if m.DeliveryEditDuration == nil {
		t.Error("DeliveryEditDuration is nil")
	}
	if m.RunsCompleted == nil {
		t.Error("RunsCompleted is nil")
	}
	if m.RunsFailed == nil {
		t.Error("RunsFailed is nil")
	}
	if m.RunsCancelled == nil {
		t.Error("RunsCancelled is nil")
	}
	if m.ActiveRuns == nil {
		t.Error("ActiveRuns is nil")
	}
	if m.CliEventsAppended == nil {
		t.Error("CliEventsAppended is nil")
	}
	if m.RateLimitRetries == nil {
		t.Error("RateLimitRetries is nil")
	}
	if m.DeliveryErrors == nil {
		t.Error("DeliveryErrors is nil")
	}
	if m.LeaseReclaims == nil {
		t.Error("LeaseReclaims is nil")
	}
}

func TestNewMetrics_NoopMeter(t *testing.T) {
	// Disabled OTel returns noop meter — metrics should still create without error.
	p, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics with noop: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
}
