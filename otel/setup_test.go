package otel_test

import (
	"context"
	"testing"

	otelapi "go.opentelemetry.io/otel"

	vigilotel "github.com/petal-labs/vigil/otel"
)

func TestSetupTracing_NoEndpointIsNoOp(t *testing.T) {
	before := otelapi.GetTracerProvider()

	shutdown, err := vigilotel.SetupTracing(context.Background(), vigilotel.ExporterConfig{})
	if err != nil {
		t.Fatalf("SetupTracing: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown is nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	if got := otelapi.GetTracerProvider(); got != before {
		t.Error("global tracer provider replaced without an endpoint")
	}
}

func TestSetupMetrics_NoEndpointIsNoOp(t *testing.T) {
	before := otelapi.GetMeterProvider()

	shutdown, err := vigilotel.SetupMetrics(context.Background(), vigilotel.ExporterConfig{})
	if err != nil {
		t.Fatalf("SetupMetrics: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown is nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	if got := otelapi.GetMeterProvider(); got != before {
		t.Error("global meter provider replaced without an endpoint")
	}
}
