// Package otel provides OpenTelemetry integration for monitoring events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/vigil/bus"
	"github.com/petal-labs/vigil/core"
)

// TracingHandler translates monitoring events into OpenTelemetry spans.
// Each tick becomes one span; individual check results are attached as
// span events so a trace shows the whole tick at a glance.
type TracingHandler struct {
	tracer trace.Tracer

	mu       sync.Mutex
	tickSpan trace.Span
}

// NewTracingHandler creates a new TracingHandler that uses the given
// tracer to create spans from monitoring events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{tracer: tracer}
}

// Handle processes a monitoring event and creates or ends spans accordingly.
func (h *TracingHandler) Handle(e bus.Event) {
	switch e.Kind {
	case bus.EventTickStarted:
		h.handleTickStarted(e)
	case bus.EventCheckResult:
		h.handleCheckResult(e)
	case bus.EventTickCompleted:
		h.handleTickCompleted(e)
	case bus.EventTickSkipped:
		h.handleTickSkipped(e)
	}
}

func (h *TracingHandler) handleTickStarted(e bus.Event) {
	_, span := h.tracer.Start(context.Background(), "tick",
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	// A started event with a span still open means the completed event was
	// lost; end the stale span so it is not leaked.
	if h.tickSpan != nil {
		h.tickSpan.End()
	}
	h.tickSpan = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleCheckResult(e bus.Event) {
	if e.Result == nil {
		return
	}

	h.mu.Lock()
	span := h.tickSpan
	h.mu.Unlock()
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("vigil.provider", e.Result.Provider),
		attribute.String("vigil.status", string(e.Result.Status)),
	}
	if e.Result.LatencyMs != nil {
		attrs = append(attrs, attribute.Int64("vigil.latency_ms", *e.Result.LatencyMs))
	}

	span.AddEvent("check.result", trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

func (h *TracingHandler) handleTickCompleted(e bus.Event) {
	h.mu.Lock()
	span := h.tickSpan
	h.tickSpan = nil
	h.mu.Unlock()
	if span == nil {
		return
	}

	if e.Tick != nil {
		span.SetAttributes(
			attribute.Int("vigil.providers", e.Tick.Providers),
			attribute.String("vigil.duration", e.Tick.Duration.String()),
		)
		healthy := e.Tick.StatusCounts[core.StatusOperational]
		if healthy == e.Tick.Providers {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, "one or more providers unhealthy")
		}
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleTickSkipped(e bus.Event) {
	// Record the skip as its own zero-length span so it shows up in traces.
	_, span := h.tracer.Start(context.Background(), "tick.skipped",
		trace.WithTimestamp(e.Time),
	)
	span.SetStatus(codes.Error, "previous tick still running")
	span.End(trace.WithTimestamp(e.Time))
}
