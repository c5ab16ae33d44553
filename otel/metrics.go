package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/vigil/bus"
	"github.com/petal-labs/vigil/core"
)

// MetricsHandler translates monitoring events into OpenTelemetry metrics.
// It records counters and histograms for check executions, failures, and
// tick durations.
type MetricsHandler struct {
	checkExecutions metric.Int64Counter
	checkFailures   metric.Int64Counter
	checkDuration   metric.Float64Histogram
	tickDuration    metric.Float64Histogram
	ticksSkipped    metric.Int64Counter
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording check metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	checkExec, err := meter.Int64Counter("vigil.check.executions",
		metric.WithDescription("Number of provider checks executed"),
	)
	if err != nil {
		return nil, err
	}

	checkFail, err := meter.Int64Counter("vigil.check.failures",
		metric.WithDescription("Number of provider checks that did not come back operational"),
	)
	if err != nil {
		return nil, err
	}

	checkDur, err := meter.Float64Histogram("vigil.check.duration",
		metric.WithDescription("Provider reply latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	tickDur, err := meter.Float64Histogram("vigil.tick.duration",
		metric.WithDescription("Duration of a full check tick in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter("vigil.tick.skipped",
		metric.WithDescription("Number of ticks skipped because the previous one was still running"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		checkExecutions: checkExec,
		checkFailures:   checkFail,
		checkDuration:   checkDur,
		tickDuration:    tickDur,
		ticksSkipped:    skipped,
	}, nil
}

// Handle processes a monitoring event and records the appropriate metrics.
func (h *MetricsHandler) Handle(e bus.Event) {
	switch e.Kind {
	case bus.EventCheckResult:
		h.handleCheckResult(e)
	case bus.EventTickCompleted:
		h.handleTickCompleted(e)
	case bus.EventTickSkipped:
		h.ticksSkipped.Add(context.Background(), 1)
	}
}

// handleCheckResult increments the execution counter, records latency when
// one was measured, and counts non-operational outcomes as failures.
func (h *MetricsHandler) handleCheckResult(e bus.Event) {
	if e.Result == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("provider", e.Result.Provider),
		attribute.String("status", string(e.Result.Status)),
	)
	h.checkExecutions.Add(ctx, 1, attrs)

	if e.Result.Status != core.StatusOperational {
		h.checkFailures.Add(ctx, 1, attrs)
	}

	if e.Result.LatencyMs != nil {
		h.checkDuration.Record(ctx, float64(*e.Result.LatencyMs)/1000.0, metric.WithAttributes(
			attribute.String("provider", e.Result.Provider),
		))
	}
}

// handleTickCompleted records the full tick duration.
func (h *MetricsHandler) handleTickCompleted(e bus.Event) {
	if e.Tick == nil {
		return
	}
	h.tickDuration.Record(context.Background(), e.Tick.Duration.Seconds(), metric.WithAttributes(
		attribute.Int("providers", e.Tick.Providers),
	))
}
