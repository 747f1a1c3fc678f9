package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies this module's spans and instruments in exported
// telemetry.
const TracerName = "github.com/homestar-labs/homestar"

// Tracer returns the node's tracer, resolved from whatever
// TracerProvider is globally registered (a real exporter, if the operator
// configured telemetry.otlp_endpoint and registered one at startup;
// otherwise OpenTelemetry's no-op provider).
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartWorkflowSpan starts a span covering one Worker.Run call, tagged
// with the workflow's CID for correlation with its receipts.
func StartWorkflowSpan(ctx context.Context, workflowCID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("homestar.workflow_cid", workflowCID),
	))
}

// StartTaskSpan starts a span covering one task's dispatch through the
// Memoization Coordinator, tagged with its CID and ability.
func StartTaskSpan(ctx context.Context, taskCID, ability string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "task.dispatch", trace.WithAttributes(
		attribute.String("homestar.task_cid", taskCID),
		attribute.String("homestar.ability", ability),
	))
}

// InFlightGauge is an observable instrument reporting how many tasks are
// currently executing in the Wasm Host across the node, sampled via a
// callback rather than updated imperatively (the otel/metric idiom for
// values with no natural increment/decrement call site).
type InFlightGauge struct {
	gauge metric.Int64ObservableGauge
	count func() int64
}

// NewInFlightGauge registers an observable gauge against the globally
// registered MeterProvider, backed by count (typically a method reading
// an atomic counter the Wasm Host maintains).
func NewInFlightGauge(count func() int64) (*InFlightGauge, error) {
	meter := otel.GetMeterProvider().Meter(TracerName)

	g := &InFlightGauge{count: count}
	gauge, err := meter.Int64ObservableGauge(
		"homestar.tasks.in_flight",
		metric.WithDescription("Tasks currently executing in the Wasm Host."),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(g.count())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	g.gauge = gauge
	return g, nil
}
