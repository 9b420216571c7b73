package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "planweave"

// StartRunSpan starts a span covering one plan run.
func StartRunSpan(ctx context.Context, planID string, steps int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("plan.id", planID),
			attribute.Int("plan.steps", steps),
		),
	)
}

// StartStepSpan starts a span for one step dispatch within a run.
func StartStepSpan(ctx context.Context, stepID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.String("step.id", stepID),
			attribute.String("step.kind", kind),
		),
	)
}

// StartBackendSpan starts a span for a hosted or external backend call.
func StartBackendSpan(ctx context.Context, agentID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "backend",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("agent.kind", kind),
		),
	)
}
