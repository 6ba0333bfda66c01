package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContext is a span context detached from any live span, in W3C text form,
// so it can be stored next to a row and resumed by another process.
type TraceContext struct {
	Parent string // traceparent
	State  string // tracestate
}

// Capture serialises the span context of ctx. The result is zero when ctx has no span.
func Capture(ctx context.Context) TraceContext {
	c := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, c)
	return TraceContext{Parent: c.Get("traceparent"), State: c.Get("tracestate")}
}

func (tc TraceContext) IsZero() bool {
	return tc.Parent == ""
}

// Resume returns ctx carrying tc as its remote parent.
func (tc TraceContext) Resume(ctx context.Context) context.Context {
	if tc.IsZero() {
		return ctx
	}
	c := propagation.MapCarrier{"traceparent": tc.Parent}
	if tc.State != "" {
		c["tracestate"] = tc.State
	}
	return otel.GetTextMapPropagator().Extract(ctx, c)
}
