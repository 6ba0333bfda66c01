package kafkax

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestMetaOf_FallsBackToKeyAndTopic(t *testing.T) {
	msg := kafka.Message{Topic: "booking.appointment.booked.v1", Key: []byte("appt-1")}
	if m := MetaOf(msg); m.ID != "appt-1" || m.Type != "booking.appointment.booked.v1" {
		t.Fatalf("unexpected meta %+v", m)
	}

	msg.Headers = Meta{ID: "evt-1", Type: "x"}.Headers()
	if m := MetaOf(msg); m.ID != "evt-1" || m.Type != "x" {
		t.Fatalf("unexpected meta %+v", m)
	}
}

func TestBrokers(t *testing.T) {
	got := Brokers(" kafka:9092, ,kafka2:9092")
	if len(got) != 2 || got[1] != "kafka2:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
	if Brokers("") != nil {
		t.Fatal("expected no brokers")
	}
}

func TestReadyCheck_NoBrokers(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestTrace_RoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := WithTrace(ctx, Meta{ID: "e", Type: "t"}.Headers())
	if Header(headers, "traceparent") == "" || Header(headers, headerEventID) != "e" {
		t.Fatalf("unexpected headers %v", headers)
	}

	out := trace.SpanContextFromContext(TraceFrom(context.Background(), kafka.Message{Headers: headers}))
	if out.TraceID() != traceID {
		t.Fatalf("trace id mismatch: %s", out.TraceID())
	}
}
