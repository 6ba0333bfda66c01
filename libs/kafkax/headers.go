// Package kafkax holds the Kafka conventions shared by producers and consumers:
// event metadata headers, W3C trace propagation and broker parsing.
package kafkax

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	headerEventID   = "event_id"
	headerEventType = "event_type"
)

// Meta identifies an event independently of its payload.
type Meta struct {
	ID   string
	Type string
}

// Headers renders m as message headers.
func (m Meta) Headers() []kafka.Header {
	return []kafka.Header{
		{Key: headerEventID, Value: []byte(m.ID)},
		{Key: headerEventType, Value: []byte(m.Type)},
	}
}

// MetaOf reads the metadata headers of msg. Producers that do not set them
// are identified by message key and topic.
func MetaOf(msg kafka.Message) Meta {
	m := Meta{ID: Header(msg.Headers, headerEventID), Type: Header(msg.Headers, headerEventType)}
	if m.ID == "" {
		m.ID = string(msg.Key)
	}
	if m.Type == "" {
		m.Type = msg.Topic
	}
	return m
}

// Header returns the last value stored under key.
func Header(headers []kafka.Header, key string) string {
	for i := len(headers) - 1; i >= 0; i-- {
		if headers[i].Key == key {
			return string(headers[i].Value)
		}
	}
	return ""
}

// WithTrace returns headers extended with the span context of ctx.
func WithTrace(ctx context.Context, headers []kafka.Header) []kafka.Header {
	c := carrier(headers)
	otel.GetTextMapPropagator().Inject(ctx, &c)
	return c
}

// TraceFrom continues the trace recorded in msg's headers.
func TraceFrom(ctx context.Context, msg kafka.Message) context.Context {
	c := carrier(msg.Headers)
	return otel.GetTextMapPropagator().Extract(ctx, &c)
}

type carrier []kafka.Header

var _ propagation.TextMapCarrier = (*carrier)(nil)

func (c *carrier) Get(key string) string { return Header(*c, key) }

func (c *carrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *carrier) Keys() []string {
	keys := make([]string, len(*c))
	for i, h := range *c {
		keys[i] = h.Key
	}
	return keys
}

// Brokers parses a comma separated KAFKA_BROKERS value.
func Brokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
