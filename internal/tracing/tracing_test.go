package tracing

import (
	"context"
	"testing"
)

func TestTracerWithoutInit(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "noop")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Error("span context is valid without a tracer provider")
	}
}
