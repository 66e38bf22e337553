package otel

import (
	"context"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/draftloop/draftloop/observe"
)

func TestSink_EmitsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	sink := NewSink(tp)

	err := sink.Emit(context.Background(), observe.Event{
		Timestamp:  time.Now().UTC(),
		ThreadID:   "t1",
		Kind:       observe.KindNode,
		Status:     observe.StatusCompleted,
		NodeID:     "agent",
		Step:       2,
		DurationMs: 12,
	})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "node.agent" {
		t.Fatalf("unexpected span name %q", spans[0].Name)
	}
}

func TestSink_FailedEventMarksError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	sink := NewSink(tp)

	err := sink.Emit(context.Background(), observe.Event{
		Kind:   observe.KindTurn,
		Status: observe.StatusFailed,
		Error:  "model unavailable",
	})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Description != "model unavailable" {
		t.Fatalf("expected error status, got %#v", spans[0].Status)
	}
}

func TestNewSink_NilProvider(t *testing.T) {
	sink := NewSink(nil)
	if err := sink.Emit(context.Background(), observe.Event{Kind: observe.KindCustom}); err != nil {
		t.Fatalf("Emit with noop provider failed: %v", err)
	}
}
