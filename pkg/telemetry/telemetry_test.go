package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), ServiceName, "")
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	if got := GetTraceID(ctx); got != "" {
		t.Errorf("GetTraceID() = %q, want empty for a no-op span", got)
	}
}

func TestSpanAttributes(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	orig := tracer
	tracer = tp.Tracer(ServiceName)
	defer func() { tracer = orig }()

	ctx, span := StartSpan(context.Background(), "engine.create_message")
	AddRequestAttributes(span, "req-1", "claude-3-haiku", "gpt-4o-mini", true)
	AddTokenAttributes(span, 10, 5)
	AddErrorAttribute(span, errors.New("boom"))

	if GetTraceID(ctx) == "" {
		t.Error("GetTraceID() is empty for a recording span")
	}
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	if got["model.target"].AsString() != "gpt-4o-mini" {
		t.Errorf("model.target = %v", got["model.target"])
	}
	if got["tokens.total"].AsInt64() != 15 {
		t.Errorf("tokens.total = %v", got["tokens.total"])
	}
	if !got["stream"].AsBool() {
		t.Errorf("stream = %v", got["stream"])
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", ended[0].Status().Code)
	}
}
