package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	if cfg.ServiceName != "drafter" {
		t.Fatalf("expected service name 'drafter', got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Fatalf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestCallSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	_, span := StartCallSpan(context.Background(), provider.Tracer(TracerName), "parse", 6)
	RecordCallResult(span, "bitpacked", 2)
	RecordError(span, nil)
	RecordError(span, errors.New("content error"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	got := spans[0]
	if got.Name() != "drafter.parse" {
		t.Errorf("expected span 'drafter.parse', got '%s'", got.Name())
	}
	if got.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", got.Status())
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range got.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs[AttrProtocol].AsString() != "bitpacked" {
		t.Errorf("unexpected protocol attribute: %v", attrs[AttrProtocol])
	}
	if attrs[AttrStatus].AsInt64() != 2 {
		t.Errorf("unexpected status attribute: %v", attrs[AttrStatus])
	}
	if attrs[AttrInputBytes].AsInt64() != 6 {
		t.Errorf("unexpected input size attribute: %v", attrs[AttrInputBytes])
	}
}
