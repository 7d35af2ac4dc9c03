package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Disabled path

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Sample: 99.9})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown #%d: %v", i+1, err)
		}
	}

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	_, span := otel.Tracer("test").Start(context.Background(), "check")
	defer span.End()
	if span.IsRecording() {
		t.Fatal("spans should not record with tracing disabled")
	}
}

func TestInit_SetsPropagator(t *testing.T) {
	_, _ = Init(context.Background(), Options{})

	fields := map[string]bool{}
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	for _, want := range []string{"traceparent", "tracestate", "baggage"} {
		if !fields[want] {
			t.Errorf("propagator missing %s", want)
		}
	}
}

// Enabled path

func TestInit_Enabled_RequiresEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		start := time.Now()
		shutdown, err := Init(context.Background(), Options{
			Enabled:   true,
			Endpoint:  "localhost:1",
			Insecure:  insecure,
			Sample:    1.0,
			Service:   "sms-ratelimiter",
			Component: "test",
			Version:   "v0.0.0-test",
		})
		if elapsed := time.Since(start); elapsed > 10*time.Second {
			t.Fatalf("insecure=%v: Init took %v", insecure, elapsed)
		}
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		// nothing is listening, an export error on shutdown is fine
		_ = shutdown(ctx)
		cancel()
	}
}

// Options

func TestServiceName(t *testing.T) {
	if got := (Options{Service: "sms-ratelimiter", Component: "server"}).ServiceName(); got != "sms-ratelimiter.server" {
		t.Fatalf("ServiceName = %q", got)
	}
	if got := (Options{Service: "sms-ratelimiter"}).ServiceName(); got != "sms-ratelimiter" {
		t.Fatalf("ServiceName without component = %q", got)
	}
}

func TestSampler(t *testing.T) {
	root := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Name:          "GET /api/ratelimit/check/{phoneNumber}",
	}

	if d := Sampler(0).ShouldSample(root).Decision; d != sdktrace.Drop {
		t.Errorf("ratio 0: decision = %v, want Drop", d)
	}
	if d := Sampler(-1).ShouldSample(root).Decision; d != sdktrace.Drop {
		t.Errorf("ratio -1: decision = %v, want Drop", d)
	}
	if d := Sampler(1).ShouldSample(root).Decision; d != sdktrace.RecordAndSample {
		t.Errorf("ratio 1: decision = %v, want RecordAndSample", d)
	}
	if d := Sampler(7).ShouldSample(root).Decision; d != sdktrace.RecordAndSample {
		t.Errorf("ratio 7: decision = %v, want RecordAndSample", d)
	}

	// a sampled remote parent wins over ratio 0
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	child := root
	child.ParentContext = trace.ContextWithRemoteSpanContext(context.Background(), parent)
	if d := Sampler(0).ShouldSample(child).Decision; d != sdktrace.RecordAndSample {
		t.Errorf("sampled parent: decision = %v, want RecordAndSample", d)
	}
}
