package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func sampledContext() context.Context {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTraceResponseHeaders_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(sampledContext())
	rec := serve(TraceResponseHeaders("", "")(okHandler()), req)

	if got := rec.Header().Get("X-Trace-Id"); got != "0102030405060708090a0b0c0d0e0f10" {
		t.Fatalf("X-Trace-Id = %q", got)
	}
	if got := rec.Header().Get("X-Span-Id"); got != "0102030405060708" {
		t.Fatalf("X-Span-Id = %q", got)
	}
}

func TestTraceResponseHeaders_CustomNames(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(sampledContext())
	rec := serve(TraceResponseHeaders("Trace", "Span")(okHandler()), req)

	if rec.Header().Get("Trace") == "" || rec.Header().Get("Span") == "" {
		t.Fatalf("custom headers missing: %v", rec.Header())
	}
}

func TestTraceResponseHeaders_NoSpan(t *testing.T) {
	rec := serve(TraceResponseHeaders("", "")(okHandler()), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Header().Get("X-Trace-Id") != "" || rec.Header().Get("X-Span-Id") != "" {
		t.Fatal("no headers expected without a span")
	}
}

func TestTraceHeaderNames_StampTraceWithoutSpan(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID})

	h := http.Header{}
	traceHeaderNames{trace: DefaultTraceHeader, span: DefaultSpanHeader}.stamp(h, sc)

	if got := h.Get(DefaultTraceHeader); got != traceID.String() {
		t.Fatalf("%s = %q", DefaultTraceHeader, got)
	}
	if _, ok := h[DefaultSpanHeader]; ok {
		t.Fatal("span header set without a span id")
	}
}

func TestTraceResponseHeaders_LowercaseNamesCanonicalized(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(sampledContext())
	rec := serve(TraceResponseHeaders("x-request-trace", "x-request-span")(okHandler()), req)

	if _, ok := rec.Header()["X-Request-Trace"]; !ok {
		t.Fatalf("trace header not canonical: %v", rec.Header())
	}
	if _, ok := rec.Header()["X-Request-Span"]; !ok {
		t.Fatalf("span header not canonical: %v", rec.Header())
	}
}
