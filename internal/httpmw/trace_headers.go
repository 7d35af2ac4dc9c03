package httpmw

import (
	"cmp"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

// Response header names used when TraceResponseHeaders is given empty names.
const (
	DefaultTraceHeader = "X-Trace-Id"
	DefaultSpanHeader  = "X-Span-Id"
)

// TraceResponseHeaders puts the request's trace and span IDs on the response,
// so an SMS sender disputing a canSend answer can hand over the exact trace.
// It must run inside the otelhttp handler to see the server span.
func TraceResponseHeaders(traceHeader, spanHeader string) func(http.Handler) http.Handler {
	names := traceHeaderNames{
		trace: http.CanonicalHeaderKey(cmp.Or(traceHeader, DefaultTraceHeader)),
		span:  http.CanonicalHeaderKey(cmp.Or(spanHeader, DefaultSpanHeader)),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			names.stamp(w.Header(), trace.SpanContextFromContext(r.Context()))
			next.ServeHTTP(w, r)
		})
	}
}

type traceHeaderNames struct {
	trace, span string
}

// stamp writes whichever IDs sc carries. Tracing switched off leaves h alone.
func (n traceHeaderNames) stamp(h http.Header, sc trace.SpanContext) {
	if !sc.HasTraceID() {
		return
	}
	h[n.trace] = []string{sc.TraceID().String()}
	if sc.HasSpanID() {
		h[n.span] = []string{sc.SpanID().String()}
	}
}
