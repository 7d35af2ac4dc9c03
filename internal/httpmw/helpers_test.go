package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/sms-ratelimiter/internal/log"
)

// recordingContext returns a context carrying a live, recording span and the
// recorder that sees it once ended.
func recordingContext(t *testing.T) (context.Context, trace.Span, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "server")
	return ctx, span, sr
}

// withRoute attaches a chi route context that reports pattern.
func withRoute(ctx context.Context, pattern string) context.Context {
	rctx := chi.NewRouteContext()
	rctx.RoutePatterns = []string{pattern}
	return context.WithValue(ctx, chi.RouteCtxKey, rctx)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

type captured struct {
	level string
	msg   string
	err   error
	kv    []any
}

// spyLogger records every call. With returns a child sharing the same sink
// whose attrs are prepended to each record.
type spyLogger struct {
	mu    *sync.Mutex
	sink  *[]captured
	attrs []any
}

func newSpyLogger() *spyLogger {
	return &spyLogger{mu: &sync.Mutex{}, sink: &[]captured{}}
}

func (s *spyLogger) add(level, msg string, err error, kv []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(append([]any{}, s.attrs...), kv...)
	*s.sink = append(*s.sink, captured{level: level, msg: msg, err: err, kv: all})
}

func (s *spyLogger) Debug(_ context.Context, msg string, kv ...any) { s.add("debug", msg, nil, kv) }
func (s *spyLogger) Info(_ context.Context, msg string, kv ...any)  { s.add("info", msg, nil, kv) }
func (s *spyLogger) Warn(_ context.Context, msg string, kv ...any)  { s.add("warn", msg, nil, kv) }
func (s *spyLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	s.add("error", msg, err, kv)
}
func (s *spyLogger) Sync() error { return nil }

func (s *spyLogger) With(kv ...any) log.Logger {
	return &spyLogger{mu: s.mu, sink: s.sink, attrs: append(append([]any{}, s.attrs...), kv...)}
}

func (s *spyLogger) records() []captured {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]captured(nil), (*s.sink)...)
}

func field(kv []any, key string) (any, bool) {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok && k == key {
			return kv[i+1], true
		}
	}
	return nil, false
}
