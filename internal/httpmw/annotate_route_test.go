package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
)

func TestRoutePattern(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/ratelimit/check/+15551230001", http.NoBody)
	if got := RoutePattern(r); got != "unmatched" {
		t.Fatalf("no route context: got %q", got)
	}

	r = r.WithContext(withRoute(r.Context(), "/api/ratelimit/check/{phoneNumber}"))
	if got := RoutePattern(r); got != "/api/ratelimit/check/{phoneNumber}" {
		t.Fatalf("got %q", got)
	}
}

func TestAnnotateHTTPRoute_RenamesSpan(t *testing.T) {
	ctx, span, sr := recordingContext(t)
	ctx = withRoute(ctx, "/api/ratelimit/check/{phoneNumber}")

	req := httptest.NewRequest(http.MethodGet, "/api/ratelimit/check/+15551230001", http.NoBody).WithContext(ctx)
	serve(AnnotateHTTPRoute(okHandler()), req)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if got := ended[0].Name(); got != "GET /api/ratelimit/check/{phoneNumber}" {
		t.Fatalf("span name = %q", got)
	}
	found := false
	for _, kv := range ended[0].Attributes() {
		if kv.Key == attribute.Key("http.route") && kv.Value.AsString() == "/api/ratelimit/check/{phoneNumber}" {
			found = true
		}
	}
	if !found {
		t.Fatal("http.route attribute missing")
	}
}

func TestAnnotateHTTPRoute_NoSpan(t *testing.T) {
	called := false
	h := AnnotateHTTPRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	serve(h, httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(context.Background()))
	if !called {
		t.Fatal("handler not called")
	}
}

func TestSeedRouteContext_OuterSeesPattern(t *testing.T) {
	router := chi.NewRouter()
	router.Get("/api/ratelimit/check/{phoneNumber}", func(w http.ResponseWriter, _ *http.Request) {})

	var got string
	outer := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			got = RoutePattern(r)
		})
	}

	h := SeedRouteContext(outer(router))
	serve(h, httptest.NewRequest(http.MethodGet, "/api/ratelimit/check/+15551230001", http.NoBody))

	if got != "/api/ratelimit/check/{phoneNumber}" {
		t.Fatalf("outer middleware saw %q", got)
	}
}

func TestSeedRouteContext_KeepsExisting(t *testing.T) {
	ctx := withRoute(context.Background(), "/existing")
	var seen *chi.Context
	h := SeedRouteContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = chi.RouteContext(r.Context())
	}))
	serve(h, httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(ctx))

	if seen != chi.RouteContext(ctx) {
		t.Fatal("existing route context should be reused")
	}
}
