package httpmw

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LimitInfo reports the limits the engine is enforcing.
type LimitInfo interface {
	NumberLimit() int
	AccountLimit() int
}

// LimitHeaders advertises the configured per-second limits on every response
// and copies them onto the request span. A nil info disables it.
func LimitHeaders(info LimitInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n, a := info.NumberLimit(), info.AccountLimit()
			w.Header().Set("X-RateLimit-Limit-Number", strconv.Itoa(n))
			w.Header().Set("X-RateLimit-Limit-Account", strconv.Itoa(a))

			if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
				span.SetAttributes(
					attribute.Int("ratelimit.limit.number", n),
					attribute.Int("ratelimit.limit.account", a),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}
