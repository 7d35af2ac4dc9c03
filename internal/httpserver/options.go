package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/sms-ratelimiter/internal/health"
	"github.com/keithlinneman/sms-ratelimiter/internal/httpmw"
	"github.com/keithlinneman/sms-ratelimiter/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // called after a recovered panic, e.g. to bump a counter

	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler // per-client throttling, sees the resolved client IP

	Health    health.Probe
	Readiness health.Probe

	// APIRoutes registers the API on the router.
	APIRoutes func(chi.Router)

	ClientIPOpts httpmw.ClientIPOptions
	LimitInfo    httpmw.LimitInfo // X-RateLimit-Limit-* headers, nil disables
	MaxBody      int64            // 0 means httpmw.DefaultMaxBody
}
