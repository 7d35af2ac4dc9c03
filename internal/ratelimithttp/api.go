// Package ratelimithttp exposes the rate limit engine over HTTP.
package ratelimithttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/sms-ratelimiter/internal/httpmw"
	"github.com/keithlinneman/sms-ratelimiter/internal/log"
	"github.com/keithlinneman/sms-ratelimiter/internal/ratelimit"
	"github.com/keithlinneman/sms-ratelimiter/internal/xerrors"
)

const (
	msgInvalidPhone = "Invalid phone number provided"
	msgInternal     = "Internal server error"
)

// Engine is the subset of *ratelimit.Engine the API needs.
type Engine interface {
	Decide(phoneNumber string) (ratelimit.Decision, error)
	RecordSent(phoneNumber string) error
	CleanupInactive() int
	Stats() ratelimit.Stats
}

// API implements the rate limit endpoints
type API struct {
	engine    Engine
	logger    log.Logger
	onInvalid func(op string)
}

type Option func(*API)

// WithOnInvalid is called with the operation name ("check", "record") when a
// request carries an invalid phone number.
func WithOnInvalid(fn func(op string)) Option {
	return func(a *API) { a.onInvalid = fn }
}

// NewAPI creates the API handler around an engine
func NewAPI(engine Engine, logger log.Logger, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	api := &API{
		engine: engine,
		logger: logger,
	}
	for _, o := range opts {
		o(api)
	}
	return api
}

// RegisterRoutes attaches the rate limit endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/ratelimit", func(r chi.Router) {
		r.With(httpmw.Scope("check")).Get("/check/{phoneNumber}", api.HandleCheck)
		r.With(httpmw.Scope("record")).Post("/record/{phoneNumber}", api.HandleRecord)
		r.With(httpmw.Scope("cleanup")).Post("/cleanup", api.HandleCleanup)
		r.With(httpmw.Scope("stats")).Get("/stats", api.HandleStats)
	})
}

type CheckResponse struct {
	CanSend bool `json:"canSend"`
}

type CleanupResponse struct {
	Removed int `json:"removed"`
}

type StatsResponse struct {
	TrackedNumbers             int   `json:"trackedNumbers"`
	AccountCount               int   `json:"accountCount"`
	AccountWindowSecond        int64 `json:"accountWindowSecond"`
	MaxPerNumberPerSecond      int   `json:"maxPerNumberPerSecond"`
	MaxPerAccountPerSecond     int   `json:"maxPerAccountPerSecond"`
	InactivityThresholdSeconds int64 `json:"inactivityThresholdSeconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleCheck answers whether the number may send right now. A limited
// number is still a 200 with canSend false.
func (api *API) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	phone, ok := api.phoneParam(w, r, "check")
	if !ok {
		return
	}

	d, err := api.engine.Decide(phone)
	if err != nil {
		api.writeEngineError(ctx, w, "check", phone, err)
		return
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("ratelimit.decision", d.String()))
	}
	api.logger.Debug(ctx, "rate limit decision", log.KeyPhoneNumber, phone, "decision", d.String())

	api.writeJSON(ctx, w, http.StatusOK, CheckResponse{CanSend: d == ratelimit.Allowed})
}

// HandleRecord records one sent message against the number and the account.
func (api *API) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	phone, ok := api.phoneParam(w, r, "record")
	if !ok {
		return
	}

	if err := api.engine.RecordSent(phone); err != nil {
		api.writeEngineError(ctx, w, "record", phone, err)
		return
	}

	api.writeJSON(ctx, w, http.StatusOK, struct{}{})
}

// HandleCleanup runs one eviction pass on demand.
func (api *API) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	removed := api.engine.CleanupInactive()
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.Int("ratelimit.cleanup.removed", removed))
	}
	api.logger.Info(ctx, "manual cleanup completed", "removed", removed)

	api.writeJSON(ctx, w, http.StatusOK, CleanupResponse{Removed: removed})
}

func (api *API) HandleStats(w http.ResponseWriter, r *http.Request) {
	st := api.engine.Stats()
	api.writeJSON(r.Context(), w, http.StatusOK, StatsResponse{
		TrackedNumbers:             st.TrackedNumbers,
		AccountCount:               st.AccountCount,
		AccountWindowSecond:        st.AccountWindowSecond,
		MaxPerNumberPerSecond:      st.MaxPerNumberPerSecond,
		MaxPerAccountPerSecond:     st.MaxPerAccountPerSecond,
		InactivityThresholdSeconds: int64(st.InactivityThreshold.Seconds()),
	})
}

// phoneParam returns the decoded {phoneNumber} path value. chi routes on
// RawPath when the request has one, so only then is the param still escaped;
// otherwise it was decoded by net/url and must not be decoded again. A value
// that does not unescape is answered with 400 the same as an empty one.
func (api *API) phoneParam(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	phone := chi.URLParam(r, "phoneNumber")
	if r.URL.RawPath == "" {
		return phone, true
	}
	phone, err := url.PathUnescape(phone)
	if err != nil {
		api.invalid(r.Context(), w, op, xerrors.Wrap(ratelimit.ErrInvalidArgument, "phone number is not a valid path segment"))
		return "", false
	}
	return phone, true
}

func (api *API) writeEngineError(ctx context.Context, w http.ResponseWriter, op, phone string, err error) {
	if errors.Is(err, ratelimit.ErrInvalidArgument) {
		api.invalid(ctx, w, op, err)
		return
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limit engine failure")
	}
	api.logger.Error(ctx, err, "rate limit engine failure", "op", op, log.KeyPhoneNumber, phone)
	api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: msgInternal})
}

func (api *API) invalid(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if api.onInvalid != nil {
		api.onInvalid(op)
	}
	api.logger.Debug(ctx, "rejected invalid phone number", "op", op, "reason", err.Error())
	api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: msgInvalidPhone})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
