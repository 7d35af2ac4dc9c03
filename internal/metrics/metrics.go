// Package metrics owns the process Prometheus registry: HTTP server metrics,
// rate limit engine decisions, sweeper passes, client throttling and build info.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/sms-ratelimiter/internal/ratelimit"
	"github.com/keithlinneman/sms-ratelimiter/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter

	// engine
	decisionsTotal *prometheus.CounterVec
	recordedTotal  prometheus.Counter
	evictedTotal   prometheus.Counter
	invalidTotal   *prometheus.CounterVec

	// sweeper
	sweepDuration *prometheus.HistogramVec
	sweepRemoved  *prometheus.CounterVec
	sweepPanics   *prometheus.CounterVec

	// client limiter
	clientDeniedTotal   prometheus.Counter
	clientCapacityTotal prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	limitsSource    *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New returns a fresh registry with the Go/process collectors and every
// metric below. Labels are kept to bounded sets: never a phone number or a raw path.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{16, 64, 256, 1024, 4096, 16384},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),

		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_ratelimit_decisions_total",
			Help: "CanSend decisions by result (allowed, account_limited, number_limited)",
		}, []string{"result"}),
		recordedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sms_ratelimit_recorded_total",
			Help: "Messages recorded as sent",
		}),
		evictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sms_ratelimit_evicted_total",
			Help: "Idle sending numbers removed by cleanup",
		}),
		invalidTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_ratelimit_invalid_requests_total",
			Help: "Engine calls rejected for an invalid phone number, by operation",
		}, []string{"op"}),

		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of eviction passes by sweeper",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"sweeper"}),
		sweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_removed_total",
			Help: "Entries removed by eviction passes by sweeper",
		}, []string{"sweeper"}),
		sweepPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweep_panics_total",
			Help: "Eviction passes that panicked, by sweeper",
		}, []string{"sweeper"}),

		clientDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total API requests rejected by the per-client limiter",
		}),
		clientCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total API requests rejected because the client table was full",
		}),

		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		limitsSource: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sms_ratelimit_limits_source_info",
			Help: "Where the active limits came from (flags or ssm), value is always 1",
		}, []string{"source"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.decisionsTotal,
		m.recordedTotal,
		m.evictedTotal,
		m.invalidTotal,
		m.sweepDuration,
		m.sweepRemoved,
		m.sweepPanics,
		m.clientDeniedTotal,
		m.clientCapacityTotal,
		m.buildInfo,
		m.limitsSource,
		m.profilingActive,
	)

	// pre-create the decision series so rate() works from the first scrape
	for _, d := range []ratelimit.Decision{ratelimit.Allowed, ratelimit.AccountLimited, ratelimit.NumberLimited} {
		m.decisionsTotal.WithLabelValues(d.String())
	}

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the registry for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) SetLimitsSource(source string) {
	m.limitsSource.Reset()
	m.limitsSource.WithLabelValues(source).Set(1)
}

// Engine hooks. Phone numbers are accepted to match the hook signatures and dropped.

func (m *ServerMetrics) ObserveDecision(_ string, d ratelimit.Decision) {
	m.decisionsTotal.WithLabelValues(d.String()).Inc()
}

func (m *ServerMetrics) IncRecorded(_ string) {
	m.recordedTotal.Inc()
}

func (m *ServerMetrics) AddEvicted(n int) {
	if n > 0 {
		m.evictedTotal.Add(float64(n))
	}
}

func (m *ServerMetrics) IncInvalidRequest(op string) {
	m.invalidTotal.WithLabelValues(op).Inc()
}

// WatchEngine registers the engine gauges. statsFn is called once per scrape
// and every gauge is taken from that single snapshot.
func (m *ServerMetrics) WatchEngine(statsFn func() ratelimit.Stats) error {
	return m.reg.Register(newEngineCollector(statsFn))
}

type engineCollector struct {
	statsFn func() ratelimit.Stats

	trackedNumbers  *prometheus.Desc
	accountCurrent  *prometheus.Desc
	limitPerNumber  *prometheus.Desc
	limitPerAccount *prometheus.Desc
}

func newEngineCollector(statsFn func() ratelimit.Stats) *engineCollector {
	return &engineCollector{
		statsFn: statsFn,
		trackedNumbers: prometheus.NewDesc("sms_ratelimit_tracked_numbers",
			"Sending numbers currently tracked by the engine", nil, nil),
		accountCurrent: prometheus.NewDesc("sms_ratelimit_account_current",
			"Messages recorded against the account in the current second", nil, nil),
		limitPerNumber: prometheus.NewDesc("sms_ratelimit_limit_per_number",
			"Configured messages per second per sending number", nil, nil),
		limitPerAccount: prometheus.NewDesc("sms_ratelimit_limit_per_account",
			"Configured messages per second for the account", nil, nil),
	}
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.trackedNumbers
	ch <- c.accountCurrent
	ch <- c.limitPerNumber
	ch <- c.limitPerAccount
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.statsFn()
	gauge := func(d *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	gauge(c.trackedNumbers, st.TrackedNumbers)
	gauge(c.accountCurrent, st.AccountCount)
	gauge(c.limitPerNumber, st.MaxPerNumberPerSecond)
	gauge(c.limitPerAccount, st.MaxPerAccountPerSecond)
}

// WatchClients registers a gauge for the number of tracked API clients.
func (m *ServerMetrics) WatchClients(lenFn func() int) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "http_rate_limit_tracked_clients",
		Help: "Client addresses currently tracked by the per-client limiter",
	}, func() float64 { return float64(lenFn()) }))
}

// Sweeper hooks, satisfies sweep.Metrics.

func (m *ServerMetrics) ObserveSweep(name string, removed int, seconds float64) {
	m.sweepDuration.WithLabelValues(name).Observe(seconds)
	if removed > 0 {
		m.sweepRemoved.WithLabelValues(name).Add(float64(removed))
	}
}

func (m *ServerMetrics) IncSweepPanic(name string) {
	m.sweepPanics.WithLabelValues(name).Inc()
}

// Client limiter hooks.

func (m *ServerMetrics) IncClientDenied() {
	m.clientDeniedTotal.Inc()
}

func (m *ServerMetrics) IncClientCapacity() {
	m.clientCapacityTotal.Inc()
}
