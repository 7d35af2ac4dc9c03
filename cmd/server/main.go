package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/sms-ratelimiter/internal/cfg"
	"github.com/keithlinneman/sms-ratelimiter/internal/clientlimit"
	"github.com/keithlinneman/sms-ratelimiter/internal/health"
	"github.com/keithlinneman/sms-ratelimiter/internal/httpmw"
	"github.com/keithlinneman/sms-ratelimiter/internal/httpserver"
	"github.com/keithlinneman/sms-ratelimiter/internal/limits"
	"github.com/keithlinneman/sms-ratelimiter/internal/log"
	"github.com/keithlinneman/sms-ratelimiter/internal/metrics"
	"github.com/keithlinneman/sms-ratelimiter/internal/opshttp"
	"github.com/keithlinneman/sms-ratelimiter/internal/otelx"
	"github.com/keithlinneman/sms-ratelimiter/internal/prof"
	"github.com/keithlinneman/sms-ratelimiter/internal/ratelimit"
	"github.com/keithlinneman/sms-ratelimiter/internal/ratelimithttp"
	"github.com/keithlinneman/sms-ratelimiter/internal/sweep"
	v "github.com/keithlinneman/sms-ratelimiter/internal/version"
	"github.com/keithlinneman/sms-ratelimiter/internal/xerrors"
)

// drainPeriod is how long readiness fails before listeners close, so the
// load balancer stops routing new checks here first.
const drainPeriod = 15 * time.Second

func main() {
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// flags win over SMSRL_* env vars, which win over defaults
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	var stackLvl slog.Leveler
	if conf.StacktraceLevel != "" {
		l, _ := log.ParseLevel(conf.StacktraceLevel)
		stackLvl = l
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Component:         "server",
		Version:           vi.Version,
		Commit:            vi.Short(),
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(conf, vi, lg); err != nil {
		lg.Error(context.Background(), err, "server exited with error")
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(conf cfg.App, vi v.Info, L log.Logger) error {
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"limits_ssm_param", conf.LimitsSSMParam,
		"trusted_hops", conf.TrustedHops,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Short(),
		},
	})
	if err != nil {
		// profiling is optional, keep serving without it
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)
	defer stopProf()

	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{})
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	lim, source, err := resolveLimits(ctx, conf)
	if err != nil {
		return err
	}
	m.SetLimitsSource(source)
	L.Info(ctx, "rate limits resolved",
		"source", source,
		"max_per_number_per_second", lim.MaxPerNumberPerSecond,
		"max_per_account_per_second", lim.MaxPerAccountPerSecond,
		"inactivity_threshold_minutes", lim.InactivityThresholdMinutes,
		"cleanup_interval_minutes", lim.CleanupIntervalMinutes,
	)

	eng, err := ratelimit.New(lim.EngineConfig(),
		ratelimit.WithOnDecision(m.ObserveDecision),
		ratelimit.WithOnRecorded(m.IncRecorded),
		ratelimit.WithOnEvicted(m.AddEvicted),
	)
	if err != nil {
		return xerrors.Wrap(err, "create rate limit engine")
	}
	if err := m.WatchEngine(eng.Stats); err != nil {
		return xerrors.Wrap(err, "register engine gauges")
	}

	// per-ip throttling for the API itself
	clients := clientlimit.New(
		clientlimit.WithRate(conf.ClientRate, conf.ClientBurst),
		clientlimit.WithMaxClients(conf.ClientMax),
		clientlimit.WithOnDenied(func(string) { m.IncClientDenied() }),
		clientlimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "client rate limit triggered", "client_ip", ip)
		}),
		clientlimit.WithOnCapacity(func(string) {
			m.IncClientCapacity()
			L.Warn(ctx, "client limiter at capacity, rejecting new clients until some are evicted")
		}),
	)
	if err := m.WatchClients(clients.Len); err != nil {
		return xerrors.Wrap(err, "register client gauges")
	}

	numberSweeper, err := sweep.New(sweep.Options{
		Name:     "numbers",
		Interval: lim.CleanupInterval(),
		Logger:   L,
		Metrics:  m,
		Fn:       func(context.Context) int { return eng.CleanupInactive() },
	})
	if err != nil {
		return xerrors.Wrap(err, "create number sweeper")
	}
	clientSweeper, err := sweep.New(sweep.Options{
		Name:     "clients",
		Interval: clients.TTL(),
		Logger:   L,
		Metrics:  m,
		Fn:       func(context.Context) int { return clients.Evict() },
	})
	if err != nil {
		return xerrors.Wrap(err, "create client sweeper")
	}
	go func() { _ = numberSweeper.Run(ctx) }()
	go func() { _ = clientSweeper.Run(ctx) }()

	api := ratelimithttp.NewAPI(eng, L, ratelimithttp.WithOnInvalid(m.IncInvalidRequest))

	var gate health.ShutdownGate
	readiness := gate.Probe()
	liveness := health.Fixed(true, "")

	apiStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  clients.Middleware,
		Health:       liveness,
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		LimitInfo:    eng,
	})
	if err != nil {
		return xerrors.Wrap(err, "start api listener")
	}
	defer func() { _ = apiStop(context.Background()) }()

	// metrics, probes and pprof; only reachable from private networks
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      liveness,
		Readiness:   readiness,
	})
	if err != nil {
		return xerrors.Wrap(err, "start ops listener")
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	gate.Set("draining")
	drain(L)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "api http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "otel shutdown")
	}

	st := eng.Stats()
	L.Info(shutdownCtx, "shutdown complete",
		"tracked_numbers", st.TrackedNumbers,
		"number_sweeps", numberSweeper.Passes(),
		"client_sweeps", clientSweeper.Passes(),
	)
	return nil
}

// resolveLimits starts from flags/env and lays the SSM override on top when
// one is configured. A configured parameter that cannot be read is fatal.
func resolveLimits(ctx context.Context, conf cfg.App) (limits.Limits, string, error) {
	base := conf.Limits()
	if conf.LimitsSSMParam == "" {
		return base, "config", nil
	}

	client, err := limits.NewSSMClient(ctx, nil)
	if err != nil {
		return limits.Limits{}, "", err
	}
	override, err := limits.FromSSM(ctx, client, conf.LimitsSSMParam)
	if err != nil {
		return limits.Limits{}, "", err
	}
	out := override.Apply(base)
	if err := out.Validate(); err != nil {
		return limits.Limits{}, "", xerrors.Wrapf(err, "limits from %s", conf.LimitsSSMParam)
	}
	return out, "ssm", nil
}

// drain waits out drainPeriod with readiness failing. A second signal skips it.
func drain(L log.Logger) {
	L.Info(context.Background(), "readiness gate closed, draining", "period", drainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "dial notify socket")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "write READY")
	}
	return nil
}
