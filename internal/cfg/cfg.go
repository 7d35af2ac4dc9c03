package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/keithlinneman/sms-ratelimiter/internal/limits"
	"github.com/keithlinneman/sms-ratelimiter/internal/log"
)

// EnvPrefix is prepended to the upper-cased flag name when reading the environment.
const EnvPrefix = "SMSRL_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	HTTPPort  int
	AdminPort int

	EnablePprof     bool
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
	EnableTracing   bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64

	MaxPerNumberPerSecond      int
	MaxPerAccountPerSecond     int
	InactivityThresholdMinutes int
	CleanupIntervalMinutes     int
	LimitsSSMParam             string

	ClientRate  float64
	ClientBurst int
	ClientMax   int
	TrustedHops int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "disable TLS to the OTLP endpoint")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.IntVar(&c.MaxPerNumberPerSecond, "max-per-number-per-second", 1, "messages per second allowed for a single sending number")
	fs.IntVar(&c.MaxPerAccountPerSecond, "max-per-account-per-second", 30, "messages per second allowed across the whole account")
	fs.IntVar(&c.InactivityThresholdMinutes, "inactivity-threshold-minutes", 30, "idle minutes before a number's window is evicted")
	fs.IntVar(&c.CleanupIntervalMinutes, "cleanup-interval-minutes", 5, "minutes between eviction passes")
	fs.StringVar(&c.LimitsSSMParam, "limits-ssm-param", "", "optional ssm parameter holding JSON limit overrides")

	fs.Float64Var(&c.ClientRate, "client-rate", 50, "API requests per second per client ip")
	fs.IntVar(&c.ClientBurst, "client-burst", 100, "API request burst per client ip")
	fs.IntVar(&c.ClientMax, "client-max", 10000, "max tracked client ips (0 = unbounded)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "trusted reverse proxies in front of the API (X-Forwarded-For depth)")
}

// Limits returns the limit settings from flags/env, before any SSM override.
func (c App) Limits() limits.Limits {
	return limits.Limits{
		MaxPerNumberPerSecond:      c.MaxPerNumberPerSecond,
		MaxPerAccountPerSecond:     c.MaxPerAccountPerSecond,
		InactivityThresholdMinutes: c.InactivityThresholdMinutes,
		CleanupIntervalMinutes:     c.CleanupIntervalMinutes,
	}
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Rate limits
	if c.MaxPerNumberPerSecond < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_PER_NUMBER_PER_SECOND %d (must be >= 0)", c.MaxPerNumberPerSecond))
	}
	if c.MaxPerAccountPerSecond < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_PER_ACCOUNT_PER_SECOND %d (must be >= 0)", c.MaxPerAccountPerSecond))
	}
	if c.InactivityThresholdMinutes < 1 {
		errs = append(errs, fmt.Errorf("invalid INACTIVITY_THRESHOLD_MINUTES %d (must be > 0)", c.InactivityThresholdMinutes))
	}
	if c.CleanupIntervalMinutes < 1 {
		errs = append(errs, fmt.Errorf("invalid CLEANUP_INTERVAL_MINUTES %d (must be > 0)", c.CleanupIntervalMinutes))
	}
	if c.LimitsSSMParam != "" && !strings.HasPrefix(c.LimitsSSMParam, "/") {
		errs = append(errs, fmt.Errorf("LIMITS_SSM_PARAM must be a full path starting with / (got %q)", c.LimitsSSMParam))
	}

	// Client limiter
	if c.ClientRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid CLIENT_RATE %.2f (must be > 0)", c.ClientRate))
	}
	if c.ClientBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid CLIENT_BURST %d (must be >= 1)", c.ClientBurst))
	}
	if c.ClientMax < 0 {
		errs = append(errs, fmt.Errorf("invalid CLIENT_MAX %d (must be >= 0)", c.ClientMax))
	}
	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..10)", c.TrustedHops))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
