// Package log is the service's structured logger: a context-first interface
// over log/slog that stamps OTel trace IDs, attaches stacks to severe records,
// and masks phone numbers before anything reaches the writer.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/keithlinneman/sms-ratelimiter/internal/xerrors"
)

// Logger takes the request context first so trace and span IDs follow every line.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

const defaultMaxErrorLinks = 8

type Options struct {
	App       string
	Component string
	Version   string
	Commit    string

	Level slog.Level
	// StacktraceLevel is the lowest level that gets a stack attr. nil means
	// slog.LevelError; any Leveler, including slog.LevelInfo, is honoured as is.
	StacktraceLevel slog.Leveler

	JsonFormat bool
	// Writer defaults to stdout.
	Writer io.Writer

	// IncludeErrorLinks adds the unwrapped error chain to Error records, at
	// most MaxErrorLinks deep (default 8).
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// RedactKeys are attribute keys whose values are masked. nil means
	// DefaultRedactKeys, an empty slice disables masking.
	RedactKeys []string
}

func (o Options) withDefaults() Options {
	if o.Writer == nil {
		o.Writer = os.Stdout
	}
	if o.StacktraceLevel == nil {
		o.StacktraceLevel = slog.LevelError
	}
	if o.MaxErrorLinks <= 0 {
		o.MaxErrorLinks = defaultMaxErrorLinks
	}
	if o.RedactKeys == nil {
		o.RedactKeys = DefaultRedactKeys
	}
	return o
}

func New(opts Options) (Logger, error) { return newSlog(opts.withDefaults()) }

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel accepts the names used by the -log-level and -stacktrace-level
// flags, ignoring case and surrounding space.
func ParseLevel(s string) (slog.Level, error) {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return 0, xerrors.Newf("unknown log level %q (valid levels are debug|info|warn|error)", s)
}
