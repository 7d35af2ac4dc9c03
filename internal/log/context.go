package log

import "context"

type loggerKey struct{}

// WithContext attaches l to ctx. A nil l is not stored, so a later
// FromContext still finds whatever logger ctx already had.
func WithContext(ctx context.Context, l Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger attached to ctx, or Nop.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return Nop()
}

// WithAttrs narrows the logger in ctx with kv and returns the derived context.
// Handlers use it to tag every line of a request with the operation name.
func WithAttrs(ctx context.Context, kv ...any) context.Context {
	return WithContext(ctx, FromContext(ctx).With(kv...))
}
