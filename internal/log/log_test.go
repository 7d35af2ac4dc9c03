package log

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel_ValidLevels(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" Error\n", slog.LevelError},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseLevel_Invalid(t *testing.T) {
	for _, input := range []string{"", "trace", "fatal", "INFO!", "info error"} {
		_, err := ParseLevel(input)
		if err == nil {
			t.Errorf("ParseLevel(%q) should return error", input)
			continue
		}
		if input != "" && !strings.Contains(err.Error(), input) {
			t.Errorf("error should contain the invalid input, got: %s", err)
		}
	}
}

func TestNew_LoggerImplementsInterface(t *testing.T) {
	l, err := New(Options{App: "test", Writer: io.Discard})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	l.Debug(ctx, "debug msg")
	l.Info(ctx, "info msg")
	l.Warn(ctx, "warn msg")
	l.Error(ctx, errors.New("test"), "error msg")

	if l.With("key", "value") == nil {
		t.Fatal("With returned nil")
	}
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestFromContext_ReturnsStoredLogger(t *testing.T) {
	l, _ := New(Options{App: "test", Writer: io.Discard})
	ctx := WithContext(context.Background(), l)

	if got := FromContext(ctx); got != l {
		t.Fatal("FromContext should return the stored logger")
	}
}

func TestFromContext_FallsBackToNop(t *testing.T) {
	if _, ok := FromContext(context.Background()).(nopLogger); !ok {
		t.Fatal("empty context should yield the nop logger")
	}

	ctx := WithContext(context.Background(), nil)
	if _, ok := FromContext(ctx).(nopLogger); !ok {
		t.Fatal("nil logger in context should yield the nop logger")
	}
}

func TestWithContext_NilKeepsExisting(t *testing.T) {
	l, _ := New(Options{App: "test", Writer: io.Discard})
	ctx := WithContext(WithContext(context.Background(), l), nil)

	if got := FromContext(ctx); got != l {
		t.Fatal("storing nil should not hide the logger already in ctx")
	}
}

func TestWithAttrs_TagsEveryLine(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Options{App: "test", JsonFormat: true, Writer: &buf})
	ctx := WithAttrs(WithContext(context.Background(), l), "handler", "check")

	FromContext(ctx).Info(ctx, "first")
	FromContext(ctx).Info(ctx, "second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %s", len(lines), buf.String())
	}
	for _, line := range lines {
		if !strings.Contains(line, `"handler":"check"`) {
			t.Fatalf("missing handler attr: %s", line)
		}
	}
}

func TestWithAttrs_EmptyContextUsesNop(t *testing.T) {
	ctx := WithAttrs(context.Background(), "k", "v")
	if _, ok := FromContext(ctx).(nopLogger); !ok {
		t.Fatal("WithAttrs on a bare context should stay nop")
	}
}

func TestWithContext_DoesNotAffectParent(t *testing.T) {
	parent := context.Background()
	l, _ := New(Options{App: "test", Writer: io.Discard})
	_ = WithContext(parent, l)

	if _, ok := FromContext(parent).(nopLogger); !ok {
		t.Fatal("parent context should be untouched")
	}
}

func TestNop_AllMethodsSafe(t *testing.T) {
	l := Nop()
	ctx := context.Background()
	l.Debug(ctx, "d", "k", "v")
	l.Info(ctx, "i")
	l.Warn(ctx, "w", "odd")
	l.Error(ctx, nil, "e")
	if l.With("a", 1).With("b") == nil {
		t.Fatal("With chain returned nil")
	}
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
