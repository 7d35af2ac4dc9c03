package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/sms-ratelimiter/internal/xerrors"
)

// Probe returns nil when healthy, otherwise the reason it is not.
type Probe interface{ Check(context.Context) error }

type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" if empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	err := xerrors.New(reason)
	return func(context.Context) error { return err }
}

// All passes when every non-nil probe passes, and stops at the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// ShutdownGate is open until Set is called.
type ShutdownGate struct {
	closed atomic.Bool
	reason atomic.Value // string
}

// Set closes the gate with a reason reported by the probe.
func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.closed.Store(true)
}

// Clear reopens the gate.
func (g *ShutdownGate) Clear() {
	g.closed.Store(false)
	g.reason.Store("")
}

// Closed reports whether Set has been called since the last Clear.
func (g *ShutdownGate) Closed() bool { return g.closed.Load() }

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.closed.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}
