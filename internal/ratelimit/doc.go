// Package ratelimit decides whether an SMS sending number may send another
// message right now, using fixed one-second windows for a per-number limit and
// a per-account limit.
//
// # Simple in-memory implementation, not shared between instances or distributed
//
// Callers ask first and record after dispatching:
//
//	ok, err := engine.CanSend(from)
//	if err != nil || !ok {
//		return
//	}
//	send(msg)
//	_ = engine.RecordSent(from)
//
// CanSend never increments anything and RecordSent never enforces anything.
// Two callers checking the same number concurrently can both see headroom and
// both record, going over the limit by a small margin. That check-then-act
// window is an accepted approximation for a low-latency limiter; callers that
// need strict admission have to serialize per number themselves.
//
// Per-number windows live in a sharded map (one mutex per shard), the account
// window behind its own mutex. No lock spans both. Window rollover and increment
// happen inside one critical section so concurrent records never lose counts,
// and the account window is rolled exactly once per second boundary.
//
// CanSend registers a never-seen number as a side effect of checking. A flood
// of checks without sends grows the map until CleanupInactive evicts the idle
// entries. This is kept because callers observe it (a checked number counts as
// active for eviction purposes).
//
// The engine does not schedule its own cleanup. The owning process runs
// CleanupInactive on an interval (see internal/sweep).
package ratelimit
