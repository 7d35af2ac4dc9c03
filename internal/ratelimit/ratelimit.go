package ratelimit

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/keithlinneman/sms-ratelimiter/internal/xerrors"
)

var (
	// ErrInvalidArgument is returned for empty or whitespace-only phone numbers.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidConfig is returned by New for out of range limits.
	ErrInvalidConfig = errors.New("invalid rate limit config")
)

const (
	// DefaultInactivityThreshold is used when Config.InactivityThreshold is zero.
	DefaultInactivityThreshold = 30 * time.Minute

	defaultShards = 32
)

// Config holds the limits, fixed for the engine's lifetime.
type Config struct {
	MaxPerNumberPerSecond  int
	MaxPerAccountPerSecond int
	InactivityThreshold    time.Duration
}

// Decision is the outcome of a send check.
type Decision int

const (
	Allowed Decision = iota
	AccountLimited
	NumberLimited
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case AccountLimited:
		return "account_limited"
	case NumberLimited:
		return "number_limited"
	default:
		return "unknown"
	}
}

// numberWindow tracks one sending number. lastSeenAt is only used by eviction
// and moves independently of windowSecond.
type numberWindow struct {
	count        int
	windowSecond int64
	lastSeenAt   time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*numberWindow
}

// accountWindow is the single account-wide counter, rolled in place.
type accountWindow struct {
	mu           sync.Mutex
	count        int
	windowSecond int64
}

// roll moves the window forward to sec, resetting the count. Callers holding an
// older second count against the current window so the window never moves back.
// Must be called with mu held.
func (a *accountWindow) roll(sec int64) {
	if sec > a.windowSecond {
		a.windowSecond = sec
		a.count = 0
	}
}

// Engine holds per-number and per-account windows.
type Engine struct {
	maxPerNumber  int
	maxPerAccount int
	threshold     time.Duration
	now           func() time.Time

	shards  []*shard
	account accountWindow

	// hooks run after locks are released
	onDecision func(phoneNumber string, d Decision)
	onRecorded func(phoneNumber string)
	onEvicted  func(removed int)
}

type Option func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithShards sets how many independently locked buckets the number map is split into.
func WithShards(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.shards = newShards(n)
		}
	}
}

// WithOnDecision is called after every successful CanSend, used for metrics.
func WithOnDecision(fn func(phoneNumber string, d Decision)) Option {
	return func(e *Engine) { e.onDecision = fn }
}

// WithOnRecorded is called after every successful RecordSent.
func WithOnRecorded(fn func(phoneNumber string)) Option {
	return func(e *Engine) { e.onRecorded = fn }
}

// WithOnEvicted is called after every CleanupInactive pass with the number of removed entries.
func WithOnEvicted(fn func(removed int)) Option {
	return func(e *Engine) { e.onEvicted = fn }
}

func newShards(n int) []*shard {
	out := make([]*shard, n)
	for i := range out {
		out[i] = &shard{windows: make(map[string]*numberWindow)}
	}
	return out
}

// New validates cfg and returns an engine with an empty number map.
func New(cfg Config, opts ...Option) (*Engine, error) {
	var errs []error
	if cfg.MaxPerNumberPerSecond < 0 {
		errs = append(errs, xerrors.Wrapf(ErrInvalidConfig, "max per number per second %d (must be >= 0)", cfg.MaxPerNumberPerSecond))
	}
	if cfg.MaxPerAccountPerSecond < 0 {
		errs = append(errs, xerrors.Wrapf(ErrInvalidConfig, "max per account per second %d (must be >= 0)", cfg.MaxPerAccountPerSecond))
	}
	if cfg.InactivityThreshold < 0 {
		errs = append(errs, xerrors.Wrapf(ErrInvalidConfig, "inactivity threshold %s (must be > 0)", cfg.InactivityThreshold))
	}
	if len(errs) > 0 {
		return nil, xerrors.Join(errs...)
	}

	threshold := cfg.InactivityThreshold
	if threshold == 0 {
		threshold = DefaultInactivityThreshold
	}

	e := &Engine{
		maxPerNumber:  cfg.MaxPerNumberPerSecond,
		maxPerAccount: cfg.MaxPerAccountPerSecond,
		threshold:     threshold,
		now:           time.Now,
		shards:        newShards(defaultShards),
	}
	for _, o := range opts {
		o(e)
	}
	e.account.windowSecond = e.now().Unix()
	return e, nil
}

func validatePhoneNumber(phoneNumber string) error {
	if strings.TrimSpace(phoneNumber) == "" {
		return xerrors.Wrap(ErrInvalidArgument, "phone number cannot be empty")
	}
	return nil
}

func (e *Engine) shardFor(phoneNumber string) *shard {
	return e.shards[xxhash.Sum64String(phoneNumber)%uint64(len(e.shards))]
}

// CanSend reports whether phoneNumber may send another message in the current second.
func (e *Engine) CanSend(phoneNumber string) (bool, error) {
	d, err := e.Decide(phoneNumber)
	if err != nil {
		return false, err
	}
	return d == Allowed, nil
}

// Decide is CanSend with the reason for a denial. The account limit is checked
// first and short-circuits, so an account-limited check never registers the number.
// An invalid number yields the zero Decision with the error; callers must check
// err before reading the Decision.
func (e *Engine) Decide(phoneNumber string) (Decision, error) {
	if err := validatePhoneNumber(phoneNumber); err != nil {
		return Allowed, err
	}

	now := e.now()
	sec := now.Unix()

	d := e.decide(phoneNumber, now, sec)
	if e.onDecision != nil {
		e.onDecision(phoneNumber, d)
	}
	return d, nil
}

func (e *Engine) decide(phoneNumber string, now time.Time, sec int64) Decision {
	e.account.mu.Lock()
	e.account.roll(sec)
	accountCount := e.account.count
	e.account.mu.Unlock()

	if accountCount >= e.maxPerAccount {
		return AccountLimited
	}

	s := e.shardFor(phoneNumber)
	s.mu.Lock()
	w, ok := s.windows[phoneNumber]
	if !ok {
		w = &numberWindow{windowSecond: sec}
		s.windows[phoneNumber] = w
	} else if sec > w.windowSecond {
		w.count = 0
		w.windowSecond = sec
	}
	w.lastSeenAt = now
	count := w.count
	s.mu.Unlock()

	if count >= e.maxPerNumber {
		return NumberLimited
	}
	return Allowed
}

// RecordSent counts one dispatched message against phoneNumber and the account.
// It does not enforce either limit.
func (e *Engine) RecordSent(phoneNumber string) error {
	if err := validatePhoneNumber(phoneNumber); err != nil {
		return err
	}

	now := e.now()
	sec := now.Unix()

	s := e.shardFor(phoneNumber)
	s.mu.Lock()
	w, ok := s.windows[phoneNumber]
	switch {
	case !ok:
		s.windows[phoneNumber] = &numberWindow{count: 1, windowSecond: sec, lastSeenAt: now}
	case sec > w.windowSecond:
		w.count = 1
		w.windowSecond = sec
		w.lastSeenAt = now
	default:
		w.count++
		w.lastSeenAt = now
	}
	s.mu.Unlock()

	e.account.mu.Lock()
	e.account.roll(sec)
	e.account.count++
	e.account.mu.Unlock()

	if e.onRecorded != nil {
		e.onRecorded(phoneNumber)
	}
	return nil
}

// CleanupInactive removes numbers whose last activity is older than the
// inactivity threshold and returns how many were removed. Shards are swept one
// at a time so other shards stay available during the pass.
func (e *Engine) CleanupInactive() int {
	cutoff := e.now().Add(-e.threshold)
	removed := 0

	for _, s := range e.shards {
		s.mu.Lock()
		for phoneNumber, w := range s.windows {
			if w.lastSeenAt.Before(cutoff) {
				delete(s.windows, phoneNumber)
				removed++
			}
		}
		s.mu.Unlock()
	}

	if e.onEvicted != nil {
		e.onEvicted(removed)
	}
	return removed
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	TrackedNumbers         int
	AccountCount           int
	AccountWindowSecond    int64
	MaxPerNumberPerSecond  int
	MaxPerAccountPerSecond int
	InactivityThreshold    time.Duration
}

// Stats counts tracked numbers shard by shard, so the total is approximate
// under concurrent writes. AccountCount is zero when the account window is stale.
func (e *Engine) Stats() Stats {
	tracked := 0
	for _, s := range e.shards {
		s.mu.Lock()
		tracked += len(s.windows)
		s.mu.Unlock()
	}

	sec := e.now().Unix()
	e.account.mu.Lock()
	count, windowSecond := e.account.count, e.account.windowSecond
	e.account.mu.Unlock()
	if sec > windowSecond {
		count = 0
	}

	return Stats{
		TrackedNumbers:         tracked,
		AccountCount:           count,
		AccountWindowSecond:    windowSecond,
		MaxPerNumberPerSecond:  e.maxPerNumber,
		MaxPerAccountPerSecond: e.maxPerAccount,
		InactivityThreshold:    e.threshold,
	}
}

// NumberLimit is the configured per-number limit.
func (e *Engine) NumberLimit() int { return e.maxPerNumber }

// AccountLimit is the configured per-account limit.
func (e *Engine) AccountLimit() int { return e.maxPerAccount }
