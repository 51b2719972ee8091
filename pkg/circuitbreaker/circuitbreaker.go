// Package circuitbreaker stops calling a backing store (Redis session state,
// Postgres reads) after repeated failures and probes it again after a
// cool-down.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the position of a breaker.
type State uint8

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen lets a few probe calls through.
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

var (
	// ErrCircuitOpen is returned without calling the store while the
	// breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when every half-open probe slot is
	// taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// Settings tunes a breaker. Zero values take the defaults from New.
type Settings struct {
	Name string

	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold int

	// SuccessThreshold consecutive probe successes close a half-open breaker.
	SuccessThreshold int

	// CoolDown is how long an open breaker rejects calls.
	CoolDown time.Duration

	// MaxProbes caps concurrent calls while half-open.
	MaxProbes int

	OnStateChange func(name string, from, to State)

	// IsFailure decides whether an error counts against the store. The
	// default counts everything except context cancellation.
	IsFailure func(error) bool

	Now func() time.Time
}

// Option adjusts Settings.
type Option func(*Settings)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.FailureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many probe successes close the breaker.
func WithSuccessThreshold(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.SuccessThreshold = n
		}
	}
}

// WithTimeout sets the open-state cool-down.
func WithTimeout(d time.Duration) Option {
	return func(s *Settings) {
		if d > 0 {
			s.CoolDown = d
		}
	}
}

// WithMaxHalfOpenRequests caps concurrent probes.
func WithMaxHalfOpenRequests(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.MaxProbes = n
		}
	}
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *Settings) { s.OnStateChange = fn }
}

func WithIsFailure(fn func(error) bool) Option {
	return func(s *Settings) { s.IsFailure = fn }
}

// WithClock replaces the clock used for the cool-down.
func WithClock(now func() time.Time) Option {
	return func(s *Settings) {
		if now != nil {
			s.Now = now
		}
	}
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// ══════════════════════════════════════════════════════════════════════════════
// BREAKER
// ══════════════════════════════════════════════════════════════════════════════

// Counts are the breaker's call statistics since creation or Reset.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// Breaker guards calls to one backing store. It is safe for concurrent use.
type Breaker struct {
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probes   int
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	s := Settings{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
		MaxProbes:        1,
		IsFailure:        countsAsFailure,
		Now:              time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.IsFailure == nil {
		s.IsFailure = countsAsFailure
	}
	return &Breaker{settings: s}
}

// Execute calls fn unless the breaker rejects it, and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	done, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	done(err)
	return err
}

// ExecuteWithFallback is Execute, with fallback answering for rejected
// calls.
func (b *Breaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(error) error) error {
	err := b.Execute(ctx, fn)
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
		return fallback(err)
	}
	return err
}

// admit reserves a call slot. The returned func must be called with the
// call's result.
func (b *Breaker) admit() (func(error), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.settings.Now().Sub(b.openedAt) < b.settings.CoolDown {
			return nil, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
	case StateHalfOpen:
		if b.probes >= b.settings.MaxProbes {
			return nil, ErrTooManyRequests
		}
	}

	probe := b.state == StateHalfOpen
	if probe {
		b.probes++
	}
	return func(err error) { b.record(probe, err) }, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe && b.probes > 0 {
		b.probes--
	}
	b.counts.Requests++

	if err != nil && b.settings.IsFailure(err) {
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0

		if b.state == StateHalfOpen || b.counts.ConsecutiveFailures >= b.settings.FailureThreshold {
			b.transition(StateOpen)
		}
		return
	}

	b.counts.TotalSuccesses++
	b.counts.ConsecutiveSuccesses++
	b.counts.ConsecutiveFailures = 0
	if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.SuccessThreshold {
		b.transition(StateClosed)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		if to == StateOpen {
			b.openedAt = b.settings.Now()
		}
		return
	}

	b.state = to
	b.probes = 0
	b.counts.ConsecutiveFailures = 0
	b.counts.ConsecutiveSuccesses = 0
	if to == StateOpen {
		b.openedAt = b.settings.Now()
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.counts = Counts{}
	b.probes = 0
}

func (b *Breaker) Name() string { return b.settings.Name }

func (b *Breaker) IsOpen() bool { return b.State() == StateOpen }

func (b *Breaker) IsClosed() bool { return b.State() == StateClosed }

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// SessionStoreBreaker is tuned for Redis session state: it opens fast and
// recovers fast.
func SessionStoreBreaker(onStateChange func(name string, from, to State)) *Breaker {
	return New("session-store",
		WithFailureThreshold(5),
		WithSuccessThreshold(1),
		WithTimeout(15*time.Second),
		WithMaxHalfOpenRequests(2),
		WithOnStateChange(onStateChange),
	)
}

// DatabaseBreaker guards Postgres queries. Three straight failures open it
// for ten seconds and a single probe decides recovery.
func DatabaseBreaker(onStateChange func(name string, from, to State)) *Breaker {
	return New("database",
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithMaxHalfOpenRequests(1),
		WithOnStateChange(onStateChange),
	)
}
