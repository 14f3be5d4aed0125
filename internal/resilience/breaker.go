package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call when the breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

// Defaults used by the original settings.
const (
	DefaultFailureThreshold = 3
	DefaultRecovery         = 120 * time.Second
)

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithOnOpen registers a callback invoked each time the breaker opens.
func WithOnOpen(fn func(name string)) Option {
	return func(b *Breaker) {
		b.onOpen = fn
	}
}

// Breaker counts consecutive failures of one dependency and refuses calls
// for a recovery window once the threshold is reached. There is no
// half-open probe: the first call after the window decides the new state.
type Breaker struct {
	name      string
	threshold int
	recovery  time.Duration
	now       func() time.Time
	onOpen    func(name string)

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, threshold int, recovery time.Duration, opts ...Option) (*Breaker, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("breaker %s: failure threshold must be positive", name)
	}
	if recovery <= 0 {
		return nil, fmt.Errorf("breaker %s: recovery must be positive", name)
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Name returns the protected dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// IsOpen reports whether calls should be skipped. An expired window closes
// the breaker and clears the failure count.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return false
	}
	if b.now().Before(b.openUntil) {
		return true
	}
	b.openUntil = time.Time{}
	b.failures = 0
	return false
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.openUntil = time.Time{}
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	opened := false
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.recovery)
		opened = true
	}
	onOpen := b.onOpen
	b.mu.Unlock()

	if opened && onOpen != nil {
		onOpen(b.name)
	}
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Remaining returns how long until the breaker closes, or zero when closed.
func (b *Breaker) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return 0
	}
	left := b.openUntil.Sub(b.now())
	if left < 0 {
		return 0
	}
	return left
}

// Call skips op when b is open, otherwise runs it and records the outcome.
// Only errors accepted by countFailure are recorded; nil counts every error.
// A nil breaker runs op unguarded.
func Call[T any](ctx context.Context, b *Breaker, countFailure func(error) bool, op func(context.Context) (T, error)) (T, error) {
	if b == nil {
		return op(ctx)
	}
	var zero T
	if b.IsOpen() {
		return zero, fmt.Errorf("%s: %w (retry in %s)", b.name, ErrCircuitOpen, b.Remaining().Round(time.Second))
	}

	v, err := op(ctx)
	if err != nil {
		if countFailure == nil || countFailure(err) {
			b.RecordFailure()
		}
		return zero, err
	}
	b.RecordSuccess()
	return v, nil
}
