package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(t *testing.T, threshold int, recovery time.Duration) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)}
	b, err := NewBreaker("market_data", threshold, recovery, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewBreaker: %v", err)
	}
	return b, clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, 3, 2*time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	if b.IsOpen() {
		t.Fatal("breaker opened before threshold")
	}
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("expected breaker to be open after 3 failures")
	}
}

func TestBreaker_ClosesAfterRecovery(t *testing.T) {
	b, clock := newTestBreaker(t, 2, 2*time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	if !b.IsOpen() {
		t.Fatal("expected open breaker")
	}

	clock.Advance(119 * time.Second)
	if !b.IsOpen() {
		t.Fatal("expected breaker to stay open inside the recovery window")
	}
	if got := b.Remaining(); got != time.Second {
		t.Errorf("expected 1s remaining, got %v", got)
	}

	clock.Advance(time.Second)
	if b.IsOpen() {
		t.Fatal("expected breaker to close once the window elapsed")
	}
	if b.Failures() != 0 {
		t.Errorf("expected failure count reset, got %d", b.Failures())
	}

	// One more failure after reset must not reopen it.
	b.RecordFailure()
	if b.IsOpen() {
		t.Error("single failure after reset reopened the breaker")
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b, _ := newTestBreaker(t, 2, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	if b.IsOpen() {
		t.Fatal("expected success to close the breaker")
	}
	if b.Remaining() != 0 {
		t.Errorf("expected zero remaining, got %v", b.Remaining())
	}
	b.RecordFailure()
	if b.IsOpen() {
		t.Error("counter was not reset by success")
	}
}

func TestNewBreaker_Validation(t *testing.T) {
	if _, err := NewBreaker("x", 0, time.Minute); err == nil {
		t.Error("expected error for zero threshold")
	}
	if _, err := NewBreaker("x", 1, 0); err == nil {
		t.Error("expected error for zero recovery")
	}
}

func TestCall_SkipsWhenOpen(t *testing.T) {
	b, _ := newTestBreaker(t, 1, time.Minute)
	var opened []string
	b.onOpen = func(name string) { opened = append(opened, name) }

	failing := errors.New("upstream down")
	_, err := Call(context.Background(), b, nil, func(context.Context) (int, error) {
		return 0, failing
	})
	if !errors.Is(err, failing) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(opened) != 1 || opened[0] != "market_data" {
		t.Errorf("expected one open notification, got %v", opened)
	}

	calls := 0
	_, err = Call(context.Background(), b, nil, func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected protected call to be skipped, got %d calls", calls)
	}
}

func TestCall_IgnoresUncountedErrors(t *testing.T) {
	b, _ := newTestBreaker(t, 1, time.Minute)
	notCounted := errors.New("bad input")

	_, _ = Call(context.Background(), b, func(err error) bool { return !errors.Is(err, notCounted) },
		func(context.Context) (int, error) { return 0, notCounted })
	if b.IsOpen() {
		t.Error("uncounted error opened the breaker")
	}
}
