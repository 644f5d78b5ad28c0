package trading

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tradepost/internal/gateway"
	"tradepost/internal/readmodel"
)

func TestRetryPolicy_RetriesWithBackoff(t *testing.T) {
	attempts := 0
	var delays []time.Duration

	policy := RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
		ShouldRetry: func(error) bool { return true },
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 || delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Fatalf("unexpected delays: %v", delays)
	}
}

func TestRetryPolicy_CapsDelayAtMax(t *testing.T) {
	var delays []time.Duration

	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    25 * time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
		ShouldRetry: func(error) bool { return true },
	}

	_ = policy.Do(context.Background(), func() error { return errors.New("fail") })

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond, 25 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("unexpected delays: %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay %d: got %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRetryPolicy_StopsOnNonRetryable(t *testing.T) {
	attempts := 0
	var delays []time.Duration

	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
		ShouldRetry: gateway.Retriable,
	}

	err := policy.Do(context.Background(), func() error {
		attempts++
		return fmt.Errorf("item 42: %w", readmodel.ErrNotFound)
	})
	if !errors.Is(err, readmodel.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("an unknown entity must fail fast, got %d attempts", attempts)
	}
	if len(delays) != 0 {
		t.Fatalf("expected no delay, got %v", delays)
	}
}

func TestRetryPolicy_RetriesTimeoutsAndUpstreamErrors(t *testing.T) {
	for _, cause := range []error{gateway.ErrTimeout, gateway.ErrUnavailable} {
		attempts := 0
		policy := RetryPolicy{
			MaxAttempts: 3,
			Sleep:       func(context.Context, time.Duration) error { return nil },
			ShouldRetry: gateway.Retriable,
		}

		err := policy.Do(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return fmt.Errorf("list items: %w", cause)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("%v: expected recovery, got %v", cause, err)
		}
		if attempts != 3 {
			t.Fatalf("%v: expected 3 attempts, got %d", cause, attempts)
		}
	}
}

func TestRetryPolicy_HonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		ShouldRetry: func(error) bool { return true },
	}

	attempts := 0
	err := policy.Do(ctx, func() error {
		attempts++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDefaultJitter_AddsBoundedSpread(t *testing.T) {
	base := 2 * time.Second
	for i := 0; i < 100; i++ {
		d := defaultJitter(base)
		if d < base || d > base+time.Second {
			t.Fatalf("jitter out of range: %v", d)
		}
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0

	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: 15 * time.Second,
		Now:          func() time.Time { return now },
	})

	fail := func() error {
		calls++
		return errors.New("fail")
	}

	for i := 0; i < 3; i++ {
		if err := breaker.Execute(fail); err == nil {
			t.Fatalf("expected failure on call %d", i+1)
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}

	// Open: calls fail fast without reaching the function.
	if err := breaker.Execute(fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("an open breaker must not invoke the call, got %d", calls)
	}
}

func TestCircuitBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          func() time.Time { return now },
	})

	if err := breaker.Execute(func() error { return errors.New("fail") }); err == nil {
		t.Fatalf("expected failure")
	}
	if err := breaker.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen during cool-down, got %v", err)
	}

	// After the cool-down one probe goes through and closes the circuit.
	now = now.Add(time.Second)
	if err := breaker.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected the probe to pass, got %v", err)
	}
	if err := breaker.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected the circuit to be closed, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Now:          func() time.Time { return now },
	})

	if err := breaker.Execute(func() error { return errors.New("fail") }); err == nil {
		t.Fatalf("expected failure")
	}

	now = now.Add(time.Second)
	if err := breaker.Execute(func() error { return errors.New("still down") }); errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("the probe itself must run, got %v", err)
	}

	// The failed probe reopens the circuit for another cool-down.
	if err := breaker.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after a failed probe, got %v", err)
	}
}

type flakyCatalog struct {
	errs  []error
	calls int
	items []readmodel.CatalogItemSnapshot
}

func (c *flakyCatalog) ListItems(ctx context.Context) ([]readmodel.CatalogItemSnapshot, error) {
	c.calls++
	if c.calls <= len(c.errs) {
		return nil, c.errs[c.calls-1]
	}
	return c.items, nil
}

func TestReliableCatalogClient_RecoversFromTransientTimeouts(t *testing.T) {
	base := &flakyCatalog{
		errs:  []error{gateway.ErrTimeout, gateway.ErrTimeout},
		items: []readmodel.CatalogItemSnapshot{{Name: "Antidote", Price: 7}},
	}

	retry := DefaultRetryPolicy()
	retry.Sleep = func(context.Context, time.Duration) error { return nil }
	client := NewReliableCatalogClient(base, NewCircuitBreaker(CircuitBreakerConfig{}), retry)

	items, err := client.ListItems(context.Background())
	if err != nil {
		t.Fatalf("expected recovery after retrying, got %v", err)
	}
	if base.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", base.calls)
	}
	if len(items) != 1 || items[0].Name != "Antidote" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestReliableCatalogClient_OpenBreakerSkipsRetries(t *testing.T) {
	base := &flakyCatalog{errs: []error{
		gateway.ErrUnavailable, gateway.ErrUnavailable, gateway.ErrUnavailable,
		gateway.ErrUnavailable, gateway.ErrUnavailable,
	}}

	retry := DefaultRetryPolicy()
	retry.Sleep = func(context.Context, time.Duration) error { return nil }
	breaker := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute})
	client := NewReliableCatalogClient(base, breaker, retry)

	if _, err := client.ListItems(context.Background()); err == nil {
		t.Fatalf("expected failure")
	}
	// The breaker opened after 3 failures, so only 3 of 5 allowed attempts
	// reached the upstream; ErrCircuitOpen is not retried further.
	if base.calls != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", base.calls)
	}

	if _, err := client.ListItems(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if base.calls != 3 {
		t.Fatalf("an open breaker must not call the upstream, got %d", base.calls)
	}
}
