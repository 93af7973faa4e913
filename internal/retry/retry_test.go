package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

// recordSleeps swaps the policy's sleeper for one that records durations.
func recordSleeps(p *Policy) *[]time.Duration {
	var got []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		got = append(got, d)
		return nil
	}
	return &got
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	p := NewPolicy(4, time.Second)
	sleeps := recordSleeps(p)

	calls := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 || len(*sleeps) != 0 {
		t.Errorf("expected 1 call and no sleeps, got %d calls, %d sleeps", calls, len(*sleeps))
	}
}

func TestExecute_RecoversAfterFailures(t *testing.T) {
	p := NewPolicy(4, time.Second)
	sleeps := recordSleeps(p)

	calls := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 || len(*sleeps) != 2 {
		t.Errorf("expected 3 calls and 2 sleeps, got %d and %d", calls, len(*sleeps))
	}
	for _, d := range *sleeps {
		if d < time.Second || d > 3*time.Second {
			t.Errorf("sleep %s outside 1-3 units", d)
		}
	}
}

func TestExecute_ExhaustsBudget(t *testing.T) {
	p := NewPolicy(DefaultAttempts, time.Second)
	sleeps := recordSleeps(p)

	boom := errors.New("boom")
	calls := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	if calls != DefaultAttempts {
		t.Errorf("expected %d calls, got %d", DefaultAttempts, calls)
	}
	if len(*sleeps) != DefaultAttempts-1 {
		t.Errorf("expected no sleep after last attempt, got %d sleeps", len(*sleeps))
	}
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, boom) {
		t.Errorf("expected exhausted error wrapping boom, got %v", err)
	}
	var ee *ExhaustedError
	if !errors.As(err, &ee) || ee.Attempts != DefaultAttempts {
		t.Errorf("expected *ExhaustedError with %d attempts, got %v", DefaultAttempts, err)
	}
}

func TestExecute_PermanentStops(t *testing.T) {
	p := NewPolicy(4, time.Second)
	recordSleeps(p)

	bad := errors.New("bad request")
	calls := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return Permanent(bad)
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, bad) || errors.Is(err, ErrExhausted) {
		t.Errorf("expected the permanent error itself, got %v", err)
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	p := NewPolicy(4, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := p.Execute(ctx, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if err == nil || calls != 1 {
		t.Errorf("expected interrupted after 1 call, got %d calls, err %v", calls, err)
	}
}

func TestDelay_RateLimitedBacksOff(t *testing.T) {
	p := NewPolicy(4, time.Second)
	limited := &StatusError{Code: http.StatusTooManyRequests}
	for i := 0; i < 20; i++ {
		d := p.Delay(3, limited)
		if d < 3*time.Second || d > 9*time.Second {
			t.Fatalf("expected 3-9s on third 429, got %s", d)
		}
	}
}

func TestRateLimited(t *testing.T) {
	if !RateLimited(&StatusError{Code: 429}) {
		t.Error("expected 429 to be rate limited")
	}
	if RateLimited(&StatusError{Code: 500}) || RateLimited(errors.New("x")) {
		t.Error("expected non-429 to not be rate limited")
	}
}
