package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingPolicy(delays *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	var delays []time.Duration
	calls := 0
	got, err := Do(context.Background(), recordingPolicy(&delays), func(ctx context.Context, attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("worker unavailable")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got != "ok" {
		t.Errorf("Expected ok, got %q", got)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("Expected delays [1s 2s], got %v", delays)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	boom := errors.New("boom")
	retried := 0
	p := recordingPolicy(&delays)
	p.OnRetry = func(attempt int, delay time.Duration, err error) { retried++ }

	_, err := Do(context.Background(), p, func(ctx context.Context, attempt int) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected last error, got %v", err)
	}
	if retried != 2 {
		t.Errorf("Expected 2 retries, got %d", retried)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	var delays []time.Duration
	bad := errors.New("bad request")
	calls := 0
	_, err := Do(context.Background(), recordingPolicy(&delays), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, Permanent(bad)
	})
	if err != bad {
		t.Errorf("Expected unwrapped permanent error, got %v", err)
	}
	if calls != 1 || len(delays) != 0 {
		t.Errorf("Expected a single call without delay, got %d calls %v", calls, delays)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, DefaultPolicy(), func(ctx context.Context, attempt int) (int, error) {
		t.Fatal("fn must not be called with a done context")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPolicy_DelayCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}
