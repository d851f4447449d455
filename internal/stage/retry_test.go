package stage

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	var calls int32
	ex := Func(func(ctx context.Context, in Input) Outcome {
		atomic.AddInt32(&calls, 1)
		return Outcome{}
	})

	out := fastPolicy().Execute(context.Background(), ex, Input{}, 0, nil)
	if !out.OK() {
		t.Fatalf("outcome error = %q", out.Error)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	var calls int32
	ex := Func(func(ctx context.Context, in Input) Outcome {
		if atomic.AddInt32(&calls, 1) < 3 {
			return Failure("transient")
		}
		return Outcome{Payload: map[string]string{"done": "yes"}}
	})

	var retryMsgs []string
	logf := func(format string, args ...interface{}) {
		retryMsgs = append(retryMsgs, fmt.Sprintf(format, args...))
	}

	out := fastPolicy().Execute(context.Background(), ex, Input{}, 0, logf)
	if !out.OK() {
		t.Fatalf("outcome error = %q", out.Error)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retryMsgs) != 2 {
		t.Errorf("retry log messages = %d, want 2", len(retryMsgs))
	}
}

func TestRetry_BudgetExhausted(t *testing.T) {
	var calls int32
	ex := Func(func(ctx context.Context, in Input) Outcome {
		atomic.AddInt32(&calls, 1)
		return Failure("permanent")
	})

	out := fastPolicy().Execute(context.Background(), ex, Input{}, 0, nil)
	if out.OK() {
		t.Fatal("exhausted retry should fail")
	}
	if out.Error != "permanent" {
		t.Errorf("error = %q, want permanent", out.Error)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_AttemptTimeoutCountsAsFailure(t *testing.T) {
	var calls int32
	ex := Func(func(ctx context.Context, in Input) Outcome {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		// Executor that swallows the deadline and claims success.
		return Outcome{}
	})

	out := fastPolicy().Execute(context.Background(), ex, Input{}, 5*time.Millisecond, nil)
	if out.OK() {
		t.Fatal("deadline expiry must not be reported as success")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (timeout consumes the budget)", calls)
	}
}

func TestRetry_ParentCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	ex := Func(func(c context.Context, in Input) Outcome {
		atomic.AddInt32(&calls, 1)
		cancel()
		return Failure("transient")
	})

	out := RetryPolicy{Attempts: 5, InitialBackoff: time.Minute}.Execute(ctx, ex, Input{}, 0, nil)
	if out.OK() {
		t.Fatal("cancelled retry should fail")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancel must short-circuit the backoff)", calls)
	}
}

func TestBackoff_ExponentialWithCap(t *testing.T) {
	p := RetryPolicy{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_JitterStaysInBand(t *testing.T) {
	p := DefaultRetryPolicy()

	for i := 0; i < 100; i++ {
		got := p.Backoff(0)
		lo := time.Duration(float64(p.InitialBackoff) * (1 - p.JitterFrac))
		hi := time.Duration(float64(p.InitialBackoff) * (1 + p.JitterFrac))
		if got < lo || got > hi {
			t.Fatalf("Backoff(0) = %s, want within [%s, %s]", got, lo, hi)
		}
	}
}
