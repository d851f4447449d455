package stage

import (
	"context"
	"math/rand"
	"time"
)

// Retry defaults: 3 attempts, exponential backoff from 1s capped at 30s,
// ±20% jitter.
const (
	defaultAttempts   = 3
	initialBackoff    = 1 * time.Second
	maxBackoff        = 30 * time.Second
	backoffFactor     = 2
	defaultJitterFrac = 0.2
)

// RetryPolicy bounds how often a transiently failing executor is re-invoked
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFrac     float64
}

// DefaultRetryPolicy returns the standard retry budget
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       defaultAttempts,
		InitialBackoff: initialBackoff,
		MaxBackoff:     maxBackoff,
		JitterFrac:     defaultJitterFrac,
	}
}

// Backoff returns the delay before the given retry attempt (0-based) using
// exponential backoff with jitter
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > p.MaxBackoff {
			delay = p.MaxBackoff
			break
		}
	}
	if p.JitterFrac > 0 {
		jitter := (rand.Float64()*2 - 1) * p.JitterFrac
		delay = time.Duration(float64(delay) * (1 + jitter))
	}
	return delay
}

// Logf receives retry progress messages for attachment to entity logs
type Logf func(format string, args ...interface{})

// Execute invokes an executor under the retry policy. Each attempt runs
// with its own timeout; timeout expiry is treated the same as an
// executor-reported failure and counts against the budget. Parent ctx
// cancellation stops retrying immediately.
func (p RetryPolicy) Execute(ctx context.Context, ex Executor, in Input, timeout time.Duration, logf Logf) Outcome {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var out Outcome
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Failure("aborted: " + err.Error())
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		out = ex.Execute(attemptCtx, in)
		if cancel != nil {
			if attemptCtx.Err() == context.DeadlineExceeded && out.OK() {
				// Executor ignored the deadline; the engine does not.
				out = Failure("timed out after " + timeout.String())
			}
			cancel()
		}

		if out.OK() {
			return out
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		if logf != nil {
			logf("attempt %d/%d failed (%s), retrying in %s", attempt+1, attempts, out.Error, delay.Round(time.Millisecond))
		}
		select {
		case <-ctx.Done():
			return Failure("aborted: " + ctx.Err().Error())
		case <-time.After(delay):
		}
	}

	if logf != nil {
		logf("retry budget exhausted after %d attempts: %s", attempts, out.Error)
	}
	return out
}
