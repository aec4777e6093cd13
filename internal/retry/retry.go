// Package retry runs a unit of work under an exponential backoff policy.
//
// The work function reports what happened through an [Outcome] value rather
// than by returning or panicking: it either succeeded, failed in a way worth
// retrying, failed fatally, or observed cancellation. [Do] turns a sequence of
// outcomes into a single [Result].
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultAttempts is the total number of attempts, first try included.
	DefaultAttempts = 3

	// DefaultInitialDelay is the delay before the second attempt.
	DefaultInitialDelay = 500 * time.Millisecond
)

// Policy configures [Do].
type Policy struct {
	// Attempts is the maximum number of attempts, first try included.
	Attempts int

	// InitialDelay is the wait after the first failed attempt. Each further
	// failure doubles it.
	InitialDelay time.Duration

	// MaxDelay caps a single delay. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:     DefaultAttempts,
		InitialDelay: DefaultInitialDelay,
	}
}

// Validate reports whether the policy can be used.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", p.Attempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("retry initial delay must not be negative, got %s", p.InitialDelay)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("retry max delay must not be negative, got %s", p.MaxDelay)
	}
	return nil
}

// Delay returns the wait after the given failed attempt (1-based):
// InitialDelay * 2^(attempt-1), capped at MaxDelay when set.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.InitialDelay <= 0 {
		return 0
	}
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		// stop doubling before overflow; the cap below still applies
		if d > time.Duration(1<<62)/2 {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Kind classifies an [Outcome] or a [Result].
type Kind int

const (
	// Succeeded means the work completed.
	Succeeded Kind = iota
	// Retryable means the attempt failed and may be tried again.
	Retryable
	// Fatal means the attempt failed and must not be tried again.
	Fatal
	// Exhausted is only used in a [Result]: every attempt failed.
	Exhausted
	// Cancelled means the context was cancelled. It is not a failure.
	Cancelled
)

// String returns a lower-case name for k, suitable for logs and metric labels.
func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	case Exhausted:
		return "exhausted"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is what a single attempt reports.
type Outcome struct {
	Kind Kind
	Err  error
}

// Success reports a completed attempt.
func Success() Outcome { return Outcome{Kind: Succeeded} }

// Retry reports a failed attempt that may be retried.
func Retry(err error) Outcome { return Outcome{Kind: Retryable, Err: err} }

// Stop reports a failed attempt that must not be retried.
func Stop(err error) Outcome { return Outcome{Kind: Fatal, Err: err} }

// Cancel reports that the attempt observed cancellation.
func Cancel(err error) Outcome { return Outcome{Kind: Cancelled, Err: err} }

// Result summarises a call to [Do].
type Result struct {
	// Kind is Succeeded, Fatal, Exhausted or Cancelled.
	Kind Kind
	// Attempts is how many times the work function was called.
	Attempts int
	// Err is the error of the last failed attempt, if any.
	Err error
}

// Func is one attempt. attempt is 1-based.
type Func func(ctx context.Context, attempt int) Outcome

// Do calls fn until it succeeds, fails fatally, is cancelled or the policy's
// attempts are used up. Between attempts it waits [Policy.Delay]; the wait
// ends early, with a Cancelled result, if ctx is cancelled.
func Do(ctx context.Context, p Policy, fn Func) Result {
	return do(ctx, p, fn, wait)
}

// sleeper waits for d or until ctx is done, reporting whether the full delay
// elapsed.
type sleeper func(ctx context.Context, d time.Duration) bool

func do(ctx context.Context, p Policy, fn Func, sleep sleeper) Result {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if !sleep(ctx, p.Delay(attempt-1)) {
				return Result{Kind: Cancelled, Attempts: attempt - 1, Err: errors.Join(lastErr, ctx.Err())}
			}
		}

		out := fn(ctx, attempt)
		switch out.Kind {
		case Succeeded:
			return Result{Kind: Succeeded, Attempts: attempt}
		case Fatal:
			return Result{Kind: Fatal, Attempts: attempt, Err: out.Err}
		case Cancelled:
			return Result{Kind: Cancelled, Attempts: attempt, Err: out.Err}
		default:
			lastErr = out.Err
		}
	}
	return Result{Kind: Exhausted, Attempts: attempts, Err: lastErr}
}

// wait uses time.NewTimer (not time.After) so the timer is released when ctx
// is cancelled first.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
