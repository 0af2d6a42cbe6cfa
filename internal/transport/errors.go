package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxThrottleWait caps a retry hint when the caller passes no limit.
const DefaultMaxThrottleWait = 30 * time.Second

var (
	ErrThrottled       = errors.New("delivery throttled")
	ErrForbidden       = errors.New("delivery forbidden")
	ErrMessageNotFound = errors.New("message not found")
)

// ThrottledError carries the platform's retry hint (HTTP 429, Telegram flood wait).
//
// errors.Is(err, ErrThrottled) matches it.
type ThrottledError struct {
	RetryAfter time.Duration
	Err        error
}

// Throttled wraps err with a retry hint. Negative hints are clamped to zero.
func Throttled(err error, after time.Duration) error {
	if after < 0 {
		after = 0
	}
	return &ThrottledError{RetryAfter: after, Err: err}
}

func (e *ThrottledError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("throttled (retry after %s)", e.RetryAfter)
	}
	return fmt.Sprintf("throttled (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *ThrottledError) Unwrap() error { return e.Err }

func (e *ThrottledError) Is(target error) bool { return target == ErrThrottled }

// RetryAfter reports the retry hint carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te.RetryAfter, true
	}
	return 0, false
}

// RetryOnce calls fn and, when the platform throttles, sleeps for the hint
// (capped at maxWait) and calls it exactly once more. The second error is
// returned as is. maxWait <= 0 uses DefaultMaxThrottleWait.
func RetryOnce(ctx context.Context, maxWait time.Duration, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	wait, ok := RetryAfter(err)
	if !ok {
		return err
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxThrottleWait
	}
	t := time.NewTimer(min(wait, maxWait))
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
	}
	return fn(ctx)
}

// Forbidden marks err as a permanent recipient failure (blocked bot, DMs closed).
func Forbidden(err error) error {
	if err == nil {
		return ErrForbidden
	}
	return fmt.Errorf("%w: %v", ErrForbidden, err)
}

// NotFound marks err as a missing target message.
func NotFound(err error) error {
	if err == nil {
		return ErrMessageNotFound
	}
	return fmt.Errorf("%w: %v", ErrMessageNotFound, err)
}
