// Package retry wraps a network call in bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Policy configures Do. MaxAttempts counts the first call, so 1 means no
// retry at all.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error is worth another attempt. When nil,
	// Transient is used.
	Retryable func(error) bool
}

// Once is a policy that never retries.
var Once = Policy{MaxAttempts: 1}

// Delay returns the wait before attempt n (1-based, n >= 2).
func (p Policy) Delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 2; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = Transient
	}

	var err error
	for n := 1; n <= attempts; n++ {
		if n > 1 {
			t := time.NewTimer(p.Delay(n))
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(err, ctx.Err())
			case <-t.C:
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}

// Transient reports errors that a later attempt may not hit: transport
// failures, rate limiting and 5xx responses.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrTransport) || errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	var tmp interface{ Temporary() bool }
	return errors.As(err, &tmp) && tmp.Temporary()
}
