// Package retry runs remote calls with a bounded number of attempts and exponential
// backoff between them.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// Policy bounds how often and how patiently a call is retried.
type Policy struct {
	Attempts int           // Total attempts including the first; values below 1 mean 1
	Initial  time.Duration // First pause
	Max      time.Duration // Upper bound of any pause
}

// DefaultPolicy returns the policy used when the configuration leaves retry unset.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 4,
		Initial:  500 * time.Millisecond,
		Max:      8 * time.Second,
	}
}

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// Do calls fn until it succeeds, returns a permanent error, the attempts run out or ctx
// is done. The last error is returned unwrapped from any Permanent marker.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	bo := gax.Backoff{
		Initial:    p.Initial,
		Max:        p.Max,
		Multiplier: 2,
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		var perm *permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil || i == attempts-1 {
			break
		}
		if sleepErr := gax.Sleep(ctx, bo.Pause()); sleepErr != nil {
			break
		}
	}
	return err
}
