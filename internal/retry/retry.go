// internal/retry/retry.go
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy is a bounded retry: Attempts calls in total, Delay between them.
// No backoff growth.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the inner error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts
// are exhausted, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func() error) error {
	return DoNotify(ctx, p, fn, nil)
}

// DoNotify is Do with a hook invoked before every attempt after the first.
func DoNotify(ctx context.Context, p Policy, fn func() error, onRetry func(attempt int, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if onRetry != nil {
				onRetry(i, err)
			}
			if serr := Sleep(ctx, p.Delay); serr != nil {
				return serr
			}
		} else if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		err = fn()
		if err == nil {
			return nil
		}

		var perm *permanent
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return err
}

// Sleep waits for d or until ctx is done, whichever comes first.
// Non-positive d returns immediately with ctx.Err().
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
