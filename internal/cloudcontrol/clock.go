package cloudcontrol

import (
	"context"
	"time"
)

// Clock abstracts time for the polling loops so tests can drive them
// with a fake clock instead of sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until the context is done, returning the
	// context's error in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the wall clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// Sleep waits for d or context cancellation.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll invokes fn every interval until it reports done, fn fails, the
// context is cancelled, or timeout elapses. On timeout it returns
// ErrTimedOut: the remote operation is still pending and may be
// re-attached by a later run. fn runs once immediately.
func Poll(ctx context.Context, clock Clock, interval, timeout time.Duration, fn func(ctx context.Context) (bool, error)) error {
	deadline := clock.Now().Add(timeout)
	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !clock.Now().Add(interval).Before(deadline) {
			return ErrTimedOut
		}
		if err := clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}
