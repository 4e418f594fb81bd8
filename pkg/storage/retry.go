package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Retrier retries operations that fail with transient connectivity errors.
type Retrier struct {
	Log         *zap.Logger
	Attempts    uint64        // total attempts, including the first
	Backoff     time.Duration // wait between attempts
	IsTransient func(error) bool
	// IsConflict matches engine errors that abort an operation without losing the connection,
	// like deadlocks. They are retried too, but returned unchanged once attempts run out.
	IsConflict func(error) bool
}

// Default retry settings.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 100 * time.Millisecond
)

// Do runs op until it succeeds, fails with a non-transient error, or attempts are exhausted.
// Exhausting attempts on connectivity errors returns an error wrapping ErrConnectivity.
func (r *Retrier) Do(ctx context.Context, name string, op func() error) error {
	attempts := r.Attempts
	if attempts == 0 {
		attempts = DefaultRetryAttempts
	}
	var transient bool
	operation := func() error {
		err := op()
		if err == nil {
			return nil
		}
		transient = r.IsTransient != nil && r.IsTransient(err)
		if !transient && (r.IsConflict == nil || !r.IsConflict(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(r.Backoff)
	b = backoff.WithMaxRetries(b, attempts-1)
	b = backoff.WithContext(b, ctx)
	notify := func(err error, wait time.Duration) {
		if r.Log != nil {
			r.Log.Warn("Storage operation failed, retrying",
				zap.String("storage.op", name),
				zap.Duration("storage.retry_in", wait),
				zap.Error(err))
		}
	}
	err := backoff.RetryNotify(operation, b, notify)
	if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
		return ctxErr
	}
	if err != nil && transient {
		return fmt.Errorf("%w: %s: %v", ErrConnectivity, name, err)
	}
	return err
}
