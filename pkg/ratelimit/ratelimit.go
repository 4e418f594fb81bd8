// Package ratelimit paces background store scans.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// Limiter is a best-effort, lock-free sliding window rate limiter.
//
// It keeps one counter for the current window and one for the previous window,
// and estimates the rate by weighting the previous window by its overlap with
// a window ending now.
type Limiter struct {
	Target float32 // events per second
	Window uint    // window size in seconds

	epoch  int64 // index of the current window
	w0, w1 int64 // previous and current window counts
}

// New creates a limiter allowing target events per second averaged over window seconds.
func New(target float32, window uint) *Limiter {
	if window == 0 {
		window = 1
	}
	return &Limiter{
		Target: target,
		Window: window,
	}
}

// Count registers n events at unix time and returns the delay needed to get back under the target.
// Safe for concurrent use.
func (r *Limiter) Count(unix int64, n int64) time.Duration {
	epoch := unix / int64(r.Window)
	shifted := false
	var w0, w1 int64
	for {
		saved := atomic.LoadInt64(&r.epoch)
		if saved >= epoch {
			break
		}
		shifted = true
		if !atomic.CompareAndSwapInt64(&r.epoch, saved, epoch) {
			continue
		}
		if saved+1 == epoch {
			w1 = n
			w0 = atomic.SwapInt64(&r.w1, w1)
			atomic.StoreInt64(&r.w0, w0)
		} else {
			// Idle for more than one window.
			w0, w1 = 0, n
			atomic.StoreInt64(&r.w0, 0)
			atomic.StoreInt64(&r.w1, n)
		}
		break
	}
	if !shifted {
		w1 = atomic.AddInt64(&r.w1, n)
		w0 = atomic.LoadInt64(&r.w0)
	}
	overlap := 1.0 - float32(unix%int64(r.Window))/float32(r.Window)
	usage := overlap*float32(w0) + float32(w1)
	rate := usage / float32(r.Window)
	if rate <= r.Target {
		return 0
	}
	delay := float32(r.Window) * (rate - r.Target) / r.Target
	return time.Duration(delay * float32(time.Second))
}

// Wait registers n events now and sleeps until the rate is back under the target.
// A nil limiter never waits.
func (r *Limiter) Wait(ctx context.Context, n int64) error {
	if r == nil || r.Target <= 0 {
		return ctx.Err()
	}
	delay := r.Count(time.Now().Unix(), n)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
