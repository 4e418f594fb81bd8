// Package appctx provides the process-wide context canceled on shutdown signals.
package appctx

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
)

// Context returns the application context.
// It is canceled on SIGINT or SIGTERM, or when Cancel is called.
// All calls return the same context.
func Context() context.Context {
	once.Do(func() {
		ctx, cancel = context.WithCancel(context.Background())
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		go func() {
			defer signal.Stop(c)
			select {
			case <-c:
				cancel()
			case <-ctx.Done():
			}
		}()
	})
	return ctx
}

// Cancel cancels the application context.
func Cancel() {
	Context()
	cancel()
}
