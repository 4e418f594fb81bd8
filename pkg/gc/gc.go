// Package gc periodically removes bookkeeping of expired claims.
//
// Expired claims never hold messages: readers compare claim expiry timestamps.
// Running the worker only reclaims space.
package gc

import (
	"context"
	"fmt"
	"time"

	"go.od2.network/queues/pkg/ratelimit"
	"go.od2.network/queues/pkg/storage"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Worker runs claim GC over all queues of all tenants.
// It is safe to run multiple instances on the same store.
type Worker struct {
	// Required components
	Log    *zap.Logger
	Queues storage.QueueStore
	Claims storage.ClaimStore
	// Required config
	Interval time.Duration // time to sleep between passes
	// Optional config
	Limiter *ratelimit.Limiter // paces GC calls across queues

	metrics *Metrics
}

// Metrics holds the OpenTelemetry instruments of the worker.
type Metrics struct {
	runs    metric.Int64Counter
	removed metric.Int64Counter
	errors  metric.Int64Counter
}

// NewMetrics creates the worker instruments.
func NewMetrics(m metric.Meter) (*Metrics, error) {
	runs, err := m.NewInt64Counter("gc_runs",
		metric.WithDescription("Completed claim GC passes"))
	if err != nil {
		return nil, err
	}
	removed, err := m.NewInt64Counter("gc_claims_removed",
		metric.WithDescription("Expired claims removed by GC"))
	if err != nil {
		return nil, err
	}
	errors, err := m.NewInt64Counter("gc_errors",
		metric.WithDescription("Queues that failed GC"))
	if err != nil {
		return nil, err
	}
	return &Metrics{runs: runs, removed: removed, errors: errors}, nil
}

// NewWorker creates a GC worker reporting to the given meter.
func NewWorker(log *zap.Logger, driver storage.Driver, interval time.Duration, meter metric.Meter) (*Worker, error) {
	metrics, err := NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create GC metrics: %w", err)
	}
	return &Worker{
		Log:      log,
		Queues:   driver.Queues(),
		Claims:   driver.Claims(),
		Interval: interval,
		metrics:  metrics,
	}, nil
}

// Run runs GC passes until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		if _, err := w.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Log.Error("GC pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step runs one GC pass over all queues and returns the number of removed claims.
// A failing queue is logged and skipped.
func (w *Worker) Step(ctx context.Context) (int64, error) {
	refs, err := w.Queues.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list queues: %w", err)
	}
	var total int64
	var failed int
	for _, ref := range refs {
		if err := w.Limiter.Wait(ctx, 1); err != nil {
			return total, err
		}
		removed, err := w.Claims.GC(ctx, ref.Name, ref.Tenant)
		if err != nil {
			failed++
			w.Log.Warn("Failed to GC queue",
				zap.Stringer("queue", ref),
				zap.Error(err))
			continue
		}
		total += removed
	}
	if w.metrics != nil {
		w.metrics.runs.Add(ctx, 1)
		w.metrics.removed.Add(ctx, total)
		w.metrics.errors.Add(ctx, int64(failed))
	}
	w.Log.Debug("GC pass done",
		zap.Int("gc.queues", len(refs)),
		zap.Int("gc.failed", failed),
		zap.Int64("gc.removed", total))
	return total, nil
}
