package gc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.od2.network/queues/pkg/ratelimit"
	"go.od2.network/queues/pkg/storage"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap/zaptest"
)

type fakeQueues struct {
	storage.QueueStore
	refs []storage.QueueRef
}

func (f *fakeQueues) ListAll(context.Context) ([]storage.QueueRef, error) {
	return f.refs, nil
}

type fakeClaims struct {
	storage.ClaimStore
	mu      sync.Mutex
	removed map[string]int64
	failing string
	calls   int
}

func (f *fakeClaims) GC(_ context.Context, queue, tenant string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if queue == f.failing {
		return 0, errors.New("backend down")
	}
	return f.removed[tenant+"/"+queue], nil
}

func newTestWorker(t *testing.T, claims *fakeClaims) *Worker {
	metrics, err := NewMetrics(metric.Meter{})
	require.NoError(t, err)
	return &Worker{
		Log: zaptest.NewLogger(t),
		Queues: &fakeQueues{refs: []storage.QueueRef{
			{Tenant: "a", Name: "jobs"},
			{Tenant: "a", Name: "broken"},
			{Tenant: "b", Name: "jobs"},
		}},
		Claims:   claims,
		Interval: 10 * time.Millisecond,
		metrics:  metrics,
	}
}

func TestWorker_Step(t *testing.T) {
	claims := &fakeClaims{
		removed: map[string]int64{"a/jobs": 2, "b/jobs": 3},
		failing: "broken",
	}
	w := newTestWorker(t, claims)
	removed, err := w.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), removed, "failing queue is skipped")
	assert.Equal(t, 3, claims.calls)
}

func TestWorker_Run(t *testing.T) {
	claims := &fakeClaims{removed: map[string]int64{}}
	w := newTestWorker(t, claims)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, w.Run(ctx))
	claims.mu.Lock()
	defer claims.mu.Unlock()
	assert.GreaterOrEqual(t, claims.calls, 6, "several passes")
}

func TestWorker_StepPaced(t *testing.T) {
	claims := &fakeClaims{removed: map[string]int64{"a/jobs": 1}}
	w := newTestWorker(t, claims)
	w.Limiter = ratelimit.New(1000, 1)
	removed, err := w.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
