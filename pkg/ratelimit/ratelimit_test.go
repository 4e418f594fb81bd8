package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_Count(t *testing.T) {
	rl := New(1.0, 5)
	steps := []struct {
		unix  int64
		n     int64
		delay time.Duration
	}{
		{1000, 5, 0},
		{1000, 5, 5 * time.Second},
		{1003, 0, 5 * time.Second},
		{1005, 0, 5 * time.Second}, // previous window fully overlaps
		{1007, 0, 1 * time.Second},
		{1009, 0, 0},
		{1020, 3, 0}, // idle windows reset
	}
	for _, step := range steps {
		assert.InDelta(t, step.delay.Seconds(), rl.Count(step.unix, step.n).Seconds(), 0.01,
			"unix=%d n=%d", step.unix, step.n)
	}
}

func TestLimiter_Target(t *testing.T) {
	rl := New(2.0, 1)
	assert.InDelta(t, 1.0, rl.Count(100, 4).Seconds(), 0.01)
}

func TestLimiter_Wait(t *testing.T) {
	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Wait(context.Background(), 100))

	rl := New(1.0, 60)
	assert.NoError(t, rl.Wait(context.Background(), 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rl.Wait(ctx, 1000), context.Canceled)
}
