package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	errFlaky    = errors.New("connection reset")
	errDeadlock = errors.New("deadlock found")
)

func testRetrier(t *testing.T) *Retrier {
	return &Retrier{
		Log:         zaptest.NewLogger(t),
		Attempts:    3,
		IsTransient: func(err error) bool { return errors.Is(err, errFlaky) },
		IsConflict:  func(err error) bool { return errors.Is(err, errDeadlock) },
	}
}

func TestRetrierRecovers(t *testing.T) {
	r := testRetrier(t)
	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierExhausted(t *testing.T) {
	r := testRetrier(t)
	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.Equal(t, 3, calls)
}

func TestRetrierPermanent(t *testing.T) {
	r := testRetrier(t)
	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		return ErrClaimNotFound
	})
	assert.ErrorIs(t, err, ErrClaimNotFound)
	assert.NotErrorIs(t, err, ErrConnectivity)
	assert.Equal(t, 1, calls)
}

func TestRetrierCanceled(t *testing.T) {
	r := testRetrier(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Do(ctx, "test", func() error {
		return errFlaky
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrierConflict(t *testing.T) {
	r := testRetrier(t)
	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		if calls < 2 {
			return errDeadlock
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = r.Do(context.Background(), "test", func() error {
		calls++
		return errDeadlock
	})
	assert.Equal(t, errDeadlock, err, "conflicts are not reported as connectivity loss")
	assert.Equal(t, 3, calls)
}
