package sqlstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.od2.network/queues/pkg/mariadbtest"
	"go.od2.network/queues/pkg/storage"
	"go.od2.network/queues/pkg/storage/storagetest"
	"go.uber.org/zap/zaptest"
)

func TestStore(t *testing.T) {
	backend := mariadbtest.Default(t)
	defer backend.Close(t)
	storagetest.Run(t, func(t *testing.T, clock storage.Clock) storage.Driver {
		db := mariadbtest.NewDatabase(t, backend)
		d, err := New(db, Options{
			Log:      zaptest.NewLogger(t),
			Clock:    clock,
			Metrics:  storage.NewMetrics(metrics.NewRegistry()),
			CacheTTL: time.Minute,
		})
		require.NoError(t, err)
		require.NoError(t, d.CreateTables(context.Background()))
		t.Cleanup(func() {
			assert.NoError(t, d.Close())
		})
		return d
	})
}

func TestCreateTables_Idempotent(t *testing.T) {
	backend := mariadbtest.Default(t)
	defer backend.Close(t)
	db := mariadbtest.NewDatabase(t, backend)
	d, err := New(db, Options{Log: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer d.Close()
	ctx := context.Background()
	require.NoError(t, d.CreateTables(ctx))
	require.NoError(t, d.CreateTables(ctx))
	var rows int
	require.NoError(t, db.Get(&rows, "SELECT COUNT(*) FROM message_seq;"))
	assert.Equal(t, 1, rows)
}

func TestDriver_Metrics(t *testing.T) {
	backend := mariadbtest.Default(t)
	defer backend.Close(t)
	registry := metrics.NewRegistry()
	d, err := New(mariadbtest.NewDatabase(t, backend), Options{
		Log:     zaptest.NewLogger(t),
		Metrics: storage.NewMetrics(registry),
	})
	require.NoError(t, err)
	defer d.Close()
	ctx := context.Background()
	require.NoError(t, d.CreateTables(ctx))
	_, err = d.Queues().Upsert(ctx, "jobs", nil, "tenant")
	require.NoError(t, err)
	_, err = d.Messages().Post(ctx, "jobs", []storage.NewMessage{{TTL: 60}, {TTL: 60}}, "tenant", "client")
	require.NoError(t, err)
	claimID, msgs, err := d.Claims().Create(ctx, "jobs", "tenant", storage.ClaimOptions{TTL: 30}, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, d.Claims().Delete(ctx, "jobs", claimID, "tenant"))
	require.NoError(t, d.Claims().Delete(ctx, "jobs", claimID, "tenant"))

	assert.Equal(t, int64(2), d.Metrics.MessagesPosted.Count())
	assert.Equal(t, int64(1), d.Metrics.ClaimsCreated.Count())
	assert.Equal(t, int64(1), d.Metrics.MessagesClaimed.Count())
	assert.Equal(t, int64(1), d.Metrics.ClaimsReleased.Count(), "second release is a no-op")
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(driver.ErrBadConn))
	assert.True(t, IsTransient(fmt.Errorf("query: %w", mysql.ErrInvalidConn)))
	assert.True(t, IsTransient(timeoutError{}))
	assert.False(t, IsTransient(&mysql.MySQLError{Number: erLockDeadlock, Message: "Deadlock found"}))
	assert.False(t, IsTransient(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	assert.False(t, IsTransient(storage.ErrQueueNotFound))
	assert.False(t, IsTransient(errors.New("syntax error")))
}

func TestIsConflict(t *testing.T) {
	deadlock := &mysql.MySQLError{Number: erLockDeadlock, Message: "Deadlock found"}
	assert.True(t, IsConflict(deadlock))
	assert.True(t, IsConflict(fmt.Errorf("claim: %w", deadlock)))
	assert.False(t, IsConflict(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	assert.False(t, IsConflict(driver.ErrBadConn))
}

func TestRetrier_DeadlockExhausted(t *testing.T) {
	d, err := New(nil, Options{Log: zaptest.NewLogger(t), Attempts: 2, Backoff: time.Millisecond})
	require.NoError(t, err)
	deadlock := &mysql.MySQLError{Number: erLockDeadlock, Message: "Deadlock found"}
	calls := 0
	err = d.Do(context.Background(), "test", func() error {
		calls++
		return deadlock
	})
	assert.Equal(t, 2, calls)
	var myErr *mysql.MySQLError
	require.ErrorAs(t, err, &myErr)
	assert.Equal(t, uint16(erLockDeadlock), myErr.Number)
	assert.NotErrorIs(t, err, storage.ErrConnectivity)
}

func TestList_QueueRecreatedElsewhere(t *testing.T) {
	backend := mariadbtest.Default(t)
	defer backend.Close(t)
	db := mariadbtest.NewDatabase(t, backend)
	defer db.Close()
	ctx := context.Background()
	// Two processes sharing one database, the first caching queue IDs.
	a, err := New(db, Options{Log: zaptest.NewLogger(t).Named("a"), CacheTTL: time.Hour})
	require.NoError(t, err)
	b, err := New(db, Options{Log: zaptest.NewLogger(t).Named("b")})
	require.NoError(t, err)
	require.NoError(t, a.CreateTables(ctx))

	_, err = a.Queues().Upsert(ctx, "jobs", nil, "tenant")
	require.NoError(t, err)
	msgs, err := a.Messages().List(ctx, "jobs", "tenant", storage.ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, msgs, "caches the queue ID")

	require.NoError(t, b.Queues().Delete(ctx, "jobs", "tenant"))
	_, err = a.Messages().List(ctx, "jobs", "tenant", storage.ListOptions{Limit: 10})
	assert.ErrorIs(t, err, storage.ErrQueueNotFound, "deleted queue is not reported as empty")

	_, err = b.Queues().Upsert(ctx, "jobs", nil, "tenant")
	require.NoError(t, err)
	// Prime the stale ID again through a, then recreate through b.
	_, err = a.Messages().List(ctx, "jobs", "tenant", storage.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.NoError(t, b.Queues().Delete(ctx, "jobs", "tenant"))
	_, err = b.Queues().Upsert(ctx, "jobs", nil, "tenant")
	require.NoError(t, err)
	ids, err := b.Messages().Post(ctx, "jobs", []storage.NewMessage{{TTL: 60, Body: []byte(`1`)}}, "tenant", "producer")
	require.NoError(t, err)

	msgs, err = a.Messages().List(ctx, "jobs", "tenant", storage.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1, "recreated queue is listed")
	assert.Equal(t, ids[0], msgs[0].ID)
}

func TestTxMode(t *testing.T) {
	assert.True(t, Deferred.options().ReadOnly)
	assert.False(t, Immediate.options().ReadOnly)
}
