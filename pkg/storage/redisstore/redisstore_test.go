package redisstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.od2.network/queues/pkg/redistest"
	"go.od2.network/queues/pkg/storage"
	"go.od2.network/queues/pkg/storage/storagetest"
	"go.uber.org/zap/zaptest"
)

func TestStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	storagetest.Run(t, func(t *testing.T, clock storage.Clock) storage.Driver {
		rd.Flush(ctx, t)
		d, err := New(ctx, rd.Client, Options{
			Log:     zaptest.NewLogger(t),
			Clock:   clock,
			Metrics: storage.NewMetrics(metrics.NewRegistry()),
			Prefix:  "test:",
		})
		require.NoError(t, err)
		return d
	})
}

func TestClaim_StaleIndexEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	clock := storagetest.NewClock()
	d, err := New(ctx, rd.Client, Options{Log: zaptest.NewLogger(t), Clock: clock.Now})
	require.NoError(t, err)

	_, err = d.Queues().Upsert(ctx, "jobs", nil, "tenant")
	require.NoError(t, err)
	ids, err := d.Messages().Post(ctx, "jobs", []storage.NewMessage{{TTL: 60, Body: []byte(`1`)}}, "tenant", "producer")
	require.NoError(t, err)
	claimID, _, err := d.Claims().Create(ctx, "jobs", "tenant", storage.ClaimOptions{TTL: 30}, 1)
	require.NoError(t, err)

	// The claim hash vanishes before the index entry, as after native expiry.
	require.NoError(t, rd.Client.Del(ctx, d.Keys.Claim(claimID)).Err())
	_, _, err = d.Claims().Get(ctx, "jobs", claimID, "tenant")
	assert.ErrorIs(t, err, storage.ErrClaimNotFound)
	_, err = rd.Client.ZScore(ctx, d.Keys.Claims("tenant", "jobs"), claimID).Result()
	assert.ErrorIs(t, err, redis.Nil, "index entry evicted by reader")

	// Messages stay held until the claim expiry recorded on them.
	msgs, err := d.Messages().List(ctx, "jobs", "tenant", storage.ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, msgs)
	// Deleting a message of a vanished claim does not recreate the claim hash.
	require.NoError(t, d.Messages().Delete(ctx, "jobs", ids[0], "tenant", claimID))
	n, err := rd.Client.Exists(ctx, d.Keys.Claim(claimID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestClaim_SkipsVanishedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	d, err := New(ctx, rd.Client, Options{Log: zaptest.NewLogger(t)})
	require.NoError(t, err)

	_, err = d.Queues().Upsert(ctx, "jobs", nil, "tenant")
	require.NoError(t, err)
	ids, err := d.Messages().Post(ctx, "jobs", []storage.NewMessage{
		{TTL: 60, Body: []byte(`1`)},
		{TTL: 60, Body: []byte(`2`)},
	}, "tenant", "producer")
	require.NoError(t, err)
	// Simulate native expiry of the first message hash.
	require.NoError(t, rd.Client.Del(ctx, d.Keys.Message(firstMessageID)).Err())
	_, err = d.Messages().Get(ctx, "jobs", ids[0], "tenant")
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)

	_, claimed, err := d.Claims().Create(ctx, "jobs", "tenant", storage.ClaimOptions{TTL: 30}, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, ids[1], claimed[0].ID)
	card, err := rd.Client.ZCard(ctx, d.Keys.MessageSet("tenant", "jobs")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), card, "vanished ID dropped from the index")
}

func TestKeys(t *testing.T) {
	keys := NewKeys("p:")
	assert.Equal(t, "p:queues_v0\x00Q\x00tenant\x00jobs", keys.Queue("tenant", "jobs"))
	assert.Equal(t, keys.MessagePrefix()+"1001", keys.Message(1001))
	assert.Equal(t, keys.ClaimPrefix()+"abc", keys.Claim("abc"))
	assert.Equal(t, keys.ClaimMessagesPrefix()+"abc", keys.ClaimMessages("abc"))
	assert.NotEqual(t, keys.Claim("abc"), keys.ClaimMessages("abc"))
	assert.NotEqual(t, keys.MessageSet("tenant", "jobs"), keys.Claims("tenant", "jobs"))
}

func TestParseMessageState(t *testing.T) {
	vals := []interface{}{"t\x00q", "60", "1060", "1000", `"body"`, "client", nil, nil}
	st, err := parseMessageState(1001, vals)
	require.NoError(t, err)
	assert.Equal(t, int64(1060), st.expires)
	assert.True(t, st.visible(1059))
	assert.False(t, st.visible(1060))

	st.claimID, st.claimExpires = "claim", 1030
	assert.False(t, st.visible(1029))
	assert.True(t, st.visible(1030), "claim expiry releases the message")

	missing, err := parseMessageState(1001, make([]interface{}, len(messageFields)))
	require.NoError(t, err)
	assert.Nil(t, missing)

	vals[1] = "sixty"
	_, err = parseMessageState(1001, vals)
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(redis.ErrClosed))
	assert.True(t, IsTransient(fmt.Errorf("read: %w", io.EOF)))
	assert.True(t, IsTransient(errors.New("LOADING Redis is loading the dataset in memory")))
	assert.False(t, IsTransient(redis.Nil))
	assert.False(t, IsTransient(errors.New("ERR unknown command")))
	assert.False(t, IsTransient(nil))
}

func TestClaimMessages_Repeated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	clock := storagetest.NewClock()
	d, err := New(ctx, rd.Client, Options{Log: zaptest.NewLogger(t), Clock: clock.Now})
	require.NoError(t, err)

	_, err = d.Queues().Upsert(ctx, "jobs", nil, "tenant")
	require.NoError(t, err)
	batch := make([]storage.NewMessage, 4)
	for i := range batch {
		batch[i] = storage.NewMessage{TTL: 60, Body: []byte(`{}`)}
	}
	_, err = d.Messages().Post(ctx, "jobs", batch, "tenant", "producer")
	require.NoError(t, err)

	// A retried EVALSHA whose first reply got lost runs the script twice.
	const claimID = "9m4e2mr0ui3e8a215n4g"
	times := storage.ClaimOptions{TTL: 30, Grace: 10}.Times(clock.Now())
	run := func() []string {
		res, err := d.claimMessages.Run(ctx, rd.Client,
			[]string{d.Keys.MessageSet("tenant", "jobs"), d.Keys.ClaimMessages(claimID)},
			times.Now, 2, claimID, times.ClaimExpires, times.MsgExpires, d.Keys.MessagePrefix(),
		).Result()
		require.NoError(t, err)
		ids, err := stringSlice(res)
		require.NoError(t, err)
		return ids
	}
	first := run()
	require.Len(t, first, 2)
	assert.Equal(t, first, run(), "second run returns the recorded batch")

	msgs, err := d.Messages().List(ctx, "jobs", "tenant", storage.ListOptions{Limit: 10, Echo: true})
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "only one batch is held")
}
