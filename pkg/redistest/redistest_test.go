package redistest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.TODO())
	defer cancel()
	rd := NewRedis(ctx, t)
	defer rd.Close(t)
	assert.NoError(t, rd.Client.Ping(ctx).Err())
	t.Log("Ping success")
	require.NoError(t, rd.Client.Set(ctx, "queue", "1", 0).Err())
	rd.Flush(ctx, t)
	n, err := rd.Client.Exists(ctx, "queue").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
