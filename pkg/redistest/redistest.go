// Package redistest runs throwaway Redis servers for store tests.
package redistest

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.od2.network/queues/pkg/exectest"
)

// Redis is a redis-server subprocess listening on a private Unix socket.
type Redis struct {
	Cmd    *exec.Cmd
	Client *redis.Client

	bg  *exectest.Background
	dir string
}

// Supported reports whether a local redis-server binary is available.
func Supported() bool {
	return exectest.Installed("redis-server")
}

// Time to wait for the server to accept connections.
const startupTimeout = 3 * time.Second

// NewRedis starts an in-memory Redis server and returns a connected client.
// The test is skipped if no Redis server is installed.
func NewRedis(ctx context.Context, t testing.TB) *Redis {
	if !Supported() {
		t.Skip("redistest: redis-server not installed")
	}
	dir, err := os.MkdirTemp("", "redistest-")
	if err != nil {
		t.Fatal("Failed to create temp dir:", err)
	}
	socket := filepath.Join(dir, "redis.sock")
	cmd := exec.CommandContext(ctx, "redis-server",
		"--port", "0",
		"--unixsocket", socket,
		"--unixsocketperm", "700",
		"--save", "",
		"--appendonly", "no",
		"--loglevel", "verbose")
	cmd.Dir = dir
	bg := exectest.NewBackground(t, cmd)
	bg.Name = "redis"
	bg.LogStdout = true
	bg.LogStderr = true
	bg.Start()
	rd := &Redis{
		Cmd:    cmd,
		Client: redis.NewClient(&redis.Options{Network: "unix", Addr: socket}),
		bg:     bg,
		dir:    dir,
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxElapsedTime = startupTimeout
	err = backoff.Retry(func() error {
		select {
		case <-bg.Done():
			return backoff.Permanent(errors.New("redis-server exited"))
		default:
		}
		return rd.Client.Ping(ctx).Err()
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if bgErr := bg.Err(); bgErr != nil {
			err = bgErr
		}
		rd.Close(t)
		t.Fatal("Redis did not come up:", err)
	}
	t.Log("redistest: Redis is up")
	return rd
}

// Flush deletes all keys, giving the next test an empty server.
func (r *Redis) Flush(ctx context.Context, t testing.TB) {
	if err := r.Client.FlushAll(ctx).Err(); err != nil {
		t.Fatal("Failed to flush Redis:", err)
	}
}

// Close shuts down the client and server and removes the socket directory.
func (r *Redis) Close(t testing.TB) {
	_ = r.Client.Close()
	r.bg.Close()
	if err := os.RemoveAll(r.dir); err != nil {
		t.Log("redistest: Failed to remove", r.dir, err)
	}
}
