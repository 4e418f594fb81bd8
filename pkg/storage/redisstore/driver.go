// Package redisstore implements the queue storage contracts on Redis.
//
// Every message is a hash with native expiry, indexed per queue in a sorted set scored by ID.
// Claims are recorded on the messages themselves (claim ID and claim expiry fields),
// so visibility is computed from message state alone.
// Operations that must observe and change state atomically run as Lua scripts,
// which Redis executes without interleaving other commands.
// Claim hashes, claim message lists and the per-queue claim index are bookkeeping
// for renew and release; stale entries are tolerated and removed lazily.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.od2.network/queues/pkg/storage"
	"go.uber.org/zap"
)

// Options configures a Driver.
type Options struct {
	Log        *zap.Logger
	Clock      storage.Clock
	Metrics    *storage.Metrics
	Prefix     string        // key prefix
	Attempts   uint64        // connectivity retries
	Backoff    time.Duration // wait between retries
	PurgeBatch int           // max messages inspected per purge on post
}

// Default number of messages inspected by the purge on post.
const DefaultPurgeBatch = 1000

// Driver is the Redis storage backend.
type Driver struct {
	Redis   *redis.Client
	Keys    Keys
	Log     *zap.Logger
	Clock   storage.Clock
	Metrics *storage.Metrics
	Retrier *storage.Retrier

	purgeBatch int

	*Scripts
}

// Assert Driver implements storage.Driver.
var _ storage.Driver = (*Driver)(nil)

// New creates a Redis storage backend and pre-loads its scripts.
func New(ctx context.Context, rd *redis.Client, opts Options) (*Driver, error) {
	d := &Driver{
		Redis:      rd,
		Keys:       NewKeys(opts.Prefix),
		Log:        opts.Log,
		Clock:      opts.Clock,
		Metrics:    opts.Metrics,
		purgeBatch: opts.PurgeBatch,
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Metrics == nil {
		d.Metrics = storage.NewMetrics(nil)
	}
	if d.purgeBatch <= 0 {
		d.purgeBatch = DefaultPurgeBatch
	}
	backoff := opts.Backoff
	if backoff == 0 {
		backoff = storage.DefaultRetryBackoff
	}
	d.Retrier = &storage.Retrier{
		Log:         d.Log,
		Attempts:    opts.Attempts,
		Backoff:     backoff,
		IsTransient: IsTransient,
	}
	err := d.Retrier.Do(ctx, "scripts.load", func() error {
		var err error
		d.Scripts, err = LoadScripts(ctx, rd)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load scripts: %w", err)
	}
	return d, nil
}

// Queues returns the queue store.
func (d *Driver) Queues() storage.QueueStore {
	return &QueueStore{d}
}

// Messages returns the message store.
func (d *Driver) Messages() storage.MessageStore {
	return &MessageStore{d}
}

// Claims returns the claim store.
func (d *Driver) Claims() storage.ClaimStore {
	return &ClaimStore{d}
}

// Close closes the client.
func (d *Driver) Close() error {
	return d.Redis.Close()
}

func (d *Driver) now() int64 {
	return d.Clock().Unix()
}

// Do runs fn, retrying on connectivity errors.
func (d *Driver) Do(ctx context.Context, name string, fn func() error) error {
	return d.Retrier.Do(ctx, name, fn)
}

// IsTransient reports whether an error is a connectivity failure worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, prefix := range []string{"LOADING ", "TRYAGAIN ", "CLUSTERDOWN ", "MASTERDOWN "} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// queueExists checks for the metadata hash of a queue.
func (d *Driver) queueExists(ctx context.Context, name, tenant string) error {
	var n int64
	err := d.Do(ctx, "queues.exists", func() error {
		var err error
		n, err = d.Redis.Exists(ctx, d.Keys.Queue(tenant, name)).Result()
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.QueueNotFound(name, tenant)
	}
	return nil
}

// ttlSeconds converts an absolute unix expiry into a key TTL relative to now.
// Keys expire relative to the server clock, so only durations are passed to Redis.
func ttlSeconds(expires, now int64) time.Duration {
	secs := expires - now
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
