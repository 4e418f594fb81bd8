// Package storage defines the backend-agnostic contracts of the queue storage core.
//
// Queues
//
// A queue is identified by (tenant, name) and carries opaque JSON metadata.
// Deleting a queue deletes all of its messages and claims.
//
// Messages
//
// Messages are posted in batches and receive monotonically increasing sequence numbers,
// exposed to clients only as opaque tokens (see package opaque).
// A message is visible, i.e. eligible for listing and claiming,
// iff it has not expired and it is not held by a live claim.
// Visibility is always derived from timestamps, never from the presence of claim records.
//
// Claims
//
// A claim reserves up to N visible messages for one consumer until it expires.
// No two concurrent claims ever hold the same message.
// Claims extend the expiry of their messages by a grace period,
// so messages do not vanish while being processed.
// Claim records that outlive their expiry are garbage, removed lazily by readers or by GC.
//
// Backends
//
// sqlstore implements the contracts on MariaDB using locking transactions.
// redisstore implements them on Redis using Lua server-side scripts and pipelines.
package storage

import (
	"context"
	"encoding/json"
)

// QueueStore manages queue registration.
type QueueStore interface {
	// List returns all queues of a tenant ordered by name.
	List(ctx context.Context, tenant string) ([]*QueueInfo, error)
	// ListAll returns all queues of all tenants.
	ListAll(ctx context.Context) ([]QueueRef, error)
	// Get returns the metadata of a queue or ErrQueueNotFound.
	Get(ctx context.Context, name, tenant string) (json.RawMessage, error)
	// Upsert creates or replaces a queue.
	// Returns true if the queue did not exist before.
	Upsert(ctx context.Context, name string, metadata json.RawMessage, tenant string) (created bool, err error)
	// Delete removes a queue and all its messages. Deleting a missing queue is a no-op.
	Delete(ctx context.Context, name, tenant string) error
	// Stats returns message counts or ErrQueueNotFound.
	Stats(ctx context.Context, name, tenant string) (*QueueStats, error)
}

// MessageStore manages message bodies and lifetimes.
type MessageStore interface {
	// List returns visible messages in ascending sequence order.
	// A malformed marker yields an empty result.
	List(ctx context.Context, queue, tenant string, opts ListOptions) ([]*Message, error)
	// Get returns a live message or ErrMessageNotFound.
	Get(ctx context.Context, queue, messageID, tenant string) (*Message, error)
	// Post inserts a batch of messages atomically and returns their IDs in input order.
	Post(ctx context.Context, queue string, messages []NewMessage, tenant, clientID string) ([]string, error)
	// Delete removes a message. Missing messages and malformed IDs are a no-op.
	// If claimID is not empty, the message must be held by that live claim.
	Delete(ctx context.Context, queue, messageID, tenant, claimID string) error
}

// ClaimStore manages claims over messages.
type ClaimStore interface {
	// Create claims up to limit visible messages.
	// An empty queue yields a valid claim holding no messages.
	Create(ctx context.Context, queue, tenant string, opts ClaimOptions, limit int) (claimID string, messages []*Message, err error)
	// Get returns a live claim and its messages or ErrClaimNotFound.
	Get(ctx context.Context, queue, claimID, tenant string) (*Claim, []*Message, error)
	// Update renews a live claim or returns ErrClaimNotFound.
	Update(ctx context.Context, queue, claimID, tenant string, opts ClaimOptions) error
	// Delete releases a claim's messages. Missing or expired claims are a no-op.
	Delete(ctx context.Context, queue, claimID, tenant string) error
	// GC removes bookkeeping of expired claims that the backend can't expire natively.
	// It is an optimization: correctness never depends on it.
	GC(ctx context.Context, queue, tenant string) (removed int64, err error)
}

// Driver bundles the stores of one backend sharing one connection.
type Driver interface {
	Queues() QueueStore
	Messages() MessageStore
	Claims() ClaimStore
	Close() error
}
