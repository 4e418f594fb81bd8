package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.od2.network/queues/pkg/storage"
	"go.uber.org/zap"
)

// QueueStore implements storage.QueueStore.
type QueueStore struct {
	*Driver
}

// Number of messages inspected per round trip when counting.
const countBatch = 100

// List returns all queues of a tenant ordered by name.
func (s *QueueStore) List(ctx context.Context, tenant string) ([]*storage.QueueInfo, error) {
	var queues []*storage.QueueInfo
	err := s.Do(ctx, "queues.list", func() error {
		queues = queues[:0]
		names, err := s.Redis.ZRange(ctx, s.Keys.TenantQueues(tenant), 0, -1).Result()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}
		cmds := make([]*redis.StringCmd, len(names))
		_, err = s.Redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, name := range names {
				cmds[i] = pipe.HGet(ctx, s.Keys.Queue(tenant, name), fieldMetadata)
			}
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		for i, cmd := range cmds {
			metadata, err := cmd.Result()
			if errors.Is(err, redis.Nil) {
				continue // deleted concurrently
			} else if err != nil {
				return err
			}
			queues = append(queues, &storage.QueueInfo{
				Name:     names[i],
				Metadata: json.RawMessage(metadata),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return queues, nil
}

// ListAll returns all queues of all tenants.
func (s *QueueStore) ListAll(ctx context.Context) ([]storage.QueueRef, error) {
	var members []string
	err := s.Do(ctx, "queues.list_all", func() error {
		var err error
		members, err = s.Redis.SMembers(ctx, s.Keys.AllQueues()).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	refs := make([]storage.QueueRef, 0, len(members))
	for _, member := range members {
		sep := strings.IndexByte(member, 0x00)
		if sep < 0 {
			s.Log.Warn("Ignoring invalid queue ref", zap.String("queue.ref", member))
			continue
		}
		refs = append(refs, storage.QueueRef{Tenant: member[:sep], Name: member[sep+1:]})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Tenant != refs[j].Tenant {
			return refs[i].Tenant < refs[j].Tenant
		}
		return refs[i].Name < refs[j].Name
	})
	return refs, nil
}

// Get returns the metadata of a queue.
func (s *QueueStore) Get(ctx context.Context, name, tenant string) (json.RawMessage, error) {
	var metadata string
	err := s.Do(ctx, "queues.get", func() error {
		var err error
		metadata, err = s.Redis.HGet(ctx, s.Keys.Queue(tenant, name), fieldMetadata).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, storage.QueueNotFound(name, tenant)
	} else if err != nil {
		return nil, err
	}
	return json.RawMessage(metadata), nil
}

// Upsert creates or replaces a queue, keeping its messages.
func (s *QueueStore) Upsert(ctx context.Context, name string, metadata json.RawMessage, tenant string) (bool, error) {
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	keys := []string{
		s.Keys.Queue(tenant, name),
		s.Keys.TenantQueues(tenant),
		s.Keys.AllQueues(),
	}
	var created int64
	err := s.Do(ctx, "queues.upsert", func() error {
		var err error
		created, err = s.upsertQueue.Run(ctx, s.Redis, keys,
			name, queueRef(tenant, name), string(metadata), s.now()).Int64()
		return err
	})
	if err != nil {
		return false, err
	}
	return created == 1, nil
}

// Delete removes a queue with its messages and claims.
func (s *QueueStore) Delete(ctx context.Context, name, tenant string) error {
	keys := []string{
		s.Keys.Queue(tenant, name),
		s.Keys.TenantQueues(tenant),
		s.Keys.AllQueues(),
		s.Keys.MessageSet(tenant, name),
		s.Keys.Claims(tenant, name),
	}
	var deleted int64
	err := s.Do(ctx, "queues.delete", func() error {
		var err error
		deleted, err = s.deleteQueue.Run(ctx, s.Redis, keys,
			name,
			queueRef(tenant, name),
			s.Keys.MessagePrefix(),
			s.Keys.ClaimPrefix(),
			s.Keys.ClaimMessagesPrefix(),
		).Int64()
		return err
	})
	if err != nil {
		return err
	}
	s.Log.Debug("Deleted queue",
		zap.String("queue", name),
		zap.String("tenant", tenant),
		zap.Int64("messages.deleted", deleted))
	return nil
}

// Stats returns message counts of a queue.
// Counts are gathered in batches and are not a consistent snapshot.
func (s *QueueStore) Stats(ctx context.Context, name, tenant string) (*storage.QueueStats, error) {
	if err := s.queueExists(ctx, name, tenant); err != nil {
		return nil, err
	}
	now := s.now()
	key := s.Keys.MessageSet(tenant, name)
	stats := new(storage.QueueStats)
	err := s.Do(ctx, "queues.stats", func() error {
		*stats = storage.QueueStats{}
		for offset := int64(0); ; offset += countBatch {
			ids, err := s.Redis.ZRange(ctx, key, offset, offset+countBatch-1).Result()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return nil
			}
			states, err := s.loadStates(ctx, ids)
			if err != nil {
				return err
			}
			for _, st := range states {
				if st == nil || st.expires <= now {
					continue
				}
				stats.Messages++
				if st.claimed(now) {
					stats.Claimed++
				}
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	stats.Free = stats.Messages - stats.Claimed
	return stats, nil
}
