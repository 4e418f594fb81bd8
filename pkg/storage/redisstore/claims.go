package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/rs/xid"
	"go.od2.network/queues/pkg/storage"
	"go.uber.org/zap"
)

// ClaimStore implements storage.ClaimStore.
type ClaimStore struct {
	*Driver
}

// Create claims up to limit visible messages, oldest first.
func (s *ClaimStore) Create(
	ctx context.Context,
	queue, tenant string,
	opts storage.ClaimOptions,
	limit int,
) (string, []*storage.Message, error) {
	if err := opts.Validate(); err != nil {
		return "", nil, err
	}
	if err := s.queueExists(ctx, queue, tenant); err != nil {
		return "", nil, err
	}
	times := opts.Times(s.Clock())
	claimID := xid.New().String()
	var ids []string
	if limit > 0 {
		err := s.Do(ctx, "claims.create", func() error {
			res, err := s.claimMessages.Run(ctx, s.Redis,
				[]string{s.Keys.MessageSet(tenant, queue), s.Keys.ClaimMessages(claimID)},
				times.Now,
				limit,
				claimID,
				times.ClaimExpires,
				times.MsgExpires,
				s.Keys.MessagePrefix(),
			).Result()
			if err != nil {
				return err
			}
			ids, err = stringSlice(res)
			return err
		})
		if err != nil {
			return "", nil, fmt.Errorf("failed to claim messages: %w", err)
		}
	}
	// Bookkeeping for renew and release. The message list was written by the script.
	// Visibility only depends on the message fields written by the script above.
	_, err := s.Redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		claimKey := s.Keys.Claim(claimID)
		pipe.HSet(ctx, claimKey,
			fieldClaimTTL, opts.TTL,
			fieldClaimExp, times.ClaimExpires,
			fieldClaimMessages, len(ids))
		pipe.Expire(ctx, claimKey, ttlSeconds(times.ClaimExpires, times.Now))
		pipe.ZAdd(ctx, s.Keys.Claims(tenant, queue), &redis.Z{
			Score:  float64(times.ClaimExpires),
			Member: claimID,
		})
		return nil
	})
	if err != nil {
		s.Log.Warn("Failed to record claim",
			zap.String("queue", queue),
			zap.String("claim.id", claimID),
			zap.Error(err))
	}
	msgs, err := s.loadMessages(ctx, ids, times.Now, "")
	if err != nil {
		return "", nil, err
	}
	s.Metrics.ClaimsCreated.Inc(1)
	s.Metrics.MessagesClaimed.Inc(int64(len(ids)))
	s.Log.Debug("Created claim",
		zap.String("queue", queue),
		zap.String("claim.id", claimID),
		zap.Int64("claim.ttl", opts.TTL),
		zap.Int("claim.messages", len(ids)))
	return claimID, msgs, nil
}

// claimInfo is a claim hash as stored.
type claimInfo struct {
	ttl      int64
	expires  int64
	messages int64
}

// exists returns a live claim, dropping its index entry if it expired.
func (s *ClaimStore) exists(ctx context.Context, queue, claimID, tenant string, now int64) (*claimInfo, error) {
	indexKey := s.Keys.Claims(tenant, queue)
	var vals []interface{}
	err := s.Do(ctx, "claims.exists", func() error {
		if err := s.Redis.ZScore(ctx, indexKey, claimID).Err(); err != nil {
			return err
		}
		var err error
		vals, err = s.Redis.HMGet(ctx, s.Keys.Claim(claimID),
			fieldClaimTTL, fieldClaimExp, fieldClaimMessages).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, storage.ClaimNotFound(claimID)
	} else if err != nil {
		return nil, err
	}
	info := new(claimInfo)
	for i, dst := range []*int64{&info.ttl, &info.expires, &info.messages} {
		str, ok := vals[i].(string)
		if !ok {
			// Claim hash expired natively.
			s.evict(ctx, indexKey, claimID)
			return nil, storage.ClaimNotFound(claimID)
		}
		if *dst, err = strconv.ParseInt(str, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid claim %s: %w", claimID, err)
		}
	}
	if info.expires <= now {
		s.evict(ctx, indexKey, claimID)
		return nil, storage.ClaimNotFound(claimID)
	}
	return info, nil
}

// evict drops an expired claim from the queue index.
// Failures are only logged: stale entries never affect visibility.
func (s *ClaimStore) evict(ctx context.Context, indexKey, claimID string) {
	if err := s.Redis.ZRem(ctx, indexKey, claimID).Err(); err != nil {
		s.Log.Warn("Failed to evict expired claim",
			zap.String("claim.id", claimID),
			zap.Error(err))
	}
}

// loadMessages returns the live messages among ids.
// If holder is set, only messages held by that live claim are returned.
func (s *ClaimStore) loadMessages(ctx context.Context, ids []string, now int64, holder string) ([]*storage.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var states []*messageState
	err := s.Do(ctx, "claims.messages", func() error {
		var err error
		states, err = s.loadStates(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	msgs := make([]*storage.Message, 0, len(states))
	for _, st := range states {
		if st == nil || st.expires <= now {
			continue
		}
		if holder != "" && (st.claimID != holder || !st.claimed(now)) {
			continue
		}
		msgs = append(msgs, st.toBasic(now))
	}
	return msgs, nil
}

// Get returns a live claim and the live messages it holds.
func (s *ClaimStore) Get(ctx context.Context, queue, claimID, tenant string) (*storage.Claim, []*storage.Message, error) {
	if _, err := xid.FromString(claimID); err != nil {
		return nil, nil, storage.ClaimNotFound(claimID)
	}
	now := s.now()
	info, err := s.exists(ctx, queue, claimID, tenant, now)
	if err != nil {
		return nil, nil, err
	}
	var ids []string
	err = s.Do(ctx, "claims.get", func() error {
		var err error
		ids, err = s.Redis.LRange(ctx, s.Keys.ClaimMessages(claimID), 0, -1).Result()
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.loadMessages(ctx, ids, now, claimID)
	if err != nil {
		return nil, nil, err
	}
	return &storage.Claim{
		ID:       claimID,
		TTL:      info.ttl,
		Age:      now - (info.expires - info.ttl),
		Messages: info.messages,
	}, msgs, nil
}

// Update renews a live claim and the messages it holds.
func (s *ClaimStore) Update(ctx context.Context, queue, claimID, tenant string, opts storage.ClaimOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if _, err := xid.FromString(claimID); err != nil {
		return storage.ClaimNotFound(claimID)
	}
	times := opts.Times(s.Clock())
	keys := []string{
		s.Keys.Claim(claimID),
		s.Keys.ClaimMessages(claimID),
		s.Keys.Claims(tenant, queue),
	}
	var renewed int64
	err := s.Do(ctx, "claims.update", func() error {
		var err error
		renewed, err = s.renewClaim.Run(ctx, s.Redis, keys,
			claimID,
			times.Now,
			opts.TTL,
			times.ClaimExpires,
			times.MsgExpires,
			s.Keys.MessagePrefix(),
		).Int64()
		return err
	})
	if err != nil {
		return err
	}
	if renewed == 0 {
		return storage.ClaimNotFound(claimID)
	}
	s.Metrics.ClaimsRenewed.Inc(1)
	s.Log.Debug("Renewed claim",
		zap.String("queue", queue),
		zap.String("claim.id", claimID),
		zap.Int64("claim.ttl", opts.TTL))
	return nil
}

// Delete releases the messages of a live claim and removes the claim.
func (s *ClaimStore) Delete(ctx context.Context, queue, claimID, tenant string) error {
	if _, err := xid.FromString(claimID); err != nil {
		return nil
	}
	keys := []string{
		s.Keys.Claim(claimID),
		s.Keys.ClaimMessages(claimID),
		s.Keys.Claims(tenant, queue),
	}
	var released int64
	err := s.Do(ctx, "claims.delete", func() error {
		var err error
		released, err = s.releaseClaim.Run(ctx, s.Redis, keys,
			claimID, s.now(), s.Keys.MessagePrefix()).Int64()
		return err
	})
	if err != nil || released < 0 {
		return err
	}
	s.Metrics.ClaimsReleased.Inc(1)
	s.Log.Debug("Released claim",
		zap.String("queue", queue),
		zap.String("claim.id", claimID),
		zap.Int64("claim.messages", released))
	return nil
}

// GC removes expired claims from the queue index.
// Claim hashes and lists expire natively.
func (s *ClaimStore) GC(ctx context.Context, queue, tenant string) (int64, error) {
	max := strconv.FormatInt(s.now(), 10)
	var removed int64
	err := s.Do(ctx, "claims.gc", func() error {
		var err error
		removed, err = s.Redis.ZRemRangeByScore(ctx, s.Keys.Claims(tenant, queue), "-inf", max).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	s.Metrics.GCClaimsRemoved.Inc(removed)
	return removed, nil
}

func stringSlice(res interface{}) ([]string, error) {
	items, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected res type: %T", res)
	}
	strs := make([]string, len(items))
	for i, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected item type: %T", item)
		}
		strs[i] = str
	}
	return strs, nil
}
