package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"go.od2.network/queues/pkg/opaque"
	"go.od2.network/queues/pkg/storage"
	"go.uber.org/zap"
)

// MessageStore implements storage.MessageStore.
type MessageStore struct {
	*Driver
}

// First message ID of an empty store.
// The counter starts at zero, IDs are offset so both backends hand out the same range.
const firstMessageID = 1001

// messageFields are read by loadStates in this order.
var messageFields = []string{
	fieldQueue,
	fieldTTL,
	fieldExpires,
	fieldCreated,
	fieldBody,
	fieldClient,
	fieldClaimID,
	fieldClaimExpires,
}

// messageState is a message hash as stored.
type messageState struct {
	id           int64
	queue        string
	ttl          int64
	expires      int64
	created      int64
	body         string
	client       string
	claimID      string
	claimExpires int64
}

func (m *messageState) claimed(now int64) bool {
	return m.claimID != "" && m.claimExpires > now
}

func (m *messageState) visible(now int64) bool {
	return m.expires > now && !m.claimed(now)
}

func (m *messageState) toBasic(now int64) *storage.Message {
	return &storage.Message{
		ID:   opaque.EncodeMessageID(m.id),
		TTL:  m.ttl,
		Age:  now - m.created,
		Body: json.RawMessage(m.body),
	}
}

// parseMessageState decodes an HMGET reply of messageFields.
// Returns nil if the message does not exist.
func parseMessageState(id int64, vals []interface{}) (*messageState, error) {
	if len(vals) != len(messageFields) {
		return nil, fmt.Errorf("unexpected message reply length: %d", len(vals))
	}
	if vals[0] == nil {
		return nil, nil
	}
	str := func(i int) string {
		s, _ := vals[i].(string)
		return s
	}
	num := func(i int) (int64, error) {
		s, ok := vals[i].(string)
		if !ok {
			return 0, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid field %q of message %d: %w", messageFields[i], id, err)
		}
		return n, nil
	}
	m := &messageState{
		id:      id,
		queue:   str(0),
		body:    str(4),
		client:  str(5),
		claimID: str(6),
	}
	var err error
	if m.ttl, err = num(1); err != nil {
		return nil, err
	}
	if m.expires, err = num(2); err != nil {
		return nil, err
	}
	if m.created, err = num(3); err != nil {
		return nil, err
	}
	if m.claimExpires, err = num(7); err != nil {
		return nil, err
	}
	return m, nil
}

// loadStates reads message hashes in one pipeline.
// The result has one entry per ID, nil for vanished messages.
func (d *Driver) loadStates(ctx context.Context, ids []string) ([]*messageState, error) {
	nums := make([]int64, len(ids))
	for i, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid message ID %q in index: %w", id, err)
		}
		nums[i] = n
	}
	cmds := make([]*redis.SliceCmd, len(ids))
	_, err := d.Redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range nums {
			cmds[i] = pipe.HMGet(ctx, d.Keys.Message(id), messageFields...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	states := make([]*messageState, len(ids))
	for i, cmd := range cmds {
		states[i], err = parseMessageState(nums[i], cmd.Val())
		if err != nil {
			return nil, err
		}
	}
	return states, nil
}

// List returns visible messages in ascending ID order.
func (s *MessageStore) List(ctx context.Context, queue, tenant string, opts storage.ListOptions) ([]*storage.Message, error) {
	min := "-inf"
	if opts.Marker != "" {
		after, err := opaque.DecodeMarker(opts.Marker)
		if err != nil {
			return nil, nil
		}
		min = "(" + strconv.FormatInt(after, 10)
	}
	if opts.Limit <= 0 {
		return nil, nil
	}
	if err := s.queueExists(ctx, queue, tenant); err != nil {
		return nil, err
	}
	now := s.now()
	ref := queueRef(tenant, queue)
	key := s.Keys.MessageSet(tenant, queue)
	var msgs []*storage.Message
	err := s.Do(ctx, "messages.list", func() error {
		msgs = msgs[:0]
		for offset := int64(0); len(msgs) < opts.Limit; offset += countBatch {
			ids, err := s.Redis.ZRangeByScore(ctx, key, &redis.ZRangeBy{
				Min:    min,
				Max:    "+inf",
				Offset: offset,
				Count:  countBatch,
			}).Result()
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
				if st == nil || st.queue != ref || !st.visible(now) {
					continue
				}
				if !opts.Echo && st.client == opts.ClientID {
					continue
				}
				msg := st.toBasic(now)
				msg.Marker = opaque.EncodeMarker(st.id)
				msgs = append(msgs, msg)
				if len(msgs) >= opts.Limit {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// Get returns a live message.
func (s *MessageStore) Get(ctx context.Context, queue, messageID, tenant string) (*storage.Message, error) {
	id, err := opaque.DecodeMessageID(messageID)
	if err != nil {
		return nil, storage.MessageNotFound(messageID)
	}
	now := s.now()
	var states []*messageState
	err = s.Do(ctx, "messages.get", func() error {
		var err error
		states, err = s.loadStates(ctx, []string{strconv.FormatInt(id, 10)})
		return err
	})
	if err != nil {
		return nil, err
	}
	st := states[0]
	if st == nil || st.queue != queueRef(tenant, queue) || st.expires <= now {
		return nil, storage.MessageNotFound(messageID)
	}
	return st.toBasic(now), nil
}

// Post purges expired messages from the head of the queue and inserts a batch.
// The batch becomes visible all at once.
func (s *MessageStore) Post(ctx context.Context, queue string, messages []storage.NewMessage, tenant, clientID string) ([]string, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	for i, msg := range messages {
		if err := storage.ValidateMessage(msg); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	if err := s.queueExists(ctx, queue, tenant); err != nil {
		return nil, err
	}
	now := s.now()
	setKey := s.Keys.MessageSet(tenant, queue)
	var purged int64
	err := s.Do(ctx, "messages.purge", func() error {
		var err error
		purged, err = s.purgeMessages.Run(ctx, s.Redis, []string{setKey},
			now, s.purgeBatch, s.Keys.MessagePrefix()).Int64()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to purge expired messages: %w", err)
	}
	if purged > 0 {
		s.Log.Debug("Purged expired messages",
			zap.String("queue", queue),
			zap.Int64("messages.purged", purged))
	}
	// IDs are reserved before insertion. A failed insert leaves a gap, IDs are never reused.
	var last int64
	err = s.Do(ctx, "messages.reserve", func() error {
		var err error
		last, err = s.Redis.IncrBy(ctx, s.Keys.MessageCounter(), int64(len(messages))).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	first := last - int64(len(messages)) + firstMessageID
	ref := queueRef(tenant, queue)
	err = s.Do(ctx, "messages.post", func() error {
		_, err := s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, msg := range messages {
				id := first + int64(i)
				key := s.Keys.Message(id)
				pipe.HSet(ctx, key,
					fieldQueue, ref,
					fieldTTL, msg.TTL,
					fieldExpires, now+msg.TTL,
					fieldCreated, now,
					fieldBody, string(msg.Body),
					fieldClient, clientID)
				pipe.Expire(ctx, key, ttlSeconds(now+msg.TTL, now))
				pipe.ZAdd(ctx, setKey, &redis.Z{Score: float64(id), Member: id})
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.MessagesPosted.Inc(int64(len(messages)))
	ids := make([]string, len(messages))
	for i := range ids {
		ids[i] = opaque.EncodeMessageID(first + int64(i))
	}
	return ids, nil
}

// Delete removes a message.
// If claimID is set, the message must be held by that live claim.
func (s *MessageStore) Delete(ctx context.Context, queue, messageID, tenant, claimID string) error {
	id, err := opaque.DecodeMessageID(messageID)
	if err != nil {
		return nil
	}
	keys := []string{
		s.Keys.Message(id),
		s.Keys.MessageSet(tenant, queue),
	}
	var res int64
	err = s.Do(ctx, "messages.delete", func() error {
		var err error
		res, err = s.deleteMessage.Run(ctx, s.Redis, keys,
			strconv.FormatInt(id, 10),
			queueRef(tenant, queue),
			claimID,
			s.now(),
			s.Keys.ClaimPrefix(),
			s.Keys.ClaimMessagesPrefix(),
		).Int64()
		return err
	})
	if err != nil {
		return err
	}
	switch res {
	case 1:
		s.Metrics.MessagesDeleted.Inc(1)
	case -1:
		return fmt.Errorf("%w: message %s, claim %s", storage.ErrClaimMismatch, messageID, claimID)
	}
	return nil
}
