// Package storagetest runs the behavior every storage backend must share.
//
// Backend packages call Run from their tests with a Factory creating an empty store.
package storagetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.od2.network/queues/pkg/opaque"
	"go.od2.network/queues/pkg/storage"
)

// Clock is a manually advanced clock for simulating elapsed time.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at the current second.
func NewClock() *Clock {
	return &Clock{now: time.Now().Truncate(time.Second)}
}

// Now returns the simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory creates an empty store reading time from clock.
// The factory owns cleanup of the returned driver.
type Factory func(t *testing.T, clock storage.Clock) storage.Driver

const (
	tenant   = "tenant-a"
	producer = "producer"
	consumer = "consumer"
)

type suite struct {
	t      *testing.T
	ctx    context.Context
	clock  *Clock
	driver storage.Driver
}

func newSuite(t *testing.T, factory Factory) *suite {
	clock := NewClock()
	return &suite{
		t:      t,
		ctx:    context.Background(),
		clock:  clock,
		driver: factory(t, clock.Now),
	}
}

func (s *suite) queue(name string) {
	_, err := s.driver.Queues().Upsert(s.ctx, name, json.RawMessage(`{"purpose":"test"}`), tenant)
	require.NoError(s.t, err)
}

func (s *suite) post(queue string, ttl int64, bodies ...string) []string {
	msgs := make([]storage.NewMessage, len(bodies))
	for i, body := range bodies {
		msgs[i] = storage.NewMessage{TTL: ttl, Body: json.RawMessage(body)}
	}
	ids, err := s.driver.Messages().Post(s.ctx, queue, msgs, tenant, producer)
	require.NoError(s.t, err)
	require.Len(s.t, ids, len(bodies))
	return ids
}

func (s *suite) list(queue string, limit int) []*storage.Message {
	msgs, err := s.driver.Messages().List(s.ctx, queue, tenant, storage.ListOptions{
		Limit:    limit,
		ClientID: consumer,
	})
	require.NoError(s.t, err)
	return msgs
}

func (s *suite) claim(queue string, opts storage.ClaimOptions, limit int) (string, []*storage.Message) {
	claimID, msgs, err := s.driver.Claims().Create(s.ctx, queue, tenant, opts, limit)
	require.NoError(s.t, err)
	require.NotEmpty(s.t, claimID)
	return claimID, msgs
}

func messageIDs(msgs []*storage.Message) []string {
	ids := make([]string, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.ID
	}
	return ids
}

// Run runs the shared storage tests against a backend.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(s *suite)
	}{
		{"QueueLifecycle", testQueueLifecycle},
		{"QueueList", testQueueList},
		{"QueueDeleteCascades", testQueueDeleteCascades},
		{"QueueStats", testQueueStats},
		{"PostAndGet", testPostAndGet},
		{"PostMissingQueue", testPostMissingQueue},
		{"ListMarkerAndEcho", testListMarkerAndEcho},
		{"MessageExpiry", testMessageExpiry},
		{"DeleteIdempotent", testDeleteIdempotent},
		{"DeleteWithClaim", testDeleteWithClaim},
		{"ClaimExclusivity", testClaimExclusivity},
		{"ClaimVisibilityRecomputed", testClaimVisibilityRecomputed},
		{"ClaimGraceExtension", testClaimGraceExtension},
		{"ClaimLifecycle", testClaimLifecycle},
		{"ClaimRenewExtension", testClaimRenewExtension},
		{"ClaimMissingQueue", testClaimMissingQueue},
		{"ClaimGC", testClaimGC},
		{"ScenarioA", testScenarioA},
		{"ScenarioB", testScenarioB},
		{"ScenarioC", testScenarioC},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(newSuite(t, factory))
		})
	}
}

func testQueueLifecycle(s *suite) {
	queues := s.driver.Queues()
	_, err := queues.Get(s.ctx, "jobs", tenant)
	assert.ErrorIs(s.t, err, storage.ErrQueueNotFound)

	created, err := queues.Upsert(s.ctx, "jobs", json.RawMessage(`{"v":1}`), tenant)
	require.NoError(s.t, err)
	assert.True(s.t, created)
	metadata, err := queues.Get(s.ctx, "jobs", tenant)
	require.NoError(s.t, err)
	assert.JSONEq(s.t, `{"v":1}`, string(metadata))

	created, err = queues.Upsert(s.ctx, "jobs", json.RawMessage(`{"v":2}`), tenant)
	require.NoError(s.t, err)
	assert.False(s.t, created)
	metadata, err = queues.Get(s.ctx, "jobs", tenant)
	require.NoError(s.t, err)
	assert.JSONEq(s.t, `{"v":2}`, string(metadata))

	// Queues are scoped to tenants.
	_, err = queues.Get(s.ctx, "jobs", "tenant-b")
	assert.ErrorIs(s.t, err, storage.ErrNotFound)

	require.NoError(s.t, queues.Delete(s.ctx, "jobs", tenant))
	_, err = queues.Get(s.ctx, "jobs", tenant)
	assert.ErrorIs(s.t, err, storage.ErrQueueNotFound)
	require.NoError(s.t, queues.Delete(s.ctx, "jobs", tenant), "delete is idempotent")
}

func testQueueList(s *suite) {
	queues := s.driver.Queues()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		s.queue(name)
	}
	_, err := queues.Upsert(s.ctx, "other", nil, "tenant-b")
	require.NoError(s.t, err)

	infos, err := queues.List(s.ctx, tenant)
	require.NoError(s.t, err)
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	assert.Equal(s.t, []string{"alpha", "bravo", "charlie"}, names)

	refs, err := queues.ListAll(s.ctx)
	require.NoError(s.t, err)
	assert.Equal(s.t, []storage.QueueRef{
		{Tenant: tenant, Name: "alpha"},
		{Tenant: tenant, Name: "bravo"},
		{Tenant: tenant, Name: "charlie"},
		{Tenant: "tenant-b", Name: "other"},
	}, refs)

	metadata, err := queues.Get(s.ctx, "other", "tenant-b")
	require.NoError(s.t, err)
	assert.JSONEq(s.t, `{}`, string(metadata))
}

func testQueueDeleteCascades(s *suite) {
	s.queue("jobs")
	ids := s.post("jobs", 60, `"a"`, `"b"`)
	claimID, _ := s.claim("jobs", storage.ClaimOptions{TTL: 30, Grace: 10}, 1)
	require.Len(s.t, s.list("jobs", 10), 1)

	require.NoError(s.t, s.driver.Queues().Delete(s.ctx, "jobs", tenant))
	_, err := s.driver.Messages().List(s.ctx, "jobs", tenant, storage.ListOptions{Limit: 10})
	assert.ErrorIs(s.t, err, storage.ErrQueueNotFound)
	s.queue("jobs")
	_, err = s.driver.Messages().Get(s.ctx, "jobs", ids[1], tenant)
	assert.ErrorIs(s.t, err, storage.ErrMessageNotFound)
	_, _, err = s.driver.Claims().Get(s.ctx, "jobs", claimID, tenant)
	assert.ErrorIs(s.t, err, storage.ErrClaimNotFound)
	assert.Empty(s.t, s.list("jobs", 10))
	fresh := s.post("jobs", 60, `"c"`)
	assert.Equal(s.t, fresh, messageIDs(s.list("jobs", 10)))
}

func testQueueStats(s *suite) {
	_, err := s.driver.Queues().Stats(s.ctx, "jobs", tenant)
	assert.ErrorIs(s.t, err, storage.ErrQueueNotFound)

	s.queue("jobs")
	stats, err := s.driver.Queues().Stats(s.ctx, "jobs", tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, storage.QueueStats{}, *stats)

	s.post("jobs", 60, `1`, `2`, `3`)
	s.claim("jobs", storage.ClaimOptions{TTL: 30}, 2)
	stats, err = s.driver.Queues().Stats(s.ctx, "jobs", tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, storage.QueueStats{Messages: 3, Claimed: 2, Free: 1}, *stats)

	s.clock.Advance(30 * time.Second)
	stats, err = s.driver.Queues().Stats(s.ctx, "jobs", tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, storage.QueueStats{Messages: 3, Claimed: 0, Free: 3}, *stats)
}

func testPostAndGet(s *suite) {
	s.queue("jobs")
	ids := s.post("jobs", 60, `{"n":1}`, `{"n":2}`)
	assert.NotEqual(s.t, ids[0], ids[1])
	first, err := opaque.DecodeMessageID(ids[0])
	require.NoError(s.t, err)
	second, err := opaque.DecodeMessageID(ids[1])
	require.NoError(s.t, err)
	assert.Equal(s.t, first+1, second, "IDs follow input order")

	more := s.post("jobs", 60, `{"n":3}`)
	third, err := opaque.DecodeMessageID(more[0])
	require.NoError(s.t, err)
	assert.Greater(s.t, third, second)

	s.clock.Advance(5 * time.Second)
	msg, err := s.driver.Messages().Get(s.ctx, "jobs", ids[1], tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, ids[1], msg.ID)
	assert.Equal(s.t, int64(60), msg.TTL)
	assert.Equal(s.t, int64(5), msg.Age)
	assert.JSONEq(s.t, `{"n":2}`, string(msg.Body))

	_, err = s.driver.Messages().Get(s.ctx, "other", ids[1], tenant)
	assert.ErrorIs(s.t, err, storage.ErrMessageNotFound, "message of another queue")
	_, err = s.driver.Messages().Get(s.ctx, "jobs", "not-an-id", tenant)
	assert.ErrorIs(s.t, err, storage.ErrMessageNotFound, "malformed ID")
}

func testPostMissingQueue(s *suite) {
	_, err := s.driver.Messages().Post(s.ctx, "missing",
		[]storage.NewMessage{{TTL: 60, Body: json.RawMessage(`1`)}}, tenant, producer)
	assert.ErrorIs(s.t, err, storage.ErrQueueNotFound)

	s.queue("jobs")
	_, err = s.driver.Messages().Post(s.ctx, "jobs",
		[]storage.NewMessage{{TTL: 0, Body: json.RawMessage(`1`)}}, tenant, producer)
	assert.ErrorIs(s.t, err, storage.ErrInvalidArgument)

	_, err = s.driver.Messages().List(s.ctx, "missing", tenant, storage.ListOptions{Limit: 10})
	assert.ErrorIs(s.t, err, storage.ErrQueueNotFound)
}

func testListMarkerAndEcho(s *suite) {
	s.queue("jobs")
	ids := s.post("jobs", 60, `1`, `2`, `3`, `4`, `5`)
	messages := s.driver.Messages()

	page, err := messages.List(s.ctx, "jobs", tenant, storage.ListOptions{Limit: 2, ClientID: consumer})
	require.NoError(s.t, err)
	require.Len(s.t, page, 2)
	assert.Equal(s.t, ids[:2], messageIDs(page))
	page, err = messages.List(s.ctx, "jobs", tenant, storage.ListOptions{
		Marker:   page[1].Marker,
		Limit:    10,
		ClientID: consumer,
	})
	require.NoError(s.t, err)
	assert.Equal(s.t, ids[2:], messageIDs(page))

	page, err = messages.List(s.ctx, "jobs", tenant, storage.ListOptions{Limit: 10, ClientID: producer})
	require.NoError(s.t, err)
	assert.Empty(s.t, page, "own messages are hidden without echo")
	page, err = messages.List(s.ctx, "jobs", tenant, storage.ListOptions{Limit: 10, ClientID: producer, Echo: true})
	require.NoError(s.t, err)
	assert.Len(s.t, page, 5)

	page, err = messages.List(s.ctx, "jobs", tenant, storage.ListOptions{Marker: "zz", Limit: 10})
	require.NoError(s.t, err)
	assert.Empty(s.t, page, "malformed marker")

	require.NoError(s.t, s.driver.Queues().Delete(s.ctx, "jobs", tenant))
	s.queue("jobs")
	assert.Empty(s.t, s.list("jobs", 10), "empty queue lists nothing")
}

func testMessageExpiry(s *suite) {
	s.queue("jobs")
	short := s.post("jobs", 10, `"short"`)
	long := s.post("jobs", 100, `"long"`)
	s.clock.Advance(10 * time.Second)

	_, err := s.driver.Messages().Get(s.ctx, "jobs", short[0], tenant)
	assert.ErrorIs(s.t, err, storage.ErrMessageNotFound)
	assert.Equal(s.t, long, messageIDs(s.list("jobs", 10)))

	// Posting purges expired messages of the queue.
	s.post("jobs", 100, `"next"`)
	_, err = s.driver.Messages().Get(s.ctx, "jobs", short[0], tenant)
	assert.ErrorIs(s.t, err, storage.ErrMessageNotFound)
	assert.Len(s.t, s.list("jobs", 10), 2)
}

func testDeleteIdempotent(s *suite) {
	s.queue("jobs")
	ids := s.post("jobs", 60, `1`)
	messages := s.driver.Messages()
	claims := s.driver.Claims()

	require.NoError(s.t, messages.Delete(s.ctx, "jobs", ids[0], tenant, ""))
	_, err := messages.Get(s.ctx, "jobs", ids[0], tenant)
	assert.ErrorIs(s.t, err, storage.ErrMessageNotFound)
	assert.NoError(s.t, messages.Delete(s.ctx, "jobs", ids[0], tenant, ""), "already deleted")
	assert.NoError(s.t, messages.Delete(s.ctx, "jobs", "not-an-id", tenant, ""), "malformed ID")
	assert.NoError(s.t, messages.Delete(s.ctx, "missing", ids[0], tenant, ""), "missing queue")

	assert.NoError(s.t, claims.Delete(s.ctx, "jobs", "not-a-claim", tenant), "malformed claim")
	assert.NoError(s.t, claims.Delete(s.ctx, "jobs", "9m4e2mr0ui3e8a215n4g", tenant), "absent claim")
	assert.NoError(s.t, s.driver.Queues().Delete(s.ctx, "missing", tenant), "absent queue")

	_, _, err = claims.Get(s.ctx, "jobs", "not-a-claim", tenant)
	assert.ErrorIs(s.t, err, storage.ErrClaimNotFound)
	err = claims.Update(s.ctx, "jobs", "9m4e2mr0ui3e8a215n4g", tenant, storage.ClaimOptions{TTL: 10})
	assert.ErrorIs(s.t, err, storage.ErrClaimNotFound)
}

func testDeleteWithClaim(s *suite) {
	s.queue("jobs")
	ids := s.post("jobs", 60, `1`, `2`)
	claimID, claimed := s.claim("jobs", storage.ClaimOptions{TTL: 30}, 1)
	require.Equal(s.t, ids[:1], messageIDs(claimed))
	messages := s.driver.Messages()

	err := messages.Delete(s.ctx, "jobs", ids[1], tenant, claimID)
	assert.ErrorIs(s.t, err, storage.ErrClaimMismatch, "message not held by the claim")
	other, _ := s.claim("jobs", storage.ClaimOptions{TTL: 30}, 0)
	err = messages.Delete(s.ctx, "jobs", ids[0], tenant, other)
	assert.ErrorIs(s.t, err, storage.ErrClaimMismatch, "message held by another claim")

	require.NoError(s.t, messages.Delete(s.ctx, "jobs", ids[0], tenant, claimID))
	_, err = messages.Get(s.ctx, "jobs", ids[0], tenant)
	assert.ErrorIs(s.t, err, storage.ErrMessageNotFound)

	// Once the claim expires, it no longer holds anything.
	s.clock.Advance(30 * time.Second)
	_, again := s.claim("jobs", storage.ClaimOptions{TTL: 30}, 10)
	require.Equal(s.t, ids[1:], messageIDs(again))
}

func testClaimExclusivity(s *suite) {
	const (
		messages = 20
		workers  = 8
		limit    = 5
	)
	s.queue("jobs")
	bodies := make([]string, messages)
	for i := range bodies {
		bodies[i] = `"work"`
	}
	for i := 0; i < messages; i += 10 {
		s.post("jobs", 600, bodies[i:i+10]...)
	}

	var wg sync.WaitGroup
	results := make([][]*storage.Message, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i], errs[i] = s.driver.Claims().Create(s.ctx, "jobs", tenant,
				storage.ClaimOptions{TTL: 60, Grace: 60}, limit)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int)
	var total int
	for i := range results {
		require.NoError(s.t, errs[i])
		assert.LessOrEqual(s.t, len(results[i]), limit)
		for _, msg := range results[i] {
			seen[msg.ID]++
			total++
		}
	}
	for id, n := range seen {
		assert.Equal(s.t, 1, n, "message %s claimed %d times", id, n)
	}
	assert.Equal(s.t, messages, total)
	assert.Empty(s.t, s.list("jobs", messages))
}

func testClaimVisibilityRecomputed(s *suite) {
	s.queue("jobs")
	ids := s.post("jobs", 600, `1`, `2`)
	claimID, claimed := s.claim("jobs", storage.ClaimOptions{TTL: 30, Grace: 30}, 2)
	require.Equal(s.t, ids, messageIDs(claimed))
	assert.Empty(s.t, s.list("jobs", 10))

	// Drop the claim record without releasing its messages.
	s.clock.Advance(30 * time.Second)
	_, err := s.driver.Claims().GC(s.ctx, "jobs", tenant)
	require.NoError(s.t, err)
	_, _, err = s.driver.Claims().Get(s.ctx, "jobs", claimID, tenant)
	assert.ErrorIs(s.t, err, storage.ErrClaimNotFound)

	assert.Equal(s.t, ids, messageIDs(s.list("jobs", 10)))
	_, again := s.claim("jobs", storage.ClaimOptions{TTL: 30}, 10)
	assert.Equal(s.t, ids, messageIDs(again))
}

func testClaimGraceExtension(s *suite) {
	s.queue("jobs")
	short := s.post("jobs", 10, `"short"`)
	long := s.post("jobs", 1000, `"long"`)
	_, claimed := s.claim("jobs", storage.ClaimOptions{TTL: 30, Grace: 20}, 2)
	require.Len(s.t, claimed, 2)
	assert.Equal(s.t, int64(50), claimed[0].TTL, "extended to claim expiry plus grace")
	assert.Equal(s.t, int64(1000), claimed[1].TTL)

	msg, err := s.driver.Messages().Get(s.ctx, "jobs", short[0], tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, int64(50), msg.TTL)
	msg, err = s.driver.Messages().Get(s.ctx, "jobs", long[0], tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, int64(1000), msg.TTL, "ample TTL is left alone")

	// The short message outlives the claim by the grace period.
	s.clock.Advance(45 * time.Second)
	_, err = s.driver.Messages().Get(s.ctx, "jobs", short[0], tenant)
	assert.NoError(s.t, err)
	s.clock.Advance(5 * time.Second)
	_, err = s.driver.Messages().Get(s.ctx, "jobs", short[0], tenant)
	assert.ErrorIs(s.t, err, storage.ErrMessageNotFound)
}

func testClaimLifecycle(s *suite) {
	s.queue("jobs")
	ids := s.post("jobs", 60, `1`, `2`, `3`)
	claims := s.driver.Claims()
	claimID, claimed := s.claim("jobs", storage.ClaimOptions{TTL: 30, Grace: 10}, 2)
	require.Equal(s.t, ids[:2], messageIDs(claimed))

	s.clock.Advance(10 * time.Second)
	claim, held, err := claims.Get(s.ctx, "jobs", claimID, tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, claimID, claim.ID)
	assert.Equal(s.t, int64(30), claim.TTL)
	assert.Equal(s.t, int64(10), claim.Age)
	assert.Equal(s.t, int64(2), claim.Messages)
	assert.Equal(s.t, ids[:2], messageIDs(held))

	// Renewal restarts the claim and extends messages it would outlive.
	require.NoError(s.t, claims.Update(s.ctx, "jobs", claimID, tenant, storage.ClaimOptions{TTL: 60, Grace: 20}))
	claim, _, err = claims.Get(s.ctx, "jobs", claimID, tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, int64(60), claim.TTL)
	assert.Equal(s.t, int64(0), claim.Age)
	msg, err := s.driver.Messages().Get(s.ctx, "jobs", ids[0], tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, int64(90), msg.TTL, "renewed at 10s: 10 + 60 + 20")
	assert.Equal(s.t, ids[2:], messageIDs(s.list("jobs", 10)))

	err = claims.Update(s.ctx, "jobs", claimID, tenant, storage.ClaimOptions{TTL: 0})
	assert.ErrorIs(s.t, err, storage.ErrInvalidArgument)

	// Release makes the messages visible again.
	require.NoError(s.t, claims.Delete(s.ctx, "jobs", claimID, tenant))
	_, _, err = claims.Get(s.ctx, "jobs", claimID, tenant)
	assert.ErrorIs(s.t, err, storage.ErrClaimNotFound)
	assert.Equal(s.t, ids, messageIDs(s.list("jobs", 10)))
	require.NoError(s.t, claims.Delete(s.ctx, "jobs", claimID, tenant), "release is idempotent")

	// Expired claims can't be renewed.
	claimID, _ = s.claim("jobs", storage.ClaimOptions{TTL: 5}, 1)
	s.clock.Advance(5 * time.Second)
	err = claims.Update(s.ctx, "jobs", claimID, tenant, storage.ClaimOptions{TTL: 5})
	assert.ErrorIs(s.t, err, storage.ErrClaimNotFound)
	_, _, err = claims.Get(s.ctx, "jobs", claimID, tenant)
	assert.ErrorIs(s.t, err, storage.ErrClaimNotFound)
}

func testClaimRenewExtension(s *suite) {
	s.queue("jobs")
	long := s.post("jobs", 1000, `"long"`)
	short := s.post("jobs", 20, `"short"`)
	claimID, claimed := s.claim("jobs", storage.ClaimOptions{TTL: 10, Grace: 5}, 2)
	require.Len(s.t, claimed, 2)
	assert.Equal(s.t, int64(20), claimed[1].TTL, "outlives claim plus grace")

	s.clock.Advance(5 * time.Second)
	require.NoError(s.t, s.driver.Claims().Update(s.ctx, "jobs", claimID, tenant, storage.ClaimOptions{TTL: 30, Grace: 5}))
	msg, err := s.driver.Messages().Get(s.ctx, "jobs", long[0], tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, int64(1000), msg.TTL, "ample TTL is left alone")
	msg, err = s.driver.Messages().Get(s.ctx, "jobs", short[0], tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, int64(40), msg.TTL, "renewed at 5s: 5 + 30 + 5")

	_, held, err := s.driver.Claims().Get(s.ctx, "jobs", claimID, tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, append(long, short...), messageIDs(held))
}

func testClaimMissingQueue(s *suite) {
	_, _, err := s.driver.Claims().Create(s.ctx, "missing", tenant, storage.ClaimOptions{TTL: 30}, 5)
	assert.ErrorIs(s.t, err, storage.ErrQueueNotFound)
	s.queue("jobs")
	_, _, err = s.driver.Claims().Create(s.ctx, "jobs", tenant, storage.ClaimOptions{TTL: 30, Grace: -1}, 5)
	assert.ErrorIs(s.t, err, storage.ErrInvalidArgument)
}

func testClaimGC(s *suite) {
	s.queue("jobs")
	s.post("jobs", 600, `1`, `2`, `3`)
	claims := s.driver.Claims()
	short, _ := s.claim("jobs", storage.ClaimOptions{TTL: 10}, 1)
	long, _ := s.claim("jobs", storage.ClaimOptions{TTL: 100}, 1)

	removed, err := claims.GC(s.ctx, "jobs", tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, int64(0), removed)

	s.clock.Advance(10 * time.Second)
	removed, err = claims.GC(s.ctx, "jobs", tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, int64(1), removed)
	_, _, err = claims.Get(s.ctx, "jobs", short, tenant)
	assert.ErrorIs(s.t, err, storage.ErrClaimNotFound)
	_, _, err = claims.Get(s.ctx, "jobs", long, tenant)
	assert.NoError(s.t, err)
	assert.Len(s.t, s.list("jobs", 10), 2)
}

func testScenarioA(s *suite) {
	s.queue("Q")
	ids := s.post("Q", 60, `"a"`, `"b"`, `"c"`)
	_, claimed := s.claim("Q", storage.ClaimOptions{TTL: 30, Grace: 10}, 2)
	require.Len(s.t, claimed, 2)
	claimedIDs := messageIDs(claimed)
	assert.Equal(s.t, ids[:2], claimedIDs)

	visible := messageIDs(s.list("Q", 10))
	assert.Equal(s.t, ids[2:], visible)

	s.clock.Advance(40 * time.Second)
	visible = messageIDs(s.list("Q", 10))
	sort.Strings(visible)
	expected := append([]string(nil), ids...)
	sort.Strings(expected)
	assert.Equal(s.t, expected, visible)
}

func testScenarioB(s *suite) {
	s.queue("Q")
	claimID, claimed := s.claim("Q", storage.ClaimOptions{TTL: 30, Grace: 10}, 10)
	assert.Empty(s.t, claimed)
	claim, held, err := s.driver.Claims().Get(s.ctx, "Q", claimID, tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, claimID, claim.ID)
	assert.Equal(s.t, int64(0), claim.Messages)
	assert.Empty(s.t, held)
}

func testScenarioC(s *suite) {
	s.queue("Q")
	s.post("Q", 60, `"a"`, `"b"`, `"c"`)
	claimID, claimed := s.claim("Q", storage.ClaimOptions{TTL: 30, Grace: 10}, 3)
	require.Len(s.t, claimed, 3)

	deleted := claimed[1].ID
	require.NoError(s.t, s.driver.Messages().Delete(s.ctx, "Q", deleted, tenant, claimID))
	require.NoError(s.t, s.driver.Claims().Update(s.ctx, "Q", claimID, tenant, storage.ClaimOptions{TTL: 5}))

	claim, held, err := s.driver.Claims().Get(s.ctx, "Q", claimID, tenant)
	require.NoError(s.t, err)
	assert.Equal(s.t, int64(2), claim.Messages)
	assert.Equal(s.t, int64(5), claim.TTL)
	assert.Equal(s.t, []string{claimed[0].ID, claimed[2].ID}, messageIDs(held))
	assert.NotContains(s.t, messageIDs(held), deleted)
}
