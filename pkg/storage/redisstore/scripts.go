package redisstore

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// Scripts holds Redis Lua server-side scripts.
type Scripts struct {
	// Queues
	upsertQueue *redis.Script
	deleteQueue *redis.Script
	// Messages
	purgeMessages *redis.Script
	deleteMessage *redis.Script
	// Claims
	claimMessages *redis.Script
	renewClaim    *redis.Script
	releaseClaim  *redis.Script
}

// LoadScripts hashes the Lua server-side scripts and pre-loads them into Redis.
func LoadScripts(ctx context.Context, r redis.Scripter) (*Scripts, error) {
	s := new(Scripts)
	for _, def := range []struct {
		dst **redis.Script
		src string
	}{
		{&s.upsertQueue, upsertQueueScript},
		{&s.deleteQueue, deleteQueueScript},
		{&s.purgeMessages, purgeMessagesScript},
		{&s.deleteMessage, deleteMessageScript},
		{&s.claimMessages, claimMessagesScript},
		{&s.renewClaim, renewClaimScript},
		{&s.releaseClaim, releaseClaimScript},
	} {
		script := redis.NewScript(def.src)
		if err := script.Load(ctx, r).Err(); err != nil {
			return nil, err
		}
		*def.dst = script
	}
	return s, nil
}

// upsertQueueScript creates or replaces the metadata of a queue.
// Keys:
// 1. Hash queue
// 2. Sorted Set tenant queues
// 3. Set all queues
// Arguments:
// 1. Queue name
// 2. Queue ref
// 3. Metadata
// 4. Unix time
// Returns: 1 if the queue was created, 0 if replaced
const upsertQueueScript = `
-- Keys
local key_queue = KEYS[1]
local key_tenant_queues = KEYS[2]
local key_all_queues = KEYS[3]

-- Arguments
local name = ARGV[1]
local ref = ARGV[2]
local metadata = ARGV[3]
local now = ARGV[4]

local created = redis.call("EXISTS", key_queue) == 0
redis.call("HSET", key_queue, "m", metadata)
if created then
  redis.call("HSET", key_queue, "c", now)
end
redis.call("ZADD", key_tenant_queues, 0, name)
redis.call("SADD", key_all_queues, ref)
if created then
  return 1
end
return 0
`

// deleteQueueScript removes a queue, its messages and its claims.
// Keys:
// 1. Hash queue
// 2. Sorted Set tenant queues
// 3. Set all queues
// 4. Sorted Set message IDs
// 5. Sorted Set claims
// Arguments:
// 1. Queue name
// 2. Queue ref
// 3. Message key prefix
// 4. Claim key prefix
// 5. Claim message list key prefix
// Returns: Number of deleted messages
const deleteQueueScript = `
-- Keys
local key_queue = KEYS[1]
local key_tenant_queues = KEYS[2]
local key_all_queues = KEYS[3]
local key_messages = KEYS[4]
local key_claims = KEYS[5]

-- Arguments
local name = ARGV[1]
local ref = ARGV[2]
local message_prefix = ARGV[3]
local claim_prefix = ARGV[4]
local claim_messages_prefix = ARGV[5]

local deleted = 0
while true do
  local ids = redis.call("ZRANGE", key_messages, 0, 99)
  if #ids == 0 then break end
  for _, id in ipairs(ids) do
    deleted = deleted + redis.call("DEL", message_prefix .. id)
  end
  redis.call("ZREM", key_messages, unpack(ids))
end
while true do
  local claims = redis.call("ZRANGE", key_claims, 0, 99)
  if #claims == 0 then break end
  for _, claim in ipairs(claims) do
    redis.call("DEL", claim_prefix .. claim, claim_messages_prefix .. claim)
  end
  redis.call("ZREM", key_claims, unpack(claims))
end
redis.call("DEL", key_queue)
redis.call("ZREM", key_tenant_queues, name)
redis.call("SREM", key_all_queues, ref)
return deleted
`

// purgeMessagesScript drops expired and vanished messages from the head of a queue.
// Keys:
// 1. Sorted Set message IDs
// Arguments:
// 1. Unix time
// 2. Max messages to inspect
// 3. Message key prefix
// Returns: Number of purged messages
const purgeMessagesScript = `
-- Keys
local key_messages = KEYS[1]

-- Arguments
local now = tonumber(ARGV[1])
local batch = tonumber(ARGV[2])
local message_prefix = ARGV[3]

local ids = redis.call("ZRANGE", key_messages, 0, batch - 1)
local purged = 0
for _, id in ipairs(ids) do
  local key = message_prefix .. id
  local expires = tonumber(redis.call("HGET", key, "e"))
  if not expires or expires <= now then
    redis.call("DEL", key)
    redis.call("ZREM", key_messages, id)
    purged = purged + 1
  end
end
return purged
`

// deleteMessageScript removes a message and detaches it from its live claim.
// Keys:
// 1. Hash message
// 2. Sorted Set message IDs
// Arguments:
// 1. Message ID
// 2. Queue ref
// 3. Claim ID required to hold the message, or empty
// 4. Unix time
// 5. Claim key prefix
// 6. Claim message list key prefix
// Returns: 1 if deleted, 0 if missing, -1 if not held by the claim
const deleteMessageScript = `
-- Keys
local key_message = KEYS[1]
local key_messages = KEYS[2]

-- Arguments
local id = ARGV[1]
local ref = ARGV[2]
local claim_id = ARGV[3]
local now = tonumber(ARGV[4])
local claim_prefix = ARGV[5]
local claim_messages_prefix = ARGV[6]

local fields = redis.call("HMGET", key_message, "q", "i", "x")
if fields[1] ~= ref then
  return 0
end
local holder = fields[2]
local claim_expires = tonumber(fields[3])
local held = holder and holder ~= "" and claim_expires and claim_expires > now
if claim_id ~= "" and (not held or holder ~= claim_id) then
  return -1
end
redis.call("DEL", key_message)
redis.call("ZREM", key_messages, id)
if held then
  local key_claim = claim_prefix .. holder
  if redis.call("EXISTS", key_claim) == 1 then
    redis.call("LREM", claim_messages_prefix .. holder, 1, id)
    redis.call("HINCRBY", key_claim, "n", -1)
  end
end
return 1
`

// claimMessagesScript marks the oldest visible messages of a queue as claimed.
// Messages shorter-lived than the claim plus grace are extended.
// The claimed IDs are recorded in the claim message list, and a second run
// with the same claim ID returns that list instead of claiming again.
// Keys:
// 1. Sorted Set message IDs
// 2. List claim messages
// Arguments:
// 1. Unix time
// 2. Max messages to claim
// 3. Claim ID
// 4. Claim expire time
// 5. Message expire time
// 6. Message key prefix
// Returns: Claimed message IDs
const claimMessagesScript = `
-- Keys
local key_messages = KEYS[1]
local key_claim_messages = KEYS[2]

-- Arguments
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local claim_id = ARGV[3]
local claim_expires = tonumber(ARGV[4])
local msg_expires = tonumber(ARGV[5])
local message_prefix = ARGV[6]

if redis.call("EXISTS", key_claim_messages) == 1 then
  return redis.call("LRANGE", key_claim_messages, 0, -1)
end

local claimed = {}
local offset = 0
while #claimed < limit do
  local ids = redis.call("ZRANGE", key_messages, offset, offset + 99)
  if #ids == 0 then break end
  offset = offset + #ids
  for _, id in ipairs(ids) do
    local key = message_prefix .. id
    local fields = redis.call("HMGET", key, "e", "x", "c")
    local expires = tonumber(fields[1])
    if not expires then
      -- Vanished through native expiry.
      redis.call("ZREM", key_messages, id)
      offset = offset - 1
    elseif expires > now then
      local held_until = tonumber(fields[2])
      if not held_until or held_until <= now then
        redis.call("HSET", key, "i", claim_id, "x", claim_expires)
        if expires < msg_expires then
          redis.call("HSET", key, "e", msg_expires, "t", msg_expires - tonumber(fields[3]))
          redis.call("EXPIRE", key, msg_expires - now)
        end
        table.insert(claimed, id)
        if #claimed >= limit then break end
      end
    end
  end
end
if #claimed > 0 then
  redis.call("RPUSH", key_claim_messages, unpack(claimed))
  redis.call("EXPIRE", key_claim_messages, math.max(claim_expires - now, 1))
end
return claimed
`

// renewClaimScript resets the expiry of a live claim and its messages.
// Keys:
// 1. Hash claim
// 2. List claim messages
// 3. Sorted Set claims
// Arguments:
// 1. Claim ID
// 2. Unix time
// 3. Claim TTL
// 4. Claim expire time
// 5. Message expire time
// 6. Message key prefix
// Returns: 1 if renewed, 0 if the claim is not live
const renewClaimScript = `
-- Keys
local key_claim = KEYS[1]
local key_claim_messages = KEYS[2]
local key_claims = KEYS[3]

-- Arguments
local claim_id = ARGV[1]
local now = tonumber(ARGV[2])
local claim_ttl = tonumber(ARGV[3])
local claim_expires = tonumber(ARGV[4])
local msg_expires = tonumber(ARGV[5])
local message_prefix = ARGV[6]

if not redis.call("ZSCORE", key_claims, claim_id) then
  return 0
end
local expires = tonumber(redis.call("HGET", key_claim, "e"))
if not expires or expires <= now then
  redis.call("ZREM", key_claims, claim_id)
  return 0
end
local ids = redis.call("LRANGE", key_claim_messages, 0, -1)
for _, id in ipairs(ids) do
  local key = message_prefix .. id
  local fields = redis.call("HMGET", key, "i", "x", "e", "c")
  local held_until = tonumber(fields[2])
  if fields[1] == claim_id and held_until and held_until > now then
    redis.call("HSET", key, "x", claim_expires)
    if tonumber(fields[3]) <= claim_expires then
      redis.call("HSET", key, "e", msg_expires, "t", msg_expires - tonumber(fields[4]))
      redis.call("EXPIRE", key, msg_expires - now)
    end
  end
end
redis.call("HSET", key_claim, "t", claim_ttl, "e", claim_expires)
redis.call("EXPIRE", key_claim, claim_ttl)
if #ids > 0 then
  redis.call("EXPIRE", key_claim_messages, claim_ttl)
end
redis.call("ZADD", key_claims, claim_expires, claim_id)
return 1
`

// releaseClaimScript makes the messages of a live claim visible again and drops the claim.
// Keys:
// 1. Hash claim
// 2. List claim messages
// 3. Sorted Set claims
// Arguments:
// 1. Claim ID
// 2. Unix time
// 3. Message key prefix
// Returns: Number of released messages, or -1 if the claim was not live
const releaseClaimScript = `
-- Keys
local key_claim = KEYS[1]
local key_claim_messages = KEYS[2]
local key_claims = KEYS[3]

-- Arguments
local claim_id = ARGV[1]
local now = tonumber(ARGV[2])
local message_prefix = ARGV[3]

local live = false
if redis.call("ZSCORE", key_claims, claim_id) then
  local expires = tonumber(redis.call("HGET", key_claim, "e"))
  live = expires and expires > now
end
local released = -1
if live then
  released = 0
  local ids = redis.call("LRANGE", key_claim_messages, 0, -1)
  for _, id in ipairs(ids) do
    local key = message_prefix .. id
    if redis.call("HGET", key, "i") == claim_id then
      redis.call("HDEL", key, "i")
      redis.call("HSET", key, "x", now)
      released = released + 1
    end
  end
end
redis.call("ZREM", key_claims, claim_id)
redis.call("DEL", key_claim, key_claim_messages)
return released
`
