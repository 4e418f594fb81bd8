package redisstore

import (
	"strconv"
	"strings"
)

// Keys derives the Redis keys of the store.
//
// Layout:
//   Queue          Hash: m => metadata, c => creation time
//   TenantQueues   Sorted Set: queue names of a tenant (all scores 0, ordered by name)
//   AllQueues      Set: tenant \x00 name of all queues
//   MessageSet     Sorted Set: message IDs of a queue scored by ID (pending and claimed)
//   Message        Hash: see message fields
//   MessageCounter Int64: last allocated message sequence
//   Claim          Hash: t => ttl, e => expires, n => message count
//   ClaimMessages  List: message IDs held by a claim
//   Claims         Sorted Set: live claim IDs of a queue scored by expiry
type Keys struct {
	Prefix string
}

// NewKeys returns the keys under a common prefix.
func NewKeys(prefix string) Keys {
	return Keys{Prefix: prefix}
}

func (k Keys) key(kind byte, parts ...string) string {
	var builder strings.Builder
	builder.WriteString(k.Prefix)
	builder.WriteString("queues_v0\x00")
	builder.WriteByte(kind)
	for _, part := range parts {
		builder.WriteByte(0x00)
		builder.WriteString(part)
	}
	return builder.String()
}

// Queue is the metadata hash of a queue.
func (k Keys) Queue(tenant, name string) string {
	return k.key('Q', tenant, name)
}

// TenantQueues indexes the queue names of a tenant.
func (k Keys) TenantQueues(tenant string) string {
	return k.key('T', tenant)
}

// AllQueues indexes all queues for GC.
func (k Keys) AllQueues() string {
	return k.key('A')
}

// MessageSet indexes the messages of a queue.
func (k Keys) MessageSet(tenant, name string) string {
	return k.key('S', tenant, name)
}

// MessagePrefix is prepended to a decimal message ID to form its hash key.
func (k Keys) MessagePrefix() string {
	return k.key('M') + "\x00"
}

// Message is the hash of a message.
func (k Keys) Message(id int64) string {
	return k.MessagePrefix() + strconv.FormatInt(id, 10)
}

// MessageCounter allocates message IDs.
func (k Keys) MessageCounter() string {
	return k.key('I')
}

// ClaimPrefix is prepended to a claim ID to form its hash key.
func (k Keys) ClaimPrefix() string {
	return k.key('C') + "\x00"
}

// Claim is the bookkeeping hash of a claim.
func (k Keys) Claim(id string) string {
	return k.ClaimPrefix() + id
}

// ClaimMessagesPrefix is prepended to a claim ID to form its message list key.
func (k Keys) ClaimMessagesPrefix() string {
	return k.key('L') + "\x00"
}

// ClaimMessages is the list of message IDs held by a claim.
func (k Keys) ClaimMessages(id string) string {
	return k.ClaimMessagesPrefix() + id
}

// Claims indexes the claims of a queue by expiry.
func (k Keys) Claims(tenant, name string) string {
	return k.key('X', tenant, name)
}

// queueRef is the AllQueues member and the message owner field of a queue.
func queueRef(tenant, name string) string {
	return tenant + "\x00" + name
}

// Message hash fields.
const (
	fieldQueue        = "q" // queue ref
	fieldTTL          = "t" // seconds
	fieldExpires      = "e" // unix
	fieldCreated      = "c" // unix
	fieldBody         = "b"
	fieldClient       = "k"
	fieldClaimID      = "i"
	fieldClaimExpires = "x" // unix
)

// Claim hash fields.
const (
	fieldClaimTTL      = "t"
	fieldClaimExp      = "e"
	fieldClaimMessages = "n"
)

// Queue hash fields.
const (
	fieldMetadata     = "m"
	fieldQueueCreated = "c"
)
