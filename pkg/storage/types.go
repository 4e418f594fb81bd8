package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueInfo describes a queue as returned by QueueStore.List.
type QueueInfo struct {
	Name     string          `json:"name"`
	Metadata json.RawMessage `json:"metadata"`
}

// QueueRef identifies a queue across tenants.
type QueueRef struct {
	Tenant string
	Name   string
}

func (q QueueRef) String() string {
	return q.Tenant + "/" + q.Name
}

// QueueStats holds message counts of a queue.
type QueueStats struct {
	Messages int64 `json:"messages"` // live messages
	Claimed  int64 `json:"claimed"`  // live messages held by live claims
	Free     int64 `json:"free"`     // live messages not claimed
}

// NewMessage is a message to be posted.
type NewMessage struct {
	TTL  int64           `json:"ttl"` // seconds
	Body json.RawMessage `json:"body"`
}

// Message is the basic view of a stored message.
type Message struct {
	ID     string          `json:"id"`
	TTL    int64           `json:"ttl"` // seconds
	Age    int64           `json:"age"` // seconds
	Body   json.RawMessage `json:"body"`
	Marker string          `json:"marker,omitempty"` // only set by List
}

// ListOptions controls MessageStore.List.
type ListOptions struct {
	Marker   string // resume strictly after this marker
	Limit    int
	Echo     bool   // include messages posted by ClientID
	ClientID string // the listing client
}

// ClaimOptions holds the parameters of creating or renewing a claim.
type ClaimOptions struct {
	TTL   int64 `json:"ttl"`   // seconds until the claim expires
	Grace int64 `json:"grace"` // extra seconds claimed messages live past the claim
}

// Validate checks that the options are in range.
func (o ClaimOptions) Validate() error {
	if o.TTL <= 0 {
		return fmt.Errorf("%w: claim ttl must be positive, got %d", ErrInvalidArgument, o.TTL)
	}
	if o.Grace < 0 {
		return fmt.Errorf("%w: claim grace must not be negative, got %d", ErrInvalidArgument, o.Grace)
	}
	return nil
}

// ClaimTimes holds the expiry times derived from ClaimOptions at one point in time.
type ClaimTimes struct {
	Now          int64 // unix
	ClaimExpires int64 // unix, now + ttl
	MsgTTL       int64 // seconds, ttl + grace
	MsgExpires   int64 // unix, claim expiry + grace
}

// Times computes the claim and message expiry for a claim created or renewed at now.
func (o ClaimOptions) Times(now time.Time) ClaimTimes {
	t := ClaimTimes{Now: now.Unix()}
	t.ClaimExpires = t.Now + o.TTL
	t.MsgTTL = o.TTL + o.Grace
	t.MsgExpires = t.ClaimExpires + o.Grace
	return t
}

// Claim is the basic view of a claim.
type Claim struct {
	ID       string `json:"id"`
	TTL      int64  `json:"ttl"` // seconds
	Age      int64  `json:"age"` // seconds since creation or last renewal
	Messages int64  `json:"-"`   // number of held messages still stored
}

// Clock returns the current time. Stores take a Clock so tests can simulate elapsed time.
type Clock func() time.Time
