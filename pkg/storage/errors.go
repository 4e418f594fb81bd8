package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is the parent of all "does not exist" errors.
// It is terminal and never retried.
var ErrNotFound = errors.New("not found")

// Not found errors.
var (
	ErrQueueNotFound   = fmt.Errorf("queue %w", ErrNotFound)
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)
	ErrClaimNotFound   = fmt.Errorf("claim %w", ErrNotFound)
)

// ErrConnectivity is returned when the backend stays unreachable after all retries.
var ErrConnectivity = errors.New("storage backend unavailable")

// ErrInvalidArgument is returned for out-of-range parameters.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrClaimMismatch is returned when deleting a message on behalf of a claim that does not hold it.
var ErrClaimMismatch = errors.New("message is not held by claim")

// QueueNotFound annotates ErrQueueNotFound with the queue name.
func QueueNotFound(name, tenant string) error {
	return fmt.Errorf("%w: %q (tenant %q)", ErrQueueNotFound, name, tenant)
}

// MessageNotFound annotates ErrMessageNotFound with the message ID.
func MessageNotFound(id string) error {
	return fmt.Errorf("%w: %q", ErrMessageNotFound, id)
}

// ClaimNotFound annotates ErrClaimNotFound with the claim ID.
func ClaimNotFound(id string) error {
	return fmt.Errorf("%w: %q", ErrClaimNotFound, id)
}
