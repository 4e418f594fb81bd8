package storage

import "fmt"

// Limits holds service-wide bounds supplied by configuration.
type Limits struct {
	DefaultClaimMessages int   // messages per claim if the client does not ask
	MaxClaimMessages     int   // max messages per claim
	MaxMessageTTL        int64 // seconds
	MaxClaimTTL          int64 // seconds
	MaxClaimGrace        int64 // seconds
	MaxPostBatch         int   // max messages per post
}

// DefaultLimits are used if no configuration is provided.
var DefaultLimits = Limits{
	DefaultClaimMessages: 10,
	MaxClaimMessages:     20,
	MaxMessageTTL:        14 * 24 * 3600,
	MaxClaimTTL:          12 * 3600,
	MaxClaimGrace:        12 * 3600,
	MaxPostBatch:         10,
}

// ClaimLimit returns the number of messages to claim for a requested limit.
// Zero or negative requests get the default, larger ones are clamped.
func (l *Limits) ClaimLimit(requested int) int {
	if requested <= 0 {
		return l.DefaultClaimMessages
	}
	if l.MaxClaimMessages > 0 && requested > l.MaxClaimMessages {
		return l.MaxClaimMessages
	}
	return requested
}

// ValidateClaim checks claim options against the limits.
func (l *Limits) ValidateClaim(opts ClaimOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if l.MaxClaimTTL > 0 && opts.TTL > l.MaxClaimTTL {
		return fmt.Errorf("%w: claim ttl %d exceeds %d", ErrInvalidArgument, opts.TTL, l.MaxClaimTTL)
	}
	if l.MaxClaimGrace > 0 && opts.Grace > l.MaxClaimGrace {
		return fmt.Errorf("%w: claim grace %d exceeds %d", ErrInvalidArgument, opts.Grace, l.MaxClaimGrace)
	}
	return nil
}

// ValidateMessages checks a batch of messages to post against the limits.
func (l *Limits) ValidateMessages(msgs []NewMessage) error {
	if len(msgs) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidArgument)
	}
	if l.MaxPostBatch > 0 && len(msgs) > l.MaxPostBatch {
		return fmt.Errorf("%w: %d messages exceed batch size %d", ErrInvalidArgument, len(msgs), l.MaxPostBatch)
	}
	for i, msg := range msgs {
		if err := ValidateMessage(msg); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if l.MaxMessageTTL > 0 && msg.TTL > l.MaxMessageTTL {
			return fmt.Errorf("%w: message %d ttl %d exceeds %d", ErrInvalidArgument, i, msg.TTL, l.MaxMessageTTL)
		}
	}
	return nil
}

// ValidateMessage checks the invariants every stored message must satisfy.
func ValidateMessage(msg NewMessage) error {
	if msg.TTL <= 0 {
		return fmt.Errorf("%w: message ttl must be positive, got %d", ErrInvalidArgument, msg.TTL)
	}
	return nil
}
