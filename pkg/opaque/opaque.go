// Package opaque converts internal message sequence numbers to external tokens and back.
//
// The encoding hides internal ordering from API users.
// It is a fixed XOR mask plus a non-decimal radix, so it is not a security boundary:
// clients must simply not make assumptions about the relationship
// between message IDs, markers and claim IDs.
//
// Message IDs and pagination markers use independent masks and radixes,
// so a token of one kind never decodes to the same sequence number as the other.
package opaque

import (
	"errors"
	"strconv"
)

// ErrBadIdentifier is returned when decoding a malformed token.
var ErrBadIdentifier = errors.New("bad identifier")

// The masks are arbitrary. They only have to stay stable across releases.
const (
	messageIDMask = 0x5c693a53
	markerMask    = 0x3c96a355
)

const (
	messageIDBase = 16
	markerBase    = 8
)

// EncodeMessageID returns the external token of a message sequence number.
func EncodeMessageID(id int64) string {
	return encode(id, messageIDMask, messageIDBase)
}

// DecodeMessageID returns the message sequence number of a token
// or ErrBadIdentifier if the token was not produced by EncodeMessageID.
func DecodeMessageID(token string) (int64, error) {
	return decode(token, messageIDMask, messageIDBase)
}

// EncodeMarker returns the pagination marker pointing after the given sequence number.
func EncodeMarker(id int64) string {
	return encode(id, markerMask, markerBase)
}

// DecodeMarker returns the sequence number of a pagination marker
// or ErrBadIdentifier if the marker was not produced by EncodeMarker.
func DecodeMarker(marker string) (int64, error) {
	return decode(marker, markerMask, markerBase)
}

func encode(id int64, mask uint64, base int) string {
	return strconv.FormatUint(uint64(id)^mask, base)
}

func decode(token string, mask uint64, base int) (int64, error) {
	if token == "" {
		return 0, ErrBadIdentifier
	}
	n, err := strconv.ParseUint(token, base, 64)
	if err != nil {
		return 0, ErrBadIdentifier
	}
	id := n ^ mask
	if id > 1<<63-1 {
		return 0, ErrBadIdentifier
	}
	// Only accept the canonical spelling (no leading zeros, lowercase),
	// so every sequence number has exactly one token.
	if encode(int64(id), mask, base) != token {
		return 0, ErrBadIdentifier
	}
	return int64(id), nil
}
