package opaque

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageIDRoundTrip(t *testing.T) {
	for _, id := range []int64{0, 1, 1001, 1002, 0x5c693a53, 1 << 40, math.MaxInt64} {
		token := EncodeMessageID(id)
		decoded, err := DecodeMessageID(token)
		require.NoError(t, err, token)
		assert.Equal(t, id, decoded, token)
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	for _, id := range []int64{0, 1, 1001, 0x3c96a355, 1 << 50, math.MaxInt64} {
		marker := EncodeMarker(id)
		decoded, err := DecodeMarker(marker)
		require.NoError(t, err, marker)
		assert.Equal(t, id, decoded, marker)
	}
}

func TestKnownTokens(t *testing.T) {
	// Tokens must stay stable across releases.
	assert.Equal(t, "5c6939ba", EncodeMessageID(1001))
	assert.Equal(t, "7445520274", EncodeMarker(1001))
}

func TestTokensAreDistinct(t *testing.T) {
	seen := make(map[string]int64)
	for id := int64(1000); id < 3000; id++ {
		token := EncodeMessageID(id)
		prev, dup := seen[token]
		require.False(t, dup, "%d and %d both map to %s", prev, id, token)
		seen[token] = id
	}
	// Message IDs and markers are not interchangeable.
	assert.NotEqual(t, EncodeMessageID(1001), EncodeMarker(1001))
}

func TestDecodeMalformed(t *testing.T) {
	for _, token := range []string{
		"",
		"xyz",
		"-1",
		"+5c6939ba",
		"0x5c6939ba",
		"5C6939BA",           // non-canonical case
		"05c6939ba",          // leading zero
		"5c69 39ba",          // whitespace
		"5c_6939ba",          // underscore
		"ffffffffffffffffff", // overflow
		"ffffffffffffffff",   // above int64 range after unmasking
	} {
		_, err := DecodeMessageID(token)
		assert.ErrorIs(t, err, ErrBadIdentifier, "%q", token)
	}
	for _, marker := range []string{"", "8", "9", "abc", "-17", "0o17", "07445520274"} {
		_, err := DecodeMarker(marker)
		assert.ErrorIs(t, err, ErrBadIdentifier, "%q", marker)
	}
}
