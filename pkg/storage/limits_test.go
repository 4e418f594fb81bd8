package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClaimLimit(t *testing.T) {
	l := DefaultLimits
	assert.Equal(t, 10, l.ClaimLimit(0))
	assert.Equal(t, 10, l.ClaimLimit(-1))
	assert.Equal(t, 5, l.ClaimLimit(5))
	assert.Equal(t, 20, l.ClaimLimit(500))
}

func TestValidateClaim(t *testing.T) {
	l := DefaultLimits
	assert.NoError(t, l.ValidateClaim(ClaimOptions{TTL: 30, Grace: 0}))
	assert.ErrorIs(t, l.ValidateClaim(ClaimOptions{TTL: 0}), ErrInvalidArgument)
	assert.ErrorIs(t, l.ValidateClaim(ClaimOptions{TTL: 30, Grace: -1}), ErrInvalidArgument)
	assert.ErrorIs(t, l.ValidateClaim(ClaimOptions{TTL: l.MaxClaimTTL + 1}), ErrInvalidArgument)
}

func TestValidateMessages(t *testing.T) {
	l := DefaultLimits
	assert.NoError(t, l.ValidateMessages([]NewMessage{{TTL: 60}}))
	assert.ErrorIs(t, l.ValidateMessages(nil), ErrInvalidArgument)
	assert.ErrorIs(t, l.ValidateMessages([]NewMessage{{TTL: 0}}), ErrInvalidArgument)
	assert.ErrorIs(t, l.ValidateMessages(make([]NewMessage, 11)), ErrInvalidArgument)
}

func TestClaimTimes(t *testing.T) {
	now := time.Unix(1000, 0)
	times := ClaimOptions{TTL: 30, Grace: 10}.Times(now)
	assert.Equal(t, ClaimTimes{
		Now:          1000,
		ClaimExpires: 1030,
		MsgTTL:       40,
		MsgExpires:   1040,
	}, times)
}
