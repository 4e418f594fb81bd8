package mariadbtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubprocess(t *testing.T) {
	if !SupportsSubprocess() {
		t.Skip("No MySQL server program found")
	}
	sub := NewSubprocess(t)
	defer sub.Close(t)
	db, err := sub.DB("")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping())
}

func TestNewDatabase(t *testing.T) {
	backend := Default(t)
	defer backend.Close(t)
	a := NewDatabase(t, backend)
	defer a.Close()
	b := NewDatabase(t, backend)
	defer b.Close()
	var nameA, nameB string
	require.NoError(t, a.Get(&nameA, "SELECT DATABASE();"))
	require.NoError(t, b.Get(&nameB, "SELECT DATABASE();"))
	assert.NotEqual(t, nameA, nameB)
}
