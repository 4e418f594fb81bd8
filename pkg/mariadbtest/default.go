// Package mariadbtest constructs short-lived MariaDB instances for unit-testing.
//
// Available backends: Subprocess (local mysqld), Docker.
package mariadbtest

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// Backend is an available MariaDB test backend.
type Backend interface {
	MySQLConfig() *mysql.Config
	DB(name string) (*sqlx.DB, error)
	Close(t testing.TB)
}

// Default constructs a MariaDB server/client session
// from the fastest available backend.
// The test is skipped if neither a local server nor Docker is available.
func Default(t testing.TB) Backend {
	if SupportsSubprocess() {
		t.Log("mariadbtest: MySQL server installed, using subprocess")
		return NewSubprocess(t)
	}
	if SupportsDocker() {
		t.Log("mariadbtest: Falling back to Docker")
		return NewDocker(t)
	}
	t.Skip("mariadbtest: Neither MySQL server nor Docker available")
	return nil
}

// NewDatabase creates an empty database with a random name and connects to it.
func NewDatabase(t testing.TB, b Backend) *sqlx.DB {
	var nameBytes [6]byte
	_, err := rand.Read(nameBytes[:])
	require.NoError(t, err, "Getting random database name")
	name := "test_" + hex.EncodeToString(nameBytes[:])
	root, err := b.DB("")
	require.NoError(t, err, "Connecting to default database")
	defer root.Close()
	_, err = root.Exec("CREATE DATABASE " + name + ";")
	require.NoError(t, err, "Creating database")
	db, err := b.DB(name)
	require.NoError(t, err, "Connecting to database")
	return db
}

// open connects with the settings the stores rely on.
func open(config mysql.Config, name string) (*sqlx.DB, error) {
	config.DBName = name
	config.AllowNativePasswords = true
	config.InterpolateParams = false
	return sqlx.Open("mysql", config.FormatDSN())
}
