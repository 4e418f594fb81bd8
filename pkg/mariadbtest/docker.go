package mariadbtest

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SupportsDocker checks if a Docker daemon is reachable.
func SupportsDocker() bool {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return false
	}
	return pool.Client.Ping() == nil
}

// Image is the MariaDB image used for Docker backends.
// QUEUES_MARIADB_IMAGE overrides it, e.g. "mariadb:10.6".
var Image = "mariadb:10.5-focal"

// Seconds after which Docker kills a container leaked by a crashed test.
const containerExpiry = 600

// Docker is a MariaDB server running in a throwaway Docker container.
type Docker struct {
	Resource *dockertest.Resource
	config   *mysql.Config
}

// Assert Docker implements Backend.
var _ Backend = (*Docker)(nil)

// NewDocker creates and starts a Docker test configuration.
// It terminates the test if creation fails.
func NewDocker(t testing.TB) *Docker {
	pool, err := dockertest.NewPool("")
	require.NoError(t, err, "Connection to Docker")
	t.Log("Connected to Docker")
	pool.MaxWait = 2 * time.Minute
	var passBytes [16]byte
	_, err = rand.Read(passBytes[:])
	require.NoError(t, err, "Getting random password bytes")
	password := hex.EncodeToString(passBytes[:])
	image := Image
	if env := os.Getenv("QUEUES_MARIADB_IMAGE"); env != "" {
		image = env
	}
	repo, tag := image, "latest"
	if i := strings.LastIndexByte(image, ':'); i > 0 {
		repo, tag = image[:i], image[i+1:]
	}
	runOpts := &dockertest.RunOptions{
		Repository: repo,
		Tag:        tag,
		Cmd:        []string{"--character-set-server=utf8mb4", "--innodb-lock-wait-timeout=10"},
		Env: []string{
			"MYSQL_DATABASE=queues",
			"MYSQL_ROOT_PASSWORD=" + password,
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err, "Creating MariaDB")
	t.Log("Created MariaDB Docker container", image)
	if err := resource.Expire(containerExpiry); err != nil {
		t.Log("Failed to set container expiry:", err)
	}
	sqlConfig := mysql.NewConfig()
	sqlConfig.User = "root"
	sqlConfig.Passwd = password
	sqlConfig.Net = "tcp"
	sqlConfig.Addr = "localhost:" + resource.GetPort("3306/tcp")
	sqlConfig.DBName = "queues"
	db, err := open(*sqlConfig, sqlConfig.DBName)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, pool.Retry(func() error {
		if err := db.Ping(); err != nil {
			t.Log("Ping failed, retrying:", err)
			return err
		}
		return nil
	}), "Connection to MariaDB")
	return &Docker{
		Resource: resource,
		config:   sqlConfig,
	}
}

// MySQLConfig returns the base config for connecting to Dockerized MySQL.
func (m *Docker) MySQLConfig() *mysql.Config {
	return m.config
}

// DB opens the specified database.
// An empty string opens the default database.
func (m *Docker) DB(name string) (*sqlx.DB, error) {
	if name == "" {
		name = m.config.DBName
	}
	return open(*m.config, name)
}

// Close force removes the MariaDB container and destroys all data.
func (m *Docker) Close(t testing.TB) {
	assert.NoError(t, m.Resource.Close(), "Removing container")
}
