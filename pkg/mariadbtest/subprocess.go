package mariadbtest

import (
	"errors"
	"io/ioutil"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.od2.network/queues/pkg/exectest"
)

// Server programs looked up in $PATH, falling back to the Debian install locations.
var (
	mysqldPath      = lookup("mysqld", "/usr/sbin/mysqld")
	installDBPath   = lookup("mysql_install_db", "/usr/bin/mysql_install_db")
	defaultDatabase = "root"
)

func lookup(program, fallback string) string {
	if path, err := exec.LookPath(program); err == nil {
		return path
	}
	return fallback
}

// SupportsSubprocess checks if the system supports running MySQL subprocess unit tests.
func SupportsSubprocess() bool {
	for _, path := range []string{mysqldPath, installDBPath} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// Subprocess runs a local MariaDB server in a temp directory.
type Subprocess struct {
	Dir    string
	BG     *exectest.Background
	config *mysql.Config
}

// Assert Subprocess implements Backend.
var _ Backend = (*Subprocess)(nil)

// NewSubprocess spawns the test MariaDB server in the background.
func NewSubprocess(t testing.TB) *Subprocess {
	dir, err := ioutil.TempDir("", "mariadbtest-*")
	require.NoError(t, err, "Creating temp dir")
	dataDir := filepath.Join(dir, "data")
	err = os.Mkdir(dataDir, 0750)
	require.NoError(t, err, "Creating data dir")
	current, err := user.Current()
	require.NoError(t, err, "Reading current user")
	username := current.Username
	// Bootstrap the MySQL data dir.
	installCmd := exec.Command(installDBPath,
		"--user="+username,
		"--datadir="+dataDir,
		"--auth-root-authentication-method=socket",
		"--auth-root-socket-user="+username,
		"--skip-test-db",
		"--skip-name-resolve",
		"--force")
	installCmd.Stdout = &exectest.PipeCapture{
		TB:     t,
		Prefix: "mysql_install_db: ",
	}
	installCmd.Stderr = &exectest.PipeCapture{
		TB:     t,
		Prefix: "mysql_install_db (stderr): ",
	}
	err = installCmd.Run()
	require.NoError(t, err, "Running mysql_install_db")
	t.Log("mariadbtest: DB path:", dataDir)
	// Start the MySQL server in the background.
	socketPath := filepath.Join(dir, "mysql.sock")
	cmd := exec.Command(mysqldPath,
		"--no-defaults",
		"--user="+username,
		"--datadir", dataDir,
		"--skip-networking",
		"--socket", socketPath)
	bg := exectest.NewBackground(t, cmd)
	bg.Name = "mysql"
	bg.LogStdout = true
	bg.LogStderr = true
	bg.Start()
	config := mysql.NewConfig()
	config.Net = "unix"
	config.Addr = socketPath
	config.User = username
	// Quickly connect to ping instance for startup checks.
	startupClient, err := open(*config, "")
	require.NoError(t, err, "Client for startup checks")
	defer startupClient.Close()
	startupTicker := time.NewTicker(100 * time.Millisecond)
	defer startupTicker.Stop()
	var pingErr error
tryLoop:
	for try := 0; try < 50; try++ {
		if try > 0 {
			select {
			case <-startupTicker.C:
				break
			case <-bg.Done():
				break tryLoop
			}
		}
		pingErr = startupClient.Ping()
		if errors.Is(pingErr, os.ErrNotExist) {
			continue // MySQL hasn't opened socket yet
		} else if pingErr != nil {
			t.Fatal("Failed to ping MySQL:", pingErr.Error())
		}
		t.Log("mariadbtest: MySQL is up")
		_, err = startupClient.Exec("CREATE DATABASE " + defaultDatabase + ";")
		require.NoError(t, err, "Creating initial database")
		return &Subprocess{
			Dir:    dir,
			BG:     bg,
			config: config,
		}
	}
	bg.Close()
	if err := bg.Err(); err != nil {
		t.Fatal("Subprocess failed:", err)
	}
	t.Fatal("Failed to ping MySQL:", pingErr)
	return nil
}

// DB opens the specified database.
// An empty string opens the default database.
func (s *Subprocess) DB(name string) (*sqlx.DB, error) {
	if name == "" {
		name = defaultDatabase
	}
	return open(*s.config, name)
}

// MySQLConfig returns the base config for connecting to the local MySQL server.
func (s *Subprocess) MySQLConfig() *mysql.Config {
	return s.config
}

// Close kills the subprocess and removes the temp dir.
func (s *Subprocess) Close(t testing.TB) {
	t.Log("mariadbtest: Removing", s.Dir)
	s.BG.Close()
	_ = os.RemoveAll(s.Dir)
}
