package admin_tool

import (
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.od2.network/queues/cmd/providers/providerstest"
)

func TestApp(t *testing.T) {
	providerstest.ValidateInvokes(t,
		runQueueCreate, runQueueList, runQueueGet, runQueueStats, runQueueDelete, runQueueImport,
		runMessagePost, runMessageList, runMessageGet, runMessageDelete,
		runClaimCreate, runClaimGet, runClaimRenew, runClaimRelease,
	)
}

func TestReadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queues.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(`
[[queue]]
tenant = "acme"
name = "jobs"
[queue.metadata]
purpose = "builds"
retries = 3

[[queue]]
name = "plain"
`), 0600))
	cat, err := readCatalog(path)
	require.NoError(t, err)
	require.Len(t, cat.Queues, 2)
	assert.Equal(t, "acme", cat.Queues[0].Tenant)
	assert.Equal(t, "jobs", cat.Queues[0].Name)
	metadata, err := json.Marshal(cat.Queues[0].Metadata)
	require.NoError(t, err)
	assert.JSONEq(t, `{"purpose":"builds","retries":3}`, string(metadata))
	assert.Equal(t, "plain", cat.Queues[1].Name)
	assert.Nil(t, cat.Queues[1].Metadata)
}

func TestReadCatalog_MissingName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queues.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte("[[queue]]\ntenant = \"acme\"\n"), 0600))
	_, err := readCatalog(path)
	assert.Error(t, err)
}
