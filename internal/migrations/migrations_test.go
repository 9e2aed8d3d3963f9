package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_ContainsPairedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(FS, Path)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["000001_init.up.sql"])
	assert.True(t, names["000001_init.down.sql"])

	up, err := fs.ReadFile(FS, Path+"/000001_init.up.sql")
	require.NoError(t, err)
	for _, table := range []string{"action_submissions", "indexer_cursor", "processed_logs", "compact_event_delta", "rfq_state"} {
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table)
	}
}
