package factory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("ES_ADDRESSES", "http://es1:9200, http://es2:9200,")
	t.Setenv("SYNC_WORKERS", "4")
	t.Setenv("QUERY_TIMEOUT", "12s")
	t.Setenv("SCHEDULE_ENABLED", "true")
	t.Setenv("SYNC_READ_BATCH_SIZE", "lots")

	cfg := ConfigFromEnv()
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.Search.Addresses)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 12*time.Second, cfg.Query.Timeout)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 1000, cfg.Sync.ReadBatchSize, "malformed values keep the default")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("FORMSYNC_DOTENV_CHECK=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FORMSYNC_DOTENV_CHECK") })

	LoadDotEnv(filepath.Join(dir, "missing.env"), path)
	assert.Equal(t, "loaded", os.Getenv("FORMSYNC_DOTENV_CHECK"))
}
