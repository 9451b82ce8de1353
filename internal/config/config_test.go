package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestParseClientConfig(t *testing.T) {
	path := writeConfig(t, "port 6881\ndownload /tmp/downloads\nlogs /tmp/logs\n")
	cfg, err := ParseClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 6881, cfg.Port)
	assert.Equal(t, "/tmp/downloads", cfg.DownloadDir)
	assert.Equal(t, "/tmp/logs", cfg.LogsDir)
}

func TestParseClientConfigMissingKeyIsFatal(t *testing.T) {
	path := writeConfig(t, "port 6881\ndownload /tmp/downloads\n")
	_, err := ParseClientConfig(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestParseClientConfigBadPortIsFatal(t *testing.T) {
	path := writeConfig(t, "port notanumber\ndownload /tmp\nlogs /tmp\n")
	_, err := ParseClientConfig(path)
	require.Error(t, err)
}

func TestParseTrackerConfig(t *testing.T) {
	path := writeConfig(t, "number_of_threads 8\ntorrents_path /srv/torrents\n")
	cfg, err := ParseTrackerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.NumberOfThreads)
	assert.Equal(t, "/srv/torrents", cfg.TorrentsPath)
}

func TestParseIgnoresBlankLines(t *testing.T) {
	path := writeConfig(t, "port 6881\n\ndownload /tmp\nlogs /tmp\n\n")
	cfg, err := ParseClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 6881, cfg.Port)
}
