package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTorrentLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := NewTorrentLogger(dir, "demo")
	require.NoError(t, err)
	defer closeFn()

	logger.Info("hello")

	data, err := os.ReadFile(filepath.Join(dir, "demo-logs.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
