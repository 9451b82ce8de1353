package pstore

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorent/gorent/metainfo"
)

func TestStoreBlockAndVerifyPiece(t *testing.T) {
	root := t.TempDir()
	s := New(root, "demo")

	data := []byte("0123456789abcdef") // 16 bytes
	require.NoError(t, s.StoreBlock(data[:8], 0))
	require.NoError(t, s.StoreBlock(data[8:], 0))

	expected := sha1.Sum(data)
	ok, err := s.VerifyPiece(0, expected)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPieceMismatchDeletesFile(t *testing.T) {
	root := t.TempDir()
	s := New(root, "demo")
	require.NoError(t, s.StoreBlock([]byte("garbage-data"), 0))

	var wrongHash [20]byte
	ok, err := s.VerifyPiece(0, wrongHash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, statErr := os.Stat(s.piecePath(0))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAssembleSingleFileProducesExactLength(t *testing.T) {
	root := t.TempDir()
	s := New(root, "demo")
	info := metainfo.Info{PieceLength: 4, Length: 10, Name: "demo.bin"}

	require.NoError(t, s.StoreBlock([]byte("aaaa"), 0))
	require.NoError(t, s.StoreBlock([]byte("bbbb"), 1))
	require.NoError(t, s.StoreBlock([]byte("cc"), 2))

	downloadDir := t.TempDir()
	outPath, err := Assemble(info, s, downloadDir, info.Name)
	require.NoError(t, err)

	fi, err := os.Stat(outPath)
	require.NoError(t, err)
	assert.EqualValues(t, info.TotalLength(), fi.Size())
	assert.Equal(t, filepath.Join(downloadDir, "demo.bin"), outPath)
}

func TestAssembleRefusesMultiFile(t *testing.T) {
	root := t.TempDir()
	s := New(root, "demo")
	info := metainfo.Info{PieceLength: 4, Name: "demo", Files: []metainfo.FileEntry{{Length: 4, Path: []string{"a"}}}}

	_, err := Assemble(info, s, t.TempDir(), info.Name)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMultiFileUnsupported)
}

func TestClearRemovesWorkingDirectory(t *testing.T) {
	root := t.TempDir()
	s := New(root, "demo")
	require.NoError(t, s.StoreBlock([]byte("x"), 0))
	require.NoError(t, s.Clear())

	_, err := os.Stat(s.dir)
	assert.True(t, os.IsNotExist(err))
}
