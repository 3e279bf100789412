package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkdirRmdir_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub")

	assert.NoError(t, Mkdir(dir))
	assert.True(t, IsDir(dir))

	// Mkdir on an already-existing directory is not an error.
	assert.NoError(t, Mkdir(dir))

	assert.NoError(t, Rmdir(dir))
	assert.False(t, IsDir(dir))

	// Rmdir on an already-gone directory is not an error.
	assert.NoError(t, Rmdir(dir))
}

func TestWriteReadFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control")
	contents := []byte("1048576")

	require.NoError(t, WriteFile(path, contents))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, contents, got)
}

func TestWriteFile_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control")
	require.NoError(t, WriteFile(path, []byte("a long previous value")))
	require.NoError(t, WriteFile(path, []byte("7")))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("7"), got)
}

func TestReadFile_LargerThanChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big")
	contents := make([]byte, chunkSize*3+17)
	for i := range contents {
		contents[i] = byte('a' + i%26)
	}
	require.NoError(t, WriteFile(path, contents))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, contents, got)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestIsDir_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	assert.False(t, IsDir(path))
}
