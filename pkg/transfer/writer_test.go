package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterWriteAtIsPositionedNotSequential(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	w, err := OpenWriter(path, 10)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteAt([]byte("world"), 5))
	require.NoError(t, w.WriteAt([]byte("hello"), 0))
	require.NoError(t, w.Sync())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(got))
}

func TestOpenWriterPreallocatesKnownSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	w, err := OpenWriter(path, 4096)
	require.NoError(t, err)
	defer w.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
}
