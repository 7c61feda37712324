package consumer_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replicate/kdl/pkg/consumer"
)

func TestFileWriterConsumeMovesFileIntoPlace(t *testing.T) {
	r := require.New(t)

	buf := generateTestContent(kB)
	src := writeTempSource(t, buf)
	dest := filepath.Join(t.TempDir(), "final.bin")

	writeFileConsumer := consumer.FileWriter{}
	r.NoError(writeFileConsumer.Consume(src, dest))

	fileContent, err := os.ReadFile(dest)
	r.NoError(err)
	r.Equal(buf, fileContent)

	_, err = os.Stat(src)
	r.True(os.IsNotExist(err), "source should have been renamed away")
}

func TestFileWriterConsumeRefusesToOverwriteByDefault(t *testing.T) {
	r := require.New(t)

	dest := filepath.Join(t.TempDir(), "final.bin")
	r.NoError(os.WriteFile(dest, []byte("existing"), 0o644))

	src := writeTempSource(t, generateTestContent(kB))
	writeFileConsumer := consumer.FileWriter{}
	r.Error(writeFileConsumer.Consume(src, dest))
}

func TestFileWriterConsumeOverwritesWhenEnabled(t *testing.T) {
	r := require.New(t)

	dest := filepath.Join(t.TempDir(), "final.bin")
	r.NoError(os.WriteFile(dest, []byte("stale content"), 0o644))

	buf := generateTestContent(kB)
	src := writeTempSource(t, buf)

	writeFileConsumer := consumer.FileWriter{}
	writeFileConsumer.EnableOverwrite()
	r.NoError(writeFileConsumer.Consume(src, dest))

	fileContent, err := os.ReadFile(dest)
	r.NoError(err)
	r.Equal(buf, fileContent)
}

func TestFileWriterConsumeIsNoOpWhenSourceIsDest(t *testing.T) {
	r := require.New(t)
	src := writeTempSource(t, generateTestContent(kB))

	writeFileConsumer := consumer.FileWriter{}
	r.NoError(writeFileConsumer.Consume(src, src))

	_, err := os.Stat(src)
	r.NoError(err)
}
