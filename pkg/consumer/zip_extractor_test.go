package consumer_test

import (
	"archive/zip"
	"bytes"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replicate/kdl/pkg/consumer"
)

const (
	zipFile1Content = "This is the content of file1."
	zipFile2Content = "This is the content of nested/file2."
	zipFile1Path    = "file1.txt"
	zipFile2Path    = "nested/file2.txt"
)

func createZipFileBytesBuffer() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(zipFile1Path)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(zipFile1Content)); err != nil {
		return nil, err
	}

	w, err = zw.Create(zipFile2Path)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(zipFile2Content)); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func TestZipExtractorConsume(t *testing.T) {
	r := require.New(t)

	zipFileBytes, err := createZipFileBytesBuffer()
	r.NoError(err)

	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "archive.zip")
	r.NoError(os.WriteFile(src, zipFileBytes, 0o644))

	zipConsumer := consumer.ZipExtractor{}
	targetDir := path.Join(tmpDir, "extract")
	r.NoError(zipConsumer.Consume(src, targetDir))

	content, err := os.ReadFile(path.Join(targetDir, zipFile1Path))
	r.NoError(err)
	r.Equal(zipFile1Content, string(content))

	content, err = os.ReadFile(path.Join(targetDir, zipFile2Path))
	r.NoError(err)
	r.Equal(zipFile2Content, string(content))

	_, err = os.Stat(src)
	r.True(os.IsNotExist(err), "archive should be removed after extraction")
}
