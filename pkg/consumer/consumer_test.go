package consumer_test

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

const kB = 1024

// generateTestContent generates a byte slice of a random size > 1KiB
func generateTestContent(size int64) []byte {
	content := make([]byte, size)
	// Generate random bytes and write them to the content slice
	for i := range content {
		content[i] = byte(rand.Intn(256))
	}
	return content
}

// writeTempSource writes content to a fresh file under t.TempDir() and
// returns its path, standing in for the file a transfer would have
// produced before handing it to a Consumer.
func writeTempSource(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing source fixture: %v", err)
	}
	return path
}
