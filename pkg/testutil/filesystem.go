package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// CreateTestFile writes content to dir/filename with 0600 and returns the path.
func CreateTestFile(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteConfig writes a horae.yaml into a fresh temp dir and returns its path.
func WriteConfig(t *testing.T, body string) string {
	t.Helper()
	return CreateTestFile(t, t.TempDir(), "horae.yaml", body)
}
