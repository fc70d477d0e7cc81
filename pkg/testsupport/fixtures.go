package testsupport

import (
	"os"
	"testing"
)

// TempFile creates a temporary file with the given content for testing.
// The caller is responsible for cleaning up the file.
func TempFile(t *testing.T, content []byte) string {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "test-*")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	if _, err := tmpfile.Write(content); err != nil {
		tmpfile.Close()
		os.Remove(tmpfile.Name())
		t.Fatalf("failed to write to temp file: %v", err)
	}

	if err := tmpfile.Close(); err != nil {
		os.Remove(tmpfile.Name())
		t.Fatalf("failed to close temp file: %v", err)
	}

	return tmpfile.Name()
}

// TempDir creates a temporary directory for testing.
// The caller is responsible for cleaning up the directory.
func TempDir(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "test-*")
	if err != nil {
		t.Fatalf("failed to create temp directory: %v", err)
	}

	return dir
}
