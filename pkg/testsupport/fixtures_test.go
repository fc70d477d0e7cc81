package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTempFile(t *testing.T) {
	testContent := []byte("temporary file content")

	tempPath := TempFile(t, testContent)
	defer os.Remove(tempPath)

	result, err := os.ReadFile(tempPath)
	if err != nil {
		t.Fatalf("failed to read temp file: %v", err)
	}
	if string(result) != string(testContent) {
		t.Errorf("expected %q, got %q", testContent, result)
	}
	if !strings.Contains(filepath.Base(tempPath), "test-") {
		t.Errorf("temp file name should contain 'test-', got %s", tempPath)
	}
}

func TestTempDir(t *testing.T) {
	tempDir := TempDir(t)
	defer os.RemoveAll(tempDir)

	info, err := os.Stat(tempDir)
	if err != nil {
		t.Fatalf("failed to stat temp directory: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory, got file")
	}
	if !strings.Contains(filepath.Base(tempDir), "test-") {
		t.Errorf("temp directory name should contain 'test-', got %s", tempDir)
	}
}
