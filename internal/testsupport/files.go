package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteArtifact drops a file into the workspace directory so a phase's
// input or output requirements are satisfied.
func WriteArtifact(t testing.TB, workspaceDir, name, content string) string {
	t.Helper()

	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", workspaceDir, err)
	}
	path := filepath.Join(workspaceDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
