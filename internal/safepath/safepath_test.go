package safepath

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureAgentDirSanitizes(t *testing.T) {
	cwd := t.TempDir()
	dir, err := EnsureAgentDir(cwd, "reviewer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(cwd, ".code", "agents", "reviewer")
	if dir != want {
		t.Fatalf("got %q want %q", dir, want)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected dir to exist: %v", err)
	}
}

func TestWriteAgentFileRejectsTraversal(t *testing.T) {
	cwd := t.TempDir()
	dir, err := EnsureAgentDir(cwd, "reviewer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cases := []string{"../escape", "a/b", "/abs", "..", ".", ""}
	for _, name := range cases {
		if err := WriteAgentFile(dir, name, []byte("x")); err == nil {
			t.Errorf("expected rejection for filename %q", name)
		}
	}
}

func TestWriteAgentFileAcceptsPlainName(t *testing.T) {
	cwd := t.TempDir()
	dir, _ := EnsureAgentDir(cwd, "reviewer")
	if err := WriteAgentFile(dir, "notes.md", []byte("hi")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "notes.md"))
	if err != nil || string(got) != "hi" {
		t.Fatalf("unexpected file contents: %v %q", err, got)
	}
}
