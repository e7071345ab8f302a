package airdropserver

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeFilenameStripsPath(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd": "passwd",
		"a/b/c.txt":        "c.txt",
		"plain.txt":        "plain.txt",
		"":                 "",
		"/":                "",
		".":                "",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveCollisionDeterministic(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "a (1).txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed file: %v", err)
		}
	}

	got, err := resolveCollision(dir, "a.txt")
	if err != nil {
		t.Fatalf("resolveCollision: %v", err)
	}
	want := filepath.Join(dir, "a (2).txt")
	if got != want {
		t.Fatalf("resolveCollision = %q, want %q", got, want)
	}
}

func TestResolveCollisionNoExistingFile(t *testing.T) {
	dir := t.TempDir()
	got, err := resolveCollision(dir, "fresh.txt")
	if err != nil {
		t.Fatalf("resolveCollision: %v", err)
	}
	if got != filepath.Join(dir, "fresh.txt") {
		t.Fatalf("expected fresh.txt unchanged, got %q", got)
	}
}
