package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	// sha256("hello")
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}

	if _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	if err := AtomicWriteFile(path, []byte("v1"), 0600); err != nil {
		t.Fatalf("AtomicWriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Errorf("content = %q, want %q", data, "v1")
	}

	// Overwrite in place.
	if err := AtomicWriteFile(path, []byte("v2"), 0600); err != nil {
		t.Fatalf("AtomicWriteFile overwrite: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "v2" {
		t.Errorf("content after overwrite = %q, want %q", data, "v2")
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestResolveAlias(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Attachments")
	if err := os.MkdirAll(filepath.Join(root, "ab", "cd"), 0755); err != nil {
		t.Fatal(err)
	}
	existing := filepath.Join(root, "ab", "cd", "img.png")
	if err := os.WriteFile(existing, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		stored string
		want   string
	}{
		{"empty", "", ""},
		{"tilde rebased by anchor", "~/Library/Messages/Attachments/ab/cd/img.png",
			filepath.Join(root, "ab", "cd", "img.png")},
		{"absolute existing", existing, existing},
		{"absolute rebased by anchor", "/Users/other/Attachments/ab/cd/img.png",
			filepath.Join(root, "ab", "cd", "img.png")},
		{"absolute fallback basename", "/nowhere/else/img.png",
			filepath.Join(root, "img.png")},
		{"relative", "ab/cd/img.png", filepath.Join(root, "ab", "cd", "img.png")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveAlias(tt.stored, root); got != tt.want {
				t.Errorf("ResolveAlias(%q) = %q, want %q", tt.stored, got, tt.want)
			}
		})
	}
}

func TestIsHidden(t *testing.T) {
	if !IsHidden("/a/b/.DS_Store") {
		t.Error("dotfile should be hidden")
	}
	if IsHidden("/a/b/report.pdf") {
		t.Error("regular file should not be hidden")
	}
}
