// Package fileutil provides file helpers shared by the collectors.
package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// HashFile returns the lowercase hex SHA-256 of the file contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AtomicWriteFile writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a partial file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// ResolveAlias maps a store-recorded path onto the local filesystem.
// Tilde prefixes expand to the user home; absolute paths are tried
// as-is first, then rebased by their trailing components under root.
func ResolveAlias(stored, root string) string {
	if stored == "" {
		return ""
	}
	if strings.HasPrefix(stored, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			stored = filepath.Join(home, stored[2:])
		} else {
			stored = string(filepath.Separator) + stored[2:]
		}
	}
	if filepath.IsAbs(stored) {
		if _, err := os.Stat(stored); err == nil {
			return stored
		}
		// Rebase under root by the components after the last anchor
		// matching root's base name; fall back to the basename.
		parts := strings.Split(stored, string(filepath.Separator))
		for i := len(parts) - 2; i >= 0; i-- {
			if parts[i] == filepath.Base(root) {
				return filepath.Join(root, filepath.Join(parts[i+1:]...))
			}
		}
		return filepath.Join(root, filepath.Base(stored))
	}
	return filepath.Join(root, stored)
}

// IsHidden reports whether the path's base name starts with a dot.
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 0 && base[0] == '.'
}
