package mailindex

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// indexFileName is the index database file name inside a version
// directory.
const indexFileName = "Envelope Index"

var versionDirRe = regexp.MustCompile(`^V\d+$`)

// LocateIndex finds the mail index database. When override is non-empty
// it is used directly. Otherwise the known version-numbered
// subdirectories under root are scanned (V2, V9, V10, ...) and the
// newest-modified index file wins: an OS upgrade leaves older versions
// behind, and the live one is the most recently written.
func LocateIndex(root, override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("mail index override %q: %w", override, err)
		}
		return override, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("read mail root %q: %w", root, err)
	}

	var best string
	var bestMTime time.Time
	for _, e := range entries {
		if !e.IsDir() || !versionDirRe.MatchString(e.Name()) {
			continue
		}
		candidate := filepath.Join(root, e.Name(), "MailData", indexFileName)
		info, err := os.Stat(candidate)
		if err != nil {
			// Older layouts keep the index directly under the version dir.
			candidate = filepath.Join(root, e.Name(), indexFileName)
			info, err = os.Stat(candidate)
			if err != nil {
				continue
			}
		}
		if info.ModTime().After(bestMTime) {
			best = candidate
			bestMTime = info.ModTime()
		}
	}

	if best == "" {
		return "", fmt.Errorf("no mail index found under %q", root)
	}
	return best, nil
}
