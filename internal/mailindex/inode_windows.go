//go:build windows

package mailindex

import "os"

// inodeOf returns 0 on Windows; change detection falls back to mtime only.
func inodeOf(info os.FileInfo) uint64 {
	return 0
}
