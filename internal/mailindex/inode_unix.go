//go:build !windows

package mailindex

import (
	"os"
	"syscall"
)

// inodeOf returns the file's inode number, used alongside mtime for
// change detection.
func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
