package mailindex

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Resolver locates the on-disk message file for an index row. The
// layout shards message files across numbered subdirectories of each
// mailbox's Messages directory; the shard count and the fallback scan
// cap follow the observed layout but stay tunable.
type Resolver struct {
	// Root is the mail data root the mailbox paths are relative to.
	Root string

	// ShardDirs is the number of numbered subdirectories probed per
	// mailbox (observed layout: 32).
	ShardDirs int

	// ScanCap bounds the number of entries visited by the recursive
	// fallback scan (observed bound: 200).
	ScanCap int
}

// Resolve finds the message file for a row and fills in FilePath,
// FileInode, and FileMTime. Returns false when all candidates miss; the
// caller reports that as a warning, not a run failure.
func (rs *Resolver) Resolve(r *Record) bool {
	dataDir := rs.messagesDir(r)
	if dataDir == "" {
		return false
	}

	names := candidateNames(r)

	// Direct candidates first.
	for _, name := range names {
		if rs.tryFile(r, filepath.Join(dataDir, name)) {
			return true
		}
	}

	// Same names under each numbered shard directory.
	for shard := 0; shard < rs.ShardDirs; shard++ {
		shardDir := filepath.Join(dataDir, strconv.Itoa(shard))
		if _, err := os.Stat(shardDir); err != nil {
			continue
		}
		for _, name := range names {
			if rs.tryFile(r, filepath.Join(shardDir, name)) {
				return true
			}
		}
	}

	// Only when every direct candidate misses: bounded recursive scan
	// matching by filename prefix.
	return rs.scan(r, dataDir)
}

// messagesDir returns the mailbox's message-file directory.
func (rs *Resolver) messagesDir(r *Record) string {
	if r.MailboxPath == "" {
		return ""
	}
	p := r.MailboxPath
	if !filepath.IsAbs(p) {
		p = filepath.Join(rs.Root, filepath.FromSlash(p))
	}
	return filepath.Join(p, "Messages")
}

// candidateNames returns the deterministic file names tried for a row:
// the remote identifier first, then the row id.
func candidateNames(r *Record) []string {
	var names []string
	if r.RemoteID != "" {
		names = append(names, r.RemoteID+".emlx")
	}
	names = append(names, fmt.Sprintf("%d.emlx", r.RowID))
	return names
}

// tryFile stats a candidate, cross-checks it against the row, and
// records it on hit.
func (rs *Resolver) tryFile(r *Record, path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if !rs.confirm(r, path) {
		return false
	}
	r.FilePath = path
	r.FileInode = inodeOf(info)
	r.FileMTime = info.ModTime()
	return true
}

// confirm checks a candidate's plist trailer against the row's remote
// id. A file without a parseable trailer cannot be disproved and is
// accepted; only a contradicting trailer rejects the candidate.
func (rs *Resolver) confirm(r *Record, path string) bool {
	if r.RemoteID == "" {
		return true
	}
	msg, err := ParseEmlxFile(path)
	if err != nil || msg.RemoteID == "" {
		return true
	}
	return msg.RemoteID == r.RemoteID
}

// scan walks the mailbox tree looking for a file whose name starts with
// one of the candidate prefixes, visiting at most ScanCap entries.
func (rs *Resolver) scan(r *Record, dataDir string) bool {
	var prefixes []string
	if r.RemoteID != "" {
		prefixes = append(prefixes, r.RemoteID)
	}
	prefixes = append(prefixes, strconv.FormatInt(r.RowID, 10))

	visited := 0
	found := false
	_ = filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		visited++
		if visited > rs.ScanCap {
			return filepath.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".emlx") {
			return nil
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(name, prefix) {
				if rs.tryFile(r, path) {
					found = true
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	return found
}
