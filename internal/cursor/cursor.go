// Package cursor persists per-collector incremental progress: the last
// processed position, the observed head and floor, and auxiliary per-row
// file state. State files are written atomically (temp file + rename).
package cursor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/recollect/collector/internal/fileutil"
)

// FileState records the resolution outcome for one mail index row, used
// for change detection across runs.
type FileState struct {
	Path    string    `json:"path"`
	Inode   uint64    `json:"inode,omitempty"`
	ModTime time.Time `json:"mtime"`
}

// State is the durable record for one collector.
//
// Invariant: Floor <= Cursor <= Head once initialized; Cursor never
// decreases across runs.
type State struct {
	Cursor    int64      `json:"cursorPosition"`
	Head      int64      `json:"headPosition"`
	Floor     int64      `json:"floorPosition"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`

	// Files maps index row id -> resolved file state. Only the mail
	// collector populates this; capped via TrimFiles.
	Files map[int64]FileState `json:"files,omitempty"`
}

// TrimFiles evicts entries beyond cap, lowest row ids first.
func (s *State) TrimFiles(cap int) {
	if cap <= 0 || len(s.Files) <= cap {
		return
	}
	ids := make([]int64, 0, len(s.Files))
	for id := range s.Files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids[:len(ids)-cap] {
		delete(s.Files, id)
	}
}

// Advance moves the cursor forward. Backward movement is ignored: the
// cursor is monotonic by contract.
func (s *State) Advance(pos int64) {
	if pos > s.Cursor {
		s.Cursor = pos
	}
}

// Store loads and saves collector state files under a directory, one JSON
// file per collector name. Safe for concurrent use across collectors; a
// single collector's state is single-writer by the supervisor's run guard.
type Store struct {
	dir string

	mu sync.Mutex // guards concurrent Save calls for distinct collectors
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state dir %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (st *Store) path(name string) string {
	return filepath.Join(st.dir, name+".json")
}

// Load reads the state for the named collector. A missing file yields a
// zero-valued state, not an error (first boot).
func (st *Store) Load(name string) (*State, error) {
	data, err := os.ReadFile(st.path(name))
	if os.IsNotExist(err) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %q: %w", name, err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode state %q: %w", name, err)
	}
	return &s, nil
}

// Save atomically persists the state for the named collector.
func (st *Store) Save(name string, s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state %q: %w", name, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if err := fileutil.AtomicWriteFile(st.path(name), data, 0600); err != nil {
		return fmt.Errorf("persist state %q: %w", name, err)
	}
	return nil
}
