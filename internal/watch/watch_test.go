package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/recollect/collector/internal/event"
	"github.com/recollect/collector/internal/sink"
)

// recordingSink captures the two-phase handoff calls.
type recordingSink struct {
	mu        sync.Mutex
	requested []string
	uploads   map[string][]byte
	ingested  []sink.FileIngested
}

func newRecordingSink() *recordingSink {
	return &recordingSink{uploads: make(map[string][]byte)}
}

func (s *recordingSink) Ingest(ctx context.Context, events []event.Event) error {
	return errors.New("not used by watch")
}

func (s *recordingSink) RequestUploadTarget(ctx context.Context, path, hash string, size int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, path)
	return "upload://" + path, nil
}

func (s *recordingSink) Upload(ctx context.Context, uploadURL string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[uploadURL] = append([]byte(nil), data...)
	return nil
}

func (s *recordingSink) NotifyFileIngested(ctx context.Context, info sink.FileIngested) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingested = append(s.ingested, info)
	return nil
}

func (s *recordingSink) ingestedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ingested)
}

func (s *recordingSink) lastIngested() sink.FileIngested {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingested[len(s.ingested)-1]
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func newTestWatcher(t *testing.T, sk sink.Sink, debounce time.Duration) *Collector {
	t.Helper()
	c := New(sk, debounce, filepath.Join(t.TempDir(), "watches.json"), nil)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func TestDebounceCoalescesWrites(t *testing.T) {
	sk := newRecordingSink()
	c := newTestWatcher(t, sk, 150*time.Millisecond)

	dir := t.TempDir()
	if _, err := c.Register(dir, "*.txt", "docs", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// A burst of writes inside the debounce window.
	path := filepath.Join(dir, "note.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("revision"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if !waitFor(t, 3*time.Second, func() bool { return sk.ingestedCount() >= 1 }) {
		t.Fatal("file was never handed off")
	}
	// Allow a late duplicate to surface before asserting exactly-once.
	time.Sleep(300 * time.Millisecond)
	if got := sk.ingestedCount(); got != 1 {
		t.Errorf("handoffs = %d, want exactly 1 for a coalesced burst", got)
	}

	info := sk.lastIngested()
	if info.Path != path {
		t.Errorf("Path = %q, want %q", info.Path, path)
	}
	if info.Hash == "" || info.Size != int64(len("revision")) {
		t.Errorf("ingested = %+v", info)
	}
	if string(sk.uploads["upload://"+path]) != "revision" {
		t.Error("uploaded bytes do not match the final file content")
	}
}

func TestPatternFiltering(t *testing.T) {
	sk := newRecordingSink()
	c := newTestWatcher(t, sk, 50*time.Millisecond)

	dir := t.TempDir()
	if _, err := c.Register(dir, "*.pdf", "", ""); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "keep.pdf"), []byte("pdf"), 0644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return sk.ingestedCount() >= 1 }) {
		t.Fatal("matching file never handed off")
	}
	time.Sleep(200 * time.Millisecond)
	if got := sk.ingestedCount(); got != 1 {
		t.Fatalf("handoffs = %d, want only the pdf", got)
	}
	if base := filepath.Base(sk.lastIngested().Path); base != "keep.pdf" {
		t.Errorf("handed off %q", base)
	}
}

func TestHiddenFilesSkipped(t *testing.T) {
	sk := newRecordingSink()
	c := newTestWatcher(t, sk, 50*time.Millisecond)

	dir := t.TempDir()
	if _, err := c.Register(dir, "", "", ""); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "visible"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return sk.ingestedCount() >= 1 }) {
		t.Fatal("visible file never handed off")
	}
	time.Sleep(200 * time.Millisecond)
	if got := sk.ingestedCount(); got != 1 {
		t.Fatalf("handoffs = %d, hidden file should be skipped", got)
	}
}

func TestModifiedFileHandedOffAgain(t *testing.T) {
	sk := newRecordingSink()
	c := newTestWatcher(t, sk, 50*time.Millisecond)

	dir := t.TempDir()
	if _, err := c.Register(dir, "", "", ""); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "doc")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return sk.ingestedCount() >= 1 }) {
		t.Fatal("first handoff missing")
	}

	// The debounce interval has already passed, so the rewrite carries a
	// strictly newer mtime.
	if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return sk.ingestedCount() >= 2 }) {
		t.Fatal("modified file never handed off again")
	}
}

func TestRegistryPersistsAcrossRestarts(t *testing.T) {
	registry := filepath.Join(t.TempDir(), "watches.json")
	dir := t.TempDir()
	sk := newRecordingSink()

	c1 := New(sk, 50*time.Millisecond, registry, nil)
	if err := c1.Start(); err != nil {
		t.Fatal(err)
	}
	desc, err := c1.Register(dir, "*.md", "notes", "archive")
	if err != nil {
		t.Fatal(err)
	}
	c1.Stop()

	c2 := New(sk, 50*time.Millisecond, registry, nil)
	if err := c2.Start(); err != nil {
		t.Fatal(err)
	}
	defer c2.Stop()

	descs := c2.List()
	if len(descs) != 1 {
		t.Fatalf("restored %d descriptors, want 1", len(descs))
	}
	got := descs[0]
	if got.ID != desc.ID || got.Path != dir || got.Pattern != "*.md" || got.Handoff != "archive" {
		t.Errorf("restored descriptor = %+v", got)
	}

	// The restored watch is live: a matching write is handed off.
	if err := os.WriteFile(filepath.Join(dir, "todo.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return sk.ingestedCount() >= 1 }) {
		t.Error("restored watch did not fire")
	}
}

func TestDeregister(t *testing.T) {
	sk := newRecordingSink()
	c := newTestWatcher(t, sk, 50*time.Millisecond)

	dir := t.TempDir()
	desc, err := c.Register(dir, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Deregister(desc.ID); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if len(c.List()) != 0 {
		t.Error("descriptor still listed")
	}
	if err := c.Deregister("nope"); err == nil {
		t.Error("expected error for unknown descriptor")
	}

	// No handoffs after removal.
	if err := os.WriteFile(filepath.Join(dir, "late"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := sk.ingestedCount(); got != 0 {
		t.Errorf("handoffs after deregister = %d, want 0", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	sk := newRecordingSink()
	c := newTestWatcher(t, sk, 50*time.Millisecond)

	if _, err := c.Register(filepath.Join(t.TempDir(), "absent"), "", "", ""); err == nil {
		t.Error("expected error for missing directory")
	}

	file := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Register(file, "", "", ""); err == nil {
		t.Error("expected error for non-directory")
	}

	if _, err := c.Register(t.TempDir(), "[", "", ""); err == nil {
		t.Error("expected error for invalid glob")
	}
}
