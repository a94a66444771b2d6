package cursor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestAdvanceMonotonic(t *testing.T) {
	s := &State{Cursor: 10}
	s.Advance(15)
	if s.Cursor != 15 {
		t.Errorf("Cursor = %d, want 15", s.Cursor)
	}
	s.Advance(12)
	if s.Cursor != 15 {
		t.Errorf("Cursor moved backward to %d", s.Cursor)
	}
	s.Advance(15)
	if s.Cursor != 15 {
		t.Errorf("Cursor = %d, want 15", s.Cursor)
	}
}

func TestTrimFiles(t *testing.T) {
	s := &State{Files: map[int64]FileState{}}
	for i := int64(1); i <= 10; i++ {
		s.Files[i] = FileState{Path: "p"}
	}

	s.TrimFiles(4)
	if len(s.Files) != 4 {
		t.Fatalf("len(Files) = %d, want 4", len(s.Files))
	}
	// Highest row ids survive.
	for _, id := range []int64{7, 8, 9, 10} {
		if _, ok := s.Files[id]; !ok {
			t.Errorf("expected row %d to survive trim", id)
		}
	}

	// No-op cases.
	s.TrimFiles(0)
	s.TrimFiles(100)
	if len(s.Files) != 4 {
		t.Errorf("len(Files) after no-op trims = %d, want 4", len(s.Files))
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatal(err)
	}

	// Missing file yields zero state.
	s, err := store.Load("messages")
	if err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if s.Cursor != 0 || s.Head != 0 || s.Floor != 0 {
		t.Errorf("zero state expected, got %+v", s)
	}

	now := time.Now().UTC().Truncate(time.Second)
	want := &State{
		Cursor:    42,
		Head:      100,
		Floor:     5,
		LastRunAt: &now,
		Files: map[int64]FileState{
			7: {Path: "/mail/7.emlx", Inode: 123, ModTime: now},
		},
	}
	if err := store.Save("messages", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load("messages")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreIsolatesCollectors(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save("messages", &State{Cursor: 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("mail", &State{Cursor: 2}); err != nil {
		t.Fatal(err)
	}

	m, _ := store.Load("messages")
	if m.Cursor != 1 {
		t.Errorf("messages cursor = %d, want 1", m.Cursor)
	}
	ml, _ := store.Load("mail")
	if ml.Cursor != 2 {
		t.Errorf("mail cursor = %d, want 2", ml.Cursor)
	}
}
