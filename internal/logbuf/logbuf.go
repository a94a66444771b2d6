// Package logbuf provides an in-memory ring buffer slog.Handler so recent
// log records can be served back through the API.
package logbuf

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Record is one retained log entry.
type Record struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ring is the shared fixed-size record store. Handlers derived via
// WithAttrs/WithGroup all write into the same ring.
type ring struct {
	mu      sync.Mutex
	records []Record
	head    int
	full    bool
}

func (rg *ring) add(r Record) {
	rg.mu.Lock()
	rg.records[rg.head] = r
	rg.head = (rg.head + 1) % len(rg.records)
	if rg.head == 0 {
		rg.full = true
	}
	rg.mu.Unlock()
}

// Buffer retains the most recent log records and forwards them to an
// optional inner handler. It implements slog.Handler and is safe for
// concurrent use.
type Buffer struct {
	next slog.Handler
	ring *ring
}

// New creates a Buffer retaining up to capacity records, forwarding every
// record to next. next may be nil.
func New(capacity int, next slog.Handler) *Buffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Buffer{
		next: next,
		ring: &ring{records: make([]Record, capacity)},
	}
}

// Enabled implements slog.Handler. Info and above are always retained;
// lower levels only when the forwarding handler accepts them.
func (b *Buffer) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= slog.LevelInfo {
		return true
	}
	if b.next != nil {
		return b.next.Enabled(ctx, level)
	}
	return false
}

// Handle implements slog.Handler.
func (b *Buffer) Handle(ctx context.Context, r slog.Record) error {
	meta := make(map[string]string, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		meta[a.Key] = a.Value.String()
		return true
	})
	if len(meta) == 0 {
		meta = nil
	}

	b.ring.add(Record{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  meta,
	})

	if b.next != nil && b.next.Enabled(ctx, r.Level) {
		return b.next.Handle(ctx, r)
	}
	return nil
}

// WithAttrs implements slog.Handler. Derived handlers share the ring.
func (b *Buffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := b.next
	if next != nil {
		next = next.WithAttrs(attrs)
	}
	return &Buffer{next: next, ring: b.ring}
}

// WithGroup implements slog.Handler.
func (b *Buffer) WithGroup(name string) slog.Handler {
	next := b.next
	if next != nil {
		next = next.WithGroup(name)
	}
	return &Buffer{next: next, ring: b.ring}
}

// Since returns all retained records with Timestamp >= cutoff, oldest first.
func (b *Buffer) Since(cutoff time.Time) []Record {
	rg := b.ring
	rg.mu.Lock()
	defer rg.mu.Unlock()

	var out []Record
	appendIf := func(r Record) {
		if !r.Timestamp.IsZero() && !r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	if rg.full {
		for i := rg.head; i < len(rg.records); i++ {
			appendIf(rg.records[i])
		}
	}
	for i := 0; i < rg.head; i++ {
		appendIf(rg.records[i])
	}
	return out
}
