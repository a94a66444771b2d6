// Package mailindex implements the indexed mail collector: incremental
// extraction from the mail index database with mailbox noise filtering,
// VIP override, and on-disk message-file resolution.
package mailindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/recollect/collector/internal/cursor"
	"github.com/recollect/collector/internal/snapshot"
)

// StateName is the collector's key in the cursor store.
const StateName = "mail"

// Options configures the collector.
type Options struct {
	Root         string // mail data root containing version directories
	IndexPath    string // explicit index override; empty = discover
	BatchLimit   int
	RetentionCap int // file-state map cap
	ShardDirs    int
	ScanCap      int
}

// Collector extracts rows from the mail index.
type Collector struct {
	opts    Options
	snaps   *snapshot.Manager
	cursors *cursor.Store
	logger  *slog.Logger

	mu    sync.Mutex
	state *cursor.State
}

// New creates a Collector.
func New(opts Options, snaps *snapshot.Manager, cursors *cursor.Store, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 500
	}
	if opts.RetentionCap <= 0 {
		opts.RetentionCap = 5000
	}
	if opts.ShardDirs <= 0 {
		opts.ShardDirs = 32
	}
	if opts.ScanCap <= 0 {
		opts.ScanCap = 200
	}
	return &Collector{opts: opts, snaps: snaps, cursors: cursors, logger: logger}
}

// State returns a copy of the collector's durable state.
func (c *Collector) State() cursor.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		s, err := c.cursors.Load(StateName)
		if err != nil {
			return cursor.State{}
		}
		c.state = s
	}
	return *c.state
}

// Run performs one batched extraction pass.
//
// The cursor advances to the maximum row id seen, including rows dropped
// by the mailbox filter: filtered rows must never be re-evaluated.
// Unresolved message files are warnings, not failures.
func (c *Collector) Run(ctx context.Context, limit int) (*RunResult, error) {
	start := time.Now()
	if limit <= 0 {
		limit = c.opts.BatchLimit
	}

	state, err := c.cursors.Load(StateName)
	if err != nil {
		return nil, fmt.Errorf("load mail state: %w", err)
	}
	if state.Files == nil {
		state.Files = make(map[int64]cursor.FileState)
	}

	indexPath, err := LocateIndex(c.opts.Root, c.opts.IndexPath)
	if err != nil {
		return nil, c.runErr(state, err)
	}

	snap, err := c.snaps.Create(ctx, indexPath)
	if err != nil {
		return nil, c.runErr(state, fmt.Errorf("index snapshot: %w", err))
	}
	defer snap.Release()

	db, err := snap.OpenReadOnly()
	if err != nil {
		return nil, c.runErr(state, err)
	}
	defer db.Close()

	head, err := fetchIndexHead(db)
	if err != nil {
		return nil, c.runErr(state, err)
	}
	state.Head = head

	rows, err := fetchIndexRows(db, state.Cursor, limit)
	if err != nil {
		return nil, c.runErr(state, err)
	}

	now := time.Now()
	if len(rows) == 0 {
		state.LastRunAt = &now
		state.LastError = ""
		if err := c.save(state); err != nil {
			return nil, err
		}
		return &RunResult{
			Cursor: state.Cursor, Head: state.Head,
			Duration: time.Since(start), DurationMS: time.Since(start).Milliseconds(),
		}, nil
	}

	rowIDs := make([]int64, len(rows))
	for i := range rows {
		rowIDs[i] = rows[i].RowID
	}
	recipients, err := fetchRecipients(db, rowIDs)
	if err != nil {
		return nil, c.runErr(state, err)
	}

	resolver := &Resolver{
		Root:      c.opts.Root,
		ShardDirs: c.opts.ShardDirs,
		ScanCap:   c.opts.ScanCap,
	}

	res := &RunResult{Head: state.Head}
	maxSeen := state.Cursor

	for i := range rows {
		r := &rows[i]
		if r.RowID > maxSeen {
			maxSeen = r.RowID
		}
		res.Processed++

		if !keepRow(r) {
			res.Filtered++
			continue
		}

		r.Recipients = recipients[r.RowID]

		if resolver.Resolve(r) {
			res.Resolved++
			state.Files[r.RowID] = cursor.FileState{
				Path:    r.FilePath,
				Inode:   r.FileInode,
				ModTime: r.FileMTime,
			}
		} else {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("row %d: message file not found (mailbox %s, remote %q)",
					r.RowID, r.MailboxName, r.RemoteID))
		}

		res.Records = append(res.Records, *r)
	}

	// Advance past everything seen, filtered rows included.
	state.Advance(maxSeen)
	state.TrimFiles(c.opts.RetentionCap)
	state.LastRunAt = &now
	state.LastError = ""
	if err := c.save(state); err != nil {
		return nil, err
	}

	res.Cursor = state.Cursor
	res.Duration = time.Since(start)
	res.DurationMS = res.Duration.Milliseconds()

	c.logger.Info("mail run complete",
		"processed", res.Processed, "resolved", res.Resolved,
		"filtered", res.Filtered, "warnings", len(res.Warnings),
		"cursor", res.Cursor, "head", res.Head, "duration", res.Duration)
	return res, nil
}

func (c *Collector) save(state *cursor.State) error {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	return c.cursors.Save(StateName, state)
}

func (c *Collector) runErr(state *cursor.State, err error) error {
	state.LastError = err.Error()
	if saveErr := c.save(state); saveErr != nil {
		c.logger.Warn("failed to persist mail run error", "error", saveErr)
	}
	c.logger.Error("mail run failed", "error", err)
	return err
}
