// Package messages implements the message-store collector: incremental,
// snapshot-isolated extraction of chat messages with attachment
// resolution and best-effort image text enrichment.
package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/recollect/collector/internal/cursor"
	"github.com/recollect/collector/internal/event"
	"github.com/recollect/collector/internal/fileutil"
	"github.com/recollect/collector/internal/ocr"
	"github.com/recollect/collector/internal/sink"
	"github.com/recollect/collector/internal/snapshot"
	"golang.org/x/sync/errgroup"
)

// StateName is the collector's key in the cursor store.
const StateName = "messages"

// hashWorkers bounds the attachment resolution/hashing pool per run.
const hashWorkers = 4

// ErrNotReady is returned when Run is called before a successful Boot.
var ErrNotReady = errors.New("messages: collector not booted")

// Options configures the collector.
type Options struct {
	StorePath       string
	AttachmentsRoot string
	BatchSize       int // default batch size when a run request omits one
	OCREnabled      bool
	OCRTimeout      time.Duration
	OCRLanguages    []string
}

// Collector extracts messages from the live store. All runs are
// serialized by the supervisor; internal state is additionally guarded so
// Status reads are safe during a run.
type Collector struct {
	opts    Options
	snaps   *snapshot.Manager
	cursors *cursor.Store
	sink    sink.Sink
	rec     ocr.Recognizer
	logger  *slog.Logger

	mu    sync.Mutex
	phase Phase
	state *cursor.State
}

// New creates a Collector. rec may be nil when recognition is disabled.
func New(opts Options, snaps *snapshot.Manager, cursors *cursor.Store, sk sink.Sink, rec ocr.Recognizer, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.OCRTimeout <= 0 {
		opts.OCRTimeout = 8 * time.Second
	}
	return &Collector{
		opts:    opts,
		snaps:   snaps,
		cursors: cursors,
		sink:    sk,
		rec:     rec,
		logger:  logger,
		phase:   PhaseIdle,
	}
}

// Phase returns the current lifecycle phase.
func (c *Collector) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// State returns a copy of the collector's durable state.
func (c *Collector) State() cursor.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return cursor.State{}
	}
	return *c.state
}

func (c *Collector) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Boot takes a snapshot, determines the head position and, on first-ever
// boot, the floor position. A fresh install starts at the oldest
// available row so the first backfill captures full history.
func (c *Collector) Boot(ctx context.Context) error {
	c.setPhase(PhaseBooting)

	state, err := c.cursors.Load(StateName)
	if err != nil {
		return c.fault(fmt.Errorf("load state: %w", err))
	}

	snap, err := c.snaps.Create(ctx, c.opts.StorePath)
	if err != nil {
		return c.fault(fmt.Errorf("boot snapshot: %w", err))
	}
	defer snap.Release()

	db, err := snap.OpenReadOnly()
	if err != nil {
		return c.fault(err)
	}
	defer db.Close()

	head, err := fetchHead(db)
	if err != nil {
		return c.fault(err)
	}
	state.Head = head

	if state.Cursor == 0 && state.Floor == 0 {
		floor, err := fetchFloor(db)
		if err != nil {
			return c.fault(err)
		}
		state.Floor = floor
		state.Cursor = floor
	}

	state.LastError = ""
	if err := c.cursors.Save(StateName, state); err != nil {
		return c.fault(err)
	}

	c.mu.Lock()
	c.state = state
	c.phase = PhaseReady
	c.mu.Unlock()

	c.logger.Info("messages collector booted",
		"cursor", state.Cursor, "head", state.Head, "floor", state.Floor)
	return nil
}

// fault records a boot error and marks the collector faulted. Operations
// are rejected until the next successful Boot.
func (c *Collector) fault(err error) error {
	c.mu.Lock()
	if c.state == nil {
		c.state = &cursor.State{}
	}
	c.state.LastError = err.Error()
	c.phase = PhaseFaulted
	c.mu.Unlock()
	_ = c.cursors.Save(StateName, c.state)
	c.logger.Error("messages collector boot failed", "error", err)
	return err
}

// Run performs one batched extraction pass. The snapshot is taken fresh
// (the store may have advanced since boot) and released on every path.
// The cursor only advances after the sink accepts the batch.
func (c *Collector) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	c.mu.Lock()
	if c.phase != PhaseReady {
		phase := c.phase
		c.mu.Unlock()
		return nil, fmt.Errorf("%w (phase %s)", ErrNotReady, phase)
	}
	c.phase = PhaseRunning
	// Work on a private copy; committed back under the lock so Status
	// reads never observe a half-updated run.
	stateCopy := *c.state
	state := &stateCopy
	c.mu.Unlock()

	commit := func() error {
		c.mu.Lock()
		c.state = state
		c.mu.Unlock()
		return c.cursors.Save(StateName, state)
	}

	defer c.setPhase(PhaseReady)

	start := time.Now()
	batch := req.BatchSize
	if batch <= 0 {
		batch = c.opts.BatchSize
	}

	snap, err := c.snaps.Create(ctx, c.opts.StorePath)
	if err != nil {
		return nil, c.runErr(state, fmt.Errorf("run snapshot: %w", err))
	}
	defer snap.Release()

	db, err := snap.OpenReadOnly()
	if err != nil {
		return nil, c.runErr(state, err)
	}
	defer db.Close()

	head, err := fetchHead(db)
	if err != nil {
		return nil, c.runErr(state, err)
	}
	state.Head = head

	records, err := fetchMessages(db, state.Cursor, req.MaxPosition, batch)
	if err != nil {
		return nil, c.runErr(state, err)
	}

	now := time.Now()
	if len(records) == 0 {
		state.LastRunAt = &now
		state.LastError = ""
		if err := commit(); err != nil {
			return nil, err
		}
		return &RunResult{
			Cursor: state.Cursor, Head: state.Head,
			Duration: time.Since(start), DurationMS: time.Since(start).Milliseconds(),
		}, nil
	}

	if err := c.hydrate(db, records); err != nil {
		return nil, c.runErr(state, err)
	}

	attachments := c.resolveAttachments(ctx, records)
	c.enrich(ctx, records)

	events := make([]event.Event, 0, len(records))
	for i := range records {
		events = append(events, buildEvent(&records[i]))
	}

	if err := c.sink.Ingest(ctx, events); err != nil {
		// Cursor unchanged: the whole batch is recomputed and
		// redelivered next run; event ids are deterministic so the
		// sink deduplicates.
		return nil, c.runErr(state, fmt.Errorf("deliver batch: %w", err))
	}

	state.Advance(records[len(records)-1].RowID)
	state.LastRunAt = &now
	state.LastError = ""
	if err := commit(); err != nil {
		return nil, err
	}

	res := &RunResult{
		Processed: len(records),
		Enriched:  attachments,
		Cursor:    state.Cursor,
		Head:      state.Head,
		Duration:  time.Since(start),
	}
	res.DurationMS = res.Duration.Milliseconds()

	c.logger.Info("messages run complete",
		"mode", req.Mode, "processed", res.Processed,
		"attachments", res.Enriched, "cursor", res.Cursor,
		"head", res.Head, "duration", res.Duration)
	return res, nil
}

// runErr records a non-fatal run error; the collector stays Ready and the
// run is retried on the next schedule.
func (c *Collector) runErr(state *cursor.State, err error) error {
	state.LastError = err.Error()
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	if saveErr := c.cursors.Save(StateName, state); saveErr != nil {
		c.logger.Warn("failed to persist run error", "error", saveErr)
	}
	c.logger.Error("messages run failed", "error", err)
	return err
}

// hydrate joins participants and attachments onto the fetched records.
func (c *Collector) hydrate(db *sql.DB, records []Record) error {
	threadSet := make(map[string]bool)
	rowIDs := make([]int64, 0, len(records))
	for i := range records {
		if records[i].ThreadID != "" {
			threadSet[records[i].ThreadID] = true
		}
		rowIDs = append(rowIDs, records[i].RowID)
	}
	threads := make([]string, 0, len(threadSet))
	for id := range threadSet {
		threads = append(threads, id)
	}

	participants, err := fetchParticipants(db, threads)
	if err != nil {
		return err
	}
	attachments, err := fetchAttachments(db, rowIDs)
	if err != nil {
		return err
	}

	for i := range records {
		records[i].Participants = participants[records[i].ThreadID]
		records[i].Attachments = attachments[records[i].RowID]
	}
	return nil
}

// resolveAttachments resolves attachment paths against the attachment
// root and content-hashes resolved files, using a bounded worker pool so
// hashing large files does not serialize the run. Returns the number of
// attachments examined.
func (c *Collector) resolveAttachments(ctx context.Context, records []Record) int {
	type job struct {
		rec int
		att int
	}
	var jobs []job
	for i := range records {
		for j := range records[i].Attachments {
			jobs = append(jobs, job{i, j})
		}
	}
	if len(jobs) == 0 {
		return 0
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(hashWorkers)
	for _, jb := range jobs {
		att := &records[jb.rec].Attachments[jb.att]
		g.Go(func() error {
			resolved := fileutil.ResolveAlias(att.StoredPath, c.opts.AttachmentsRoot)
			if resolved == "" {
				return nil
			}
			if _, err := os.Stat(resolved); err != nil {
				// Purged or never downloaded; surfaced per-item.
				return nil
			}
			att.ResolvedPath = resolved
			hash, err := fileutil.HashFile(resolved)
			if err != nil {
				c.logger.Warn("attachment hash failed", "path", resolved, "error", err)
				return nil
			}
			att.ContentHash = hash
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; per-item failures are logged
	return len(jobs)
}

// enrich runs text recognition over resolved image attachments. Each
// attachment gets its own timeout; a failure marks that attachment only
// and never aborts the batch.
func (c *Collector) enrich(ctx context.Context, records []Record) {
	for i := range records {
		for j := range records[i].Attachments {
			att := &records[i].Attachments[j]
			if !att.IsImage {
				att.EnrichStatus = event.EnrichSkipped
				continue
			}
			if !c.opts.OCREnabled || c.rec == nil {
				att.EnrichStatus = event.EnrichDisabled
				continue
			}
			if att.ResolvedPath == "" {
				att.EnrichStatus = event.EnrichMissing
				continue
			}

			data, err := os.ReadFile(att.ResolvedPath)
			if err != nil {
				att.EnrichStatus = event.EnrichError
				att.EnrichError = err.Error()
				continue
			}

			res, err := ocr.WithTimeout(ctx, c.rec, data, c.opts.OCRLanguages, c.opts.OCRTimeout)
			if err != nil {
				att.EnrichStatus = event.EnrichError
				att.EnrichError = err.Error()
				c.logger.Warn("recognition failed",
					"attachment", att.GUID, "error", err)
				continue
			}
			att.EnrichStatus = event.EnrichComplete
			att.RecognizedText = res.Text
			att.RecognizedMS = res.TimingMS
		}
	}
}

// buildEvent assembles one outbound event per row. The event always
// carries a text chunk when body text exists, plus one enrichment chunk
// per successfully recognized image.
func buildEvent(r *Record) event.Event {
	ev := event.Event{
		SourceType: "messages",
		SourceID:   event.SourceID("messages", r.GUID),
		Content:    r.Body,
	}

	if r.Body != "" {
		ev.Chunks = append(ev.Chunks, event.Chunk{
			ChunkID: event.ChunkID(r.RowID, "", event.ChunkText),
			Type:    event.ChunkText,
			Text:    r.Body,
		})
	}

	msgMeta := &event.MessageMeta{
		Position:   r.RowID,
		Timestamp:  r.Timestamp,
		IsFromSelf: r.IsFromSelf,
		Sender:     r.Sender,
	}
	for i := range r.Attachments {
		att := &r.Attachments[i]
		status := "resolved"
		if att.ResolvedPath == "" {
			status = "unresolved"
		}
		msgMeta.Attachments = append(msgMeta.Attachments, event.AttachmentMeta{
			ID:               att.GUID,
			Type:             att.TypeTag,
			Path:             att.StoredPath,
			ContentHash:      att.ContentHash,
			Status:           status,
			EnrichmentStatus: att.EnrichStatus,
			Error:            att.EnrichError,
		})

		if att.EnrichStatus == event.EnrichComplete && att.RecognizedText != "" {
			ev.Chunks = append(ev.Chunks, event.Chunk{
				ChunkID: event.ChunkID(r.RowID, att.GUID, event.ChunkOCR),
				Type:    event.ChunkOCR,
				Text:    att.RecognizedText,
				Meta:    map[string]string{"attachment": att.GUID},
			})
		}
	}

	ev.Metadata = event.Metadata{
		Thread: &event.ThreadMeta{
			ThreadID:     r.ThreadID,
			Participants: r.Participants,
			Service:      r.Service,
		},
		Message: msgMeta,
	}
	return ev
}
