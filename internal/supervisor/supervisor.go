// Package supervisor owns collector lifecycle: boot and shutdown
// ordering, per-collector run serialization, scheduled runs, and
// configuration hot-reload.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/recollect/collector/internal/config"
	"github.com/recollect/collector/internal/cursor"
	"github.com/recollect/collector/internal/mailindex"
	"github.com/recollect/collector/internal/messages"
	"github.com/recollect/collector/internal/ocr"
	"github.com/recollect/collector/internal/sink"
	"github.com/recollect/collector/internal/snapshot"
	"github.com/recollect/collector/internal/watch"
)

// Collector names accepted by Run and State.
const (
	NameMessages = "messages"
	NameMail     = "mail"
)

// ErrBusy is returned when a run is requested against a collector that
// is already running. Cursor advancement is not associatively safe, so
// concurrent runs are rejected rather than interleaved.
var ErrBusy = errors.New("collector run already in progress")

// ErrUnknown is returned for an unrecognized collector name.
var ErrUnknown = errors.New("unknown collector")

// RunRequest parameterizes a run of any collector.
type RunRequest struct {
	Mode        string `json:"mode"` // backfill | incremental
	BatchSize   int    `json:"batchSize,omitempty"`
	MaxPosition int64  `json:"maxPosition,omitempty"`
}

// RunSummary is the uniform run response.
type RunSummary struct {
	Processed  int      `json:"processed"`
	Enriched   int      `json:"attachmentsOrEnrichmentCount"`
	Cursor     int64    `json:"cursorPosition"`
	Head       int64    `json:"headPosition"`
	DurationMS int64    `json:"durationMs"`
	Warnings   []string `json:"warnings,omitempty"`
}

// StateResponse is the uniform state-query response.
type StateResponse struct {
	Cursor    int64      `json:"cursorPosition"`
	Head      int64      `json:"headPosition"`
	Floor     int64      `json:"floorPosition"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	Phase     string     `json:"phase,omitempty"`
}

// Supervisor wires the collectors together and serializes access.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger

	cursors  *cursor.Store
	snaps    *snapshot.Manager
	sink     sink.Sink
	messages *messages.Collector
	mail     *mailindex.Collector
	watch    *watch.Collector

	cron *cron.Cron

	mu      sync.Mutex
	running map[string]bool
	entries map[string]cron.EntryID
	wg      sync.WaitGroup
	stopped bool
}

// New builds a Supervisor from configuration. rec may be nil when
// recognition is disabled.
func New(cfg *config.Config, sk sink.Sink, rec ocr.Recognizer, logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cursors, err := cursor.NewStore(cfg.StateDir())
	if err != nil {
		return nil, err
	}
	snaps := snapshot.NewManager(filepath.Join(cfg.Data.DataDir, "snapshots"), logger)

	msgs := messages.New(messages.Options{
		StorePath:       cfg.Messages.StorePath,
		AttachmentsRoot: cfg.Messages.AttachmentsRoot,
		BatchSize:       cfg.Messages.BatchSize,
		OCREnabled:      cfg.OCR.Enabled,
		OCRTimeout:      cfg.OCRTimeout(),
		OCRLanguages:    cfg.OCR.Languages,
	}, snaps, cursors, sk, rec, logger)

	mail := mailindex.New(mailindex.Options{
		Root:         cfg.Mail.Root,
		IndexPath:    cfg.Mail.IndexPath,
		BatchLimit:   cfg.Mail.BatchLimit,
		RetentionCap: cfg.Mail.RetentionCap,
		ShardDirs:    cfg.Mail.ShardDirs,
		ScanCap:      cfg.Mail.ScanCap,
	}, snaps, cursors, logger)

	watcher := watch.New(sk, cfg.DebounceInterval(),
		filepath.Join(cfg.StateDir(), "watches.json"), logger)

	return &Supervisor{
		cfg:      cfg,
		logger:   logger,
		cursors:  cursors,
		snaps:    snaps,
		sink:     sk,
		messages: msgs,
		mail:     mail,
		watch:    watcher,
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		running: make(map[string]bool),
		entries: make(map[string]cron.EntryID),
	}, nil
}

// Watch exposes the directory watch collector for registration calls.
func (s *Supervisor) Watch() *watch.Collector {
	return s.watch
}

// Boot starts everything in dependency order: collectors first, then
// watch subscriptions, then schedules. A faulted message collector does
// not prevent boot; operations against it are rejected until it boots
// cleanly.
func (s *Supervisor) Boot(ctx context.Context) error {
	if err := s.messages.Boot(ctx); err != nil {
		s.logger.Warn("message collector faulted at boot", "error", err)
	}

	if err := s.watch.Start(); err != nil {
		return fmt.Errorf("start watch collector: %w", err)
	}
	for _, d := range s.cfg.Watch.Dirs {
		s.seedWatch(d)
	}

	if err := s.applySchedules(); err != nil {
		return err
	}
	s.cron.Start()

	s.logger.Info("supervisor booted")
	return nil
}

// BootMessages boots only the message collector, for one-shot runs that
// need neither watch subscriptions nor schedules.
func (s *Supervisor) BootMessages(ctx context.Context) error {
	return s.messages.Boot(ctx)
}

// seedWatch registers a config-seeded directory unless an equivalent
// descriptor already exists.
func (s *Supervisor) seedWatch(d config.WatchDir) {
	for _, existing := range s.watch.List() {
		if existing.Path == d.Path && existing.Pattern == d.Pattern {
			return
		}
	}
	if _, err := s.watch.Register(d.Path, d.Pattern, d.Label, d.Handoff); err != nil {
		s.logger.Warn("config watch dir registration failed",
			"path", d.Path, "error", err)
	}
}

// applySchedules registers cron entries for configured collectors.
func (s *Supervisor) applySchedules() error {
	type sched struct {
		name string
		expr string
	}
	for _, sc := range []sched{
		{NameMessages, s.cfg.Messages.Schedule},
		{NameMail, s.cfg.Mail.Schedule},
	} {
		s.mu.Lock()
		if id, ok := s.entries[sc.name]; ok {
			s.cron.Remove(id)
			delete(s.entries, sc.name)
		}
		s.mu.Unlock()

		if sc.expr == "" {
			continue
		}
		name := sc.name
		id, err := s.cron.AddFunc(sc.expr, func() {
			_, err := s.Run(context.Background(), name, RunRequest{Mode: messages.ModeIncremental})
			if err != nil && !errors.Is(err, ErrBusy) {
				s.logger.Error("scheduled run failed", "collector", name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", sc.expr, sc.name, err)
		}
		s.mu.Lock()
		s.entries[sc.name] = id
		s.mu.Unlock()
		s.logger.Info("scheduled collector", "collector", sc.name, "schedule", sc.expr)
	}
	return nil
}

// Run executes one collector run. Concurrent requests against the same
// collector are rejected with ErrBusy; different collectors run in
// parallel.
func (s *Supervisor) Run(ctx context.Context, name string, req RunRequest) (*RunSummary, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, errors.New("supervisor stopped")
	}
	if s.running[name] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBusy, name)
	}
	s.running[name] = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	switch name {
	case NameMessages:
		res, err := s.messages.Run(ctx, messages.RunRequest{
			Mode:        req.Mode,
			BatchSize:   req.BatchSize,
			MaxPosition: req.MaxPosition,
		})
		if err != nil {
			return nil, err
		}
		return &RunSummary{
			Processed:  res.Processed,
			Enriched:   res.Enriched,
			Cursor:     res.Cursor,
			Head:       res.Head,
			DurationMS: res.DurationMS,
		}, nil
	case NameMail:
		res, err := s.mail.Run(ctx, req.BatchSize)
		if err != nil {
			return nil, err
		}
		return &RunSummary{
			Processed:  res.Processed,
			Enriched:   res.Resolved,
			Cursor:     res.Cursor,
			Head:       res.Head,
			DurationMS: res.DurationMS,
			Warnings:   res.Warnings,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
}

// State returns the state-query response for a collector.
func (s *Supervisor) State(name string) (*StateResponse, error) {
	switch name {
	case NameMessages:
		st := s.messages.State()
		return stateResponse(st, string(s.messages.Phase())), nil
	case NameMail:
		st := s.mail.State()
		return stateResponse(st, ""), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
}

func stateResponse(st cursor.State, phase string) *StateResponse {
	return &StateResponse{
		Cursor:    st.Cursor,
		Head:      st.Head,
		Floor:     st.Floor,
		LastRunAt: st.LastRunAt,
		LastError: st.LastError,
		Phase:     phase,
	}
}

// Reload applies a new configuration: schedules are replaced and any new
// config-seeded watch directories are registered.
func (s *Supervisor) Reload(cfg *config.Config) error {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	for _, d := range cfg.Watch.Dirs {
		s.seedWatch(d)
	}
	if err := s.applySchedules(); err != nil {
		return err
	}
	s.logger.Info("configuration reloaded")
	return nil
}

// Shutdown stops in order: watch subscriptions first, then scheduled
// work, then waits for in-flight runs to finish and persist their state.
// Exceeding grace is logged, not retried; per-run snapshots release via
// their own defers.
func (s *Supervisor) Shutdown(grace time.Duration) {
	s.logger.Info("supervisor stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.watch.Stop()
	cronCtx := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("supervisor stopped")
	case <-time.After(grace):
		s.logger.Warn("shutdown grace period exceeded", "grace", grace)
	}
}
