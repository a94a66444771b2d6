// Package watch implements the directory watch collector: OS-level
// change notifications on registered directories, per-path debouncing,
// and a two-phase upload handoff to the ingestion sink.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/recollect/collector/internal/fileutil"
	"github.com/recollect/collector/internal/sink"
)

// Descriptor identifies one registered watch.
type Descriptor struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Pattern   string    `json:"pattern"`
	Label     string    `json:"label"`
	Handoff   string    `json:"handoff"`
	CreatedAt time.Time `json:"createdAt"`
}

// entry is a live watch: its descriptor plus the compiled glob.
type entry struct {
	desc    Descriptor
	matcher glob.Glob // nil matches everything
}

// Collector watches registered directories and hands qualifying files to
// the ingestion sink. Watches are best-effort and self-healing: a failed
// handoff leaves no persisted failure state, and the file is simply
// reconsidered on the next notification.
type Collector struct {
	sink         sink.Sink
	debounce     time.Duration
	registryPath string
	logger       *slog.Logger

	watcher *fsnotify.Watcher

	// mu guards everything below. Debounce timers are the only
	// per-collector structure touched from multiple goroutines (the
	// event loop and expiring timers).
	mu        sync.Mutex
	entries   map[string]*entry     // descriptor id -> entry
	processed map[string]time.Time  // file path -> mtime last handed off
	timers    map[string]*time.Timer // file path -> pending debounce
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Collector. registryPath is where descriptors persist
// across restarts.
func New(sk sink.Sink, debounce time.Duration, registryPath string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		sink:         sk,
		debounce:     debounce,
		registryPath: registryPath,
		logger:       logger,
		entries:      make(map[string]*entry),
		processed:    make(map[string]time.Time),
		timers:       make(map[string]*time.Timer),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start opens the OS watcher, restores persisted descriptors, and begins
// processing notifications.
func (c *Collector) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	c.watcher = w

	if err := c.loadRegistry(); err != nil {
		c.logger.Warn("watch: registry load failed, starting empty", "error", err)
	}

	c.mu.Lock()
	for _, e := range c.entries {
		if err := c.watcher.Add(e.desc.Path); err != nil {
			c.logger.Warn("watch: re-adding persisted watch failed",
				"path", e.desc.Path, "error", err)
		}
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop()
	return nil
}

// Register adds a watch on dir. Pattern is a glob over base names; empty
// matches everything.
func (c *Collector) Register(dir, pattern, label, handoff string) (*Descriptor, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch: stat %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %q is not a directory", dir)
	}

	var matcher glob.Glob
	if pattern != "" {
		matcher, err = glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("watch: bad pattern %q: %w", pattern, err)
		}
	}

	desc := Descriptor{
		ID:        uuid.NewString(),
		Path:      dir,
		Pattern:   pattern,
		Label:     label,
		Handoff:   handoff,
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.entries[desc.ID] = &entry{desc: desc, matcher: matcher}
	c.mu.Unlock()

	if c.watcher != nil {
		if err := c.watcher.Add(dir); err != nil {
			c.mu.Lock()
			delete(c.entries, desc.ID)
			c.mu.Unlock()
			return nil, fmt.Errorf("watch: subscribe %q: %w", dir, err)
		}
	}

	if err := c.saveRegistry(); err != nil {
		c.logger.Warn("watch: registry save failed", "error", err)
	}
	c.logger.Info("watch registered", "id", desc.ID, "path", dir, "pattern", pattern)
	return &desc, nil
}

// Deregister removes a watch by descriptor id.
func (c *Collector) Deregister(id string) error {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	// Keep the OS subscription only if another descriptor shares the path.
	shared := false
	if ok {
		for _, other := range c.entries {
			if other.desc.Path == e.desc.Path {
				shared = true
				break
			}
		}
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("watch: unknown descriptor %q", id)
	}
	if c.watcher != nil && !shared {
		_ = c.watcher.Remove(e.desc.Path)
	}
	if err := c.saveRegistry(); err != nil {
		c.logger.Warn("watch: registry save failed", "error", err)
	}
	c.logger.Info("watch removed", "id", id, "path", e.desc.Path)
	return nil
}

// List returns all registered descriptors.
func (c *Collector) List() []Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Descriptor, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.desc)
	}
	return out
}

// Stop cancels pending debounce timers, stops all OS subscriptions, and
// waits for the event loop to drain.
func (c *Collector) Stop() {
	c.mu.Lock()
	c.closed = true
	for path, t := range c.timers {
		t.Stop()
		delete(c.timers, path)
	}
	c.mu.Unlock()

	c.cancel()
	if c.watcher != nil {
		_ = c.watcher.Close()
	}
	c.wg.Wait()
}

// loop consumes OS notifications until the watcher closes.
func (c *Collector) loop() {
	defer c.wg.Done()
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			c.rescan(filepath.Dir(ev.Name))
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("watch: notification error", "error", err)
		}
	}
}

// rescan walks the tree under every registered directory containing dir
// and schedules qualifying files. Rescanning (rather than trusting the
// single event path) catches writes fsnotify coalesced or missed in
// subdirectories.
func (c *Collector) rescan(dir string) {
	c.mu.Lock()
	var roots []*entry
	for _, e := range c.entries {
		if dir == e.desc.Path || isUnder(dir, e.desc.Path) {
			roots = append(roots, e)
		}
	}
	c.mu.Unlock()

	for _, e := range roots {
		c.scanEntry(e)
	}
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !isDotDot(rel))
}

func isDotDot(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

// scanEntry walks one registered tree, glob-filtered, hidden files
// skipped, and schedules any regular file newer than its last handoff.
func (c *Collector) scanEntry(e *entry) {
	_ = filepath.WalkDir(e.desc.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != e.desc.Path && fileutil.IsHidden(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if fileutil.IsHidden(path) {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if e.matcher != nil && !e.matcher.Match(filepath.Base(path)) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		c.mu.Lock()
		last, seen := c.processed[path]
		if seen && !info.ModTime().After(last) {
			c.mu.Unlock()
			return nil
		}
		c.schedule(path, e.desc)
		c.mu.Unlock()
		return nil
	})
}

// schedule arms (or re-arms) the debounce timer for path. A new
// notification for the same path cancels and reschedules the pending
// callback, coalescing bursts of writes into one handoff. Caller holds mu.
func (c *Collector) schedule(path string, desc Descriptor) {
	if c.closed {
		return
	}
	if t, ok := c.timers[path]; ok {
		t.Stop()
	}
	c.timers[path] = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		delete(c.timers, path)
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		c.handoff(path, desc)
	})
}

// handoff hashes the file as it exists now and performs the two-phase
// upload: request a target, upload the bytes, notify completion. Any
// step failing is logged; the file is reconsidered on the next
// notification.
func (c *Collector) handoff(path string, desc Descriptor) {
	info, err := os.Stat(path)
	if err != nil {
		c.logger.Warn("watch: stat before handoff failed", "path", path, "error", err)
		return
	}

	hash, err := fileutil.HashFile(path)
	if err != nil {
		c.logger.Warn("watch: hash failed", "path", path, "error", err)
		return
	}

	uploadURL, err := c.sink.RequestUploadTarget(c.ctx, path, hash, info.Size())
	if err != nil {
		c.logger.Warn("watch: upload target request failed", "path", path, "error", err)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn("watch: read failed", "path", path, "error", err)
		return
	}
	if err := c.sink.Upload(c.ctx, uploadURL, data); err != nil {
		c.logger.Warn("watch: upload failed", "path", path, "error", err)
		return
	}

	err = c.sink.NotifyFileIngested(c.ctx, sink.FileIngested{
		ID:         uuid.NewString(),
		Path:       path,
		Hash:       hash,
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
	})
	if err != nil {
		c.logger.Warn("watch: ingest notify failed", "path", path, "error", err)
		return
	}

	c.mu.Lock()
	c.processed[path] = info.ModTime()
	c.mu.Unlock()

	c.logger.Info("watch handoff complete",
		"path", path, "hash", hash, "size", info.Size(), "label", desc.Label)
}

// loadRegistry restores persisted descriptors.
func (c *Collector) loadRegistry() error {
	if c.registryPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.registryPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var descs []Descriptor
	if err := json.Unmarshal(data, &descs); err != nil {
		return fmt.Errorf("decode watch registry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range descs {
		var matcher glob.Glob
		if d.Pattern != "" {
			m, err := glob.Compile(d.Pattern)
			if err != nil {
				c.logger.Warn("watch: dropping descriptor with bad pattern",
					"id", d.ID, "pattern", d.Pattern)
				continue
			}
			matcher = m
		}
		c.entries[d.ID] = &entry{desc: d, matcher: matcher}
	}
	return nil
}

// saveRegistry persists descriptors atomically.
func (c *Collector) saveRegistry() error {
	if c.registryPath == "" {
		return nil
	}
	c.mu.Lock()
	descs := make([]Descriptor, 0, len(c.entries))
	for _, e := range c.entries {
		descs = append(descs, e.desc)
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(descs, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(c.registryPath, data, 0600)
}
