package messages

import "time"

// Phase is the collector lifecycle state.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseBooting Phase = "booting"
	PhaseReady   Phase = "ready"
	PhaseRunning Phase = "running"
	PhaseFaulted Phase = "faulted"
)

// Run modes.
const (
	ModeBackfill    = "backfill"
	ModeIncremental = "incremental"
)

// Record is one message row read from a snapshot. Immutable once read.
type Record struct {
	RowID        int64
	GUID         string // stable store key, survives across snapshots
	ThreadID     string
	ThreadName   string
	Service      string
	Participants []string
	Sender       string
	IsFromSelf   bool
	Body         string
	Timestamp    time.Time
	Attachments  []Attachment
}

// Attachment is one attachment row joined to a message.
type Attachment struct {
	GUID       string
	TypeTag    string // UTI or MIME type as recorded by the store
	StoredPath string // path as recorded in the store
	MimeType   string

	// Populated during resolution.
	ResolvedPath   string // empty if the backing file was purged
	ContentHash    string // set only when resolved
	IsImage        bool
	EnrichStatus   string
	EnrichError    string
	RecognizedText string
	RecognizedMS   int64
}

// RunRequest parameterizes one collector run.
type RunRequest struct {
	Mode        string
	BatchSize   int
	MaxPosition int64 // 0 = unbounded
}

// RunResult summarizes one collector run.
type RunResult struct {
	Processed  int           `json:"processed"`
	Enriched   int           `json:"attachmentsOrEnrichmentCount"`
	Cursor     int64         `json:"cursorPosition"`
	Head       int64         `json:"headPosition"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"durationMs"`
}
