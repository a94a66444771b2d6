// Package sink provides the client for the remote ingestion pipeline.
// Collectors treat it as the single delivery boundary: events are handed
// off in batches, and discovered files go through a two-phase
// request-upload-notify handoff.
package sink

import (
	"context"
	"time"

	"github.com/recollect/collector/internal/event"
)

// FileIngested describes a completed file handoff.
type FileIngested struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Sink is the ingestion contract consumed by every collector. It must
// tolerate concurrent calls from independent collectors.
type Sink interface {
	// Ingest delivers a batch of events. All-or-nothing from the
	// caller's perspective: an error means the whole batch must be
	// recomputed and redelivered on the next run.
	Ingest(ctx context.Context, events []event.Event) error

	// RequestUploadTarget asks for an upload location for a file,
	// keyed by path, content hash, and size.
	RequestUploadTarget(ctx context.Context, path, hash string, size int64) (uploadURL string, err error)

	// Upload sends file bytes to a previously issued upload location.
	Upload(ctx context.Context, uploadURL string, data []byte) error

	// NotifyFileIngested reports a completed upload.
	NotifyFileIngested(ctx context.Context, info FileIngested) error
}
