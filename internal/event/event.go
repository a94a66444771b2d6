// Package event defines the outbound event shapes delivered to the
// ingestion sink, with deterministic identifiers derived from stable
// store keys so redelivery deduplicates downstream.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Chunk kinds.
const (
	ChunkText = "text"
	ChunkOCR  = "ocr"
)

// Enrichment statuses for attachments.
const (
	EnrichSkipped  = "skipped"
	EnrichDisabled = "disabled"
	EnrichMissing  = "missing"
	EnrichComplete = "complete"
	EnrichError    = "error"
)

// Chunk is an independently identified unit of extracted content.
type Chunk struct {
	ChunkID string            `json:"chunkId"`
	Type    string            `json:"type"`
	Text    string            `json:"text"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// AttachmentMeta describes one attachment within event metadata.
type AttachmentMeta struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Path             string `json:"path"`
	ContentHash      string `json:"contentHash,omitempty"`
	Status           string `json:"status"`
	EnrichmentStatus string `json:"enrichmentStatus,omitempty"`
	Error            string `json:"error,omitempty"`
}

// ThreadMeta describes the conversation an event belongs to.
type ThreadMeta struct {
	ThreadID     string   `json:"threadId"`
	Participants []string `json:"participants"`
	Service      string   `json:"service"`
}

// MessageMeta describes the message an event was derived from.
type MessageMeta struct {
	Position    int64            `json:"position"`
	Timestamp   time.Time        `json:"timestamp"`
	IsFromSelf  bool             `json:"isFromSelf"`
	Sender      string           `json:"sender"`
	Attachments []AttachmentMeta `json:"attachments,omitempty"`
}

// Metadata carries the structured detail attached to an event.
type Metadata struct {
	Thread  *ThreadMeta  `json:"thread,omitempty"`
	Message *MessageMeta `json:"message,omitempty"`
}

// Event is one normalized outbound event. Immutable once constructed.
type Event struct {
	SourceType string   `json:"sourceType"`
	SourceID   string   `json:"sourceId"`
	Content    string   `json:"content"`
	Chunks     []Chunk  `json:"chunks"`
	Metadata   Metadata `json:"metadata"`
}

// SourceID derives a deterministic event identifier from the source type
// and a stable store key. Snapshot-local row handles must never feed this.
func SourceID(sourceType, stableKey string) string {
	sum := sha256.Sum256([]byte(sourceType + "|" + stableKey))
	return hex.EncodeToString(sum[:])[:32]
}

// ChunkID derives a deterministic chunk identifier from its inputs.
func ChunkID(rowID int64, attachmentID, kind string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", rowID, attachmentID, kind)))
	return hex.EncodeToString(sum[:])[:32]
}
