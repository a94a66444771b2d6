package mailindex

import "time"

// FlagVIP is the VIP bit in the index row flag bitmask. VIP-flagged mail
// bypasses all mailbox-based noise filtering.
const FlagVIP int64 = 1 << 8

// Record is one mail index row. Read once per run; the file-resolution
// outcome is persisted into the per-row file-state map.
type Record struct {
	RowID       int64
	Subject     string
	Sender      string
	SenderName  string
	Recipients  []string
	SentAt      time.Time
	MailboxName string
	MailboxDisp string
	MailboxPath string
	Flags       int64
	RemoteID    string

	// Resolution outcome; empty/zero when the message file was not found.
	FilePath  string
	FileInode uint64
	FileMTime time.Time
}

// IsVIP reports whether the row's VIP bit is set.
func (r *Record) IsVIP() bool {
	return r.Flags&FlagVIP != 0
}

// RunResult summarizes one mail collector run.
type RunResult struct {
	Processed  int           `json:"processed"`
	Resolved   int           `json:"resolved"`
	Filtered   int           `json:"filtered"`
	Cursor     int64         `json:"cursorPosition"`
	Head       int64         `json:"headPosition"`
	Warnings   []string      `json:"warnings,omitempty"`
	Records    []Record      `json:"-"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"durationMs"`
}
