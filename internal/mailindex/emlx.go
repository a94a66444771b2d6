package mailindex

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"howett.net/plist"
)

// EmlxMessage is a parsed message file.
//
// The format stores one message per file: a decimal byte count on the
// first line, the raw RFC 5322 content, then an optional XML plist
// trailer with store metadata.
type EmlxMessage struct {
	// Raw is the RFC 5322 content.
	Raw []byte

	// Flags is the flag bitmask from the plist trailer (0 when absent).
	Flags int64

	// RemoteID is the remote-id value from the plist trailer.
	RemoteID string
}

// ParseEmlx parses a message file from its raw bytes.
func ParseEmlx(data []byte) (*EmlxMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("emlx: empty file")
	}

	newline := bytes.IndexByte(data, '\n')
	if newline < 0 {
		return nil, fmt.Errorf("emlx: no newline after byte count")
	}
	countStr := strings.TrimSpace(string(data[:newline]))
	byteCount, err := strconv.ParseInt(countStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("emlx: invalid byte count %q: %w", countStr, err)
	}
	if byteCount < 0 {
		return nil, fmt.Errorf("emlx: negative byte count %d", byteCount)
	}

	start := newline + 1
	end := int64(start) + byteCount
	if end > int64(len(data)) {
		return nil, fmt.Errorf(
			"emlx: byte count %d exceeds file size (available: %d)",
			byteCount, len(data)-start,
		)
	}

	msg := &EmlxMessage{Raw: data[start:end]}

	// Plist trailer is best-effort metadata.
	if int(end) < len(data) {
		parseTrailer(data[end:], msg)
	}
	return msg, nil
}

// ParseEmlxFile reads and parses a message file from disk.
func ParseEmlxFile(path string) (*EmlxMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("emlx: read %q: %w", path, err)
	}
	return ParseEmlx(data)
}

// parseTrailer decodes the XML plist trailer. Failures are silently
// ignored.
func parseTrailer(data []byte, msg *EmlxMessage) {
	start := bytes.Index(data, []byte("<?xml"))
	if start < 0 {
		start = bytes.Index(data, []byte("<plist"))
	}
	if start < 0 {
		return
	}

	var dict map[string]interface{}
	if _, err := plist.Unmarshal(data[start:], &dict); err != nil {
		return
	}

	switch v := dict["flags"].(type) {
	case int64:
		msg.Flags = v
	case uint64:
		msg.Flags = int64(v)
	case float64:
		msg.Flags = int64(v)
	}
	if s, ok := dict["remote-id"].(string); ok {
		msg.RemoteID = s
	}
}
