package messages

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// The message store keeps timestamps as nanoseconds since 2001-01-01 UTC.
var storeEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// storeTime converts a store-native timestamp to absolute time. Older
// store versions recorded whole seconds; anything below the nanosecond
// range is treated as seconds.
func storeTime(raw int64) time.Time {
	if raw == 0 {
		return time.Time{}
	}
	if raw < 1e12 {
		return storeEpoch.Add(time.Duration(raw) * time.Second)
	}
	return storeEpoch.Add(time.Duration(raw) * time.Nanosecond)
}

// fetchHead returns the highest message row id in the store (0 when empty).
func fetchHead(db *sql.DB) (int64, error) {
	var head sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(ROWID) FROM message`).Scan(&head); err != nil {
		return 0, fmt.Errorf("fetch head: %w", err)
	}
	return head.Int64, nil
}

// fetchFloor returns the position just below the earliest row, so that a
// cursor resting on it delivers the full history. 0 when the store is empty.
func fetchFloor(db *sql.DB) (int64, error) {
	var min sql.NullInt64
	if err := db.QueryRow(`SELECT MIN(ROWID) FROM message`).Scan(&min); err != nil {
		return 0, fmt.Errorf("fetch floor: %w", err)
	}
	if !min.Valid || min.Int64 == 0 {
		return 0, nil
	}
	return min.Int64 - 1, nil
}

// fetchMessages returns message rows with ROWID strictly greater than
// afterID, ascending, limit-bounded, optionally capped at maxID. The
// ascending order is the sole correctness guarantee for exactly-once
// delivery across restarts. A message joined into several chats is
// attributed to its lowest chat row id so it still yields one record.
func fetchMessages(db *sql.DB, afterID, maxID int64, limit int) ([]Record, error) {
	query := `
		SELECT
			m.ROWID,
			COALESCE(m.guid, ''),
			COALESCE(m.text, ''),
			m.attributedBody,
			COALESCE(m.is_from_me, 0),
			COALESCE(m.date, 0),
			COALESCE(h.id, ''),
			COALESCE(c.guid, ''),
			COALESCE(c.display_name, ''),
			COALESCE(c.service_name, '')
		FROM message m
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		LEFT JOIN chat c ON c.ROWID = (
			SELECT cmj.chat_id FROM chat_message_join cmj
			WHERE cmj.message_id = m.ROWID
			ORDER BY cmj.chat_id LIMIT 1
		)
		WHERE m.ROWID > ?`
	args := []interface{}{afterID}
	if maxID > 0 {
		query += ` AND m.ROWID <= ?`
		args = append(args, maxID)
	}
	query += `
		ORDER BY m.ROWID ASC
		LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var body sql.NullString
		var encoded []byte
		var rawDate int64
		var fromSelf int
		if err := rows.Scan(
			&r.RowID, &r.GUID, &body, &encoded, &fromSelf, &rawDate,
			&r.Sender, &r.ThreadID, &r.ThreadName, &r.Service,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.IsFromSelf = fromSelf != 0
		r.Timestamp = storeTime(rawDate)
		r.Body = normalizeBody(body.String, encoded)
		records = append(records, r)
	}
	return records, rows.Err()
}

// fetchParticipants returns handle identifiers for a batch of thread row
// keys, keyed by chat guid.
func fetchParticipants(db *sql.DB, threadGUIDs []string) (map[string][]string, error) {
	result := make(map[string][]string)
	if len(threadGUIDs) == 0 {
		return result, nil
	}

	const chunkSize = 500
	for i := 0; i < len(threadGUIDs); i += chunkSize {
		end := i + chunkSize
		if end > len(threadGUIDs) {
			end = len(threadGUIDs)
		}
		chunk := threadGUIDs[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, len(chunk))
		for j, id := range chunk {
			placeholders[j] = "?"
			args[j] = id
		}

		query := fmt.Sprintf(`
			SELECT c.guid, h.id
			FROM chat c
			JOIN chat_handle_join chj ON chj.chat_id = c.ROWID
			JOIN handle h ON h.ROWID = chj.handle_id
			WHERE c.guid IN (%s)
			ORDER BY h.id
		`, strings.Join(placeholders, ","))

		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("fetch participants: %w", err)
		}
		for rows.Next() {
			var guid, handle string
			if err := rows.Scan(&guid, &handle); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan participant: %w", err)
			}
			result[guid] = append(result[guid], handle)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// fetchAttachments returns attachments for a batch of message row ids,
// keyed by message row id.
func fetchAttachments(db *sql.DB, messageRowIDs []int64) (map[int64][]Attachment, error) {
	result := make(map[int64][]Attachment)
	if len(messageRowIDs) == 0 {
		return result, nil
	}

	const chunkSize = 500
	for i := 0; i < len(messageRowIDs); i += chunkSize {
		end := i + chunkSize
		if end > len(messageRowIDs) {
			end = len(messageRowIDs)
		}
		chunk := messageRowIDs[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, len(chunk))
		for j, id := range chunk {
			placeholders[j] = "?"
			args[j] = id
		}

		query := fmt.Sprintf(`
			SELECT
				maj.message_id,
				COALESCE(a.guid, ''),
				COALESCE(a.uti, ''),
				COALESCE(a.filename, ''),
				COALESCE(a.mime_type, '')
			FROM message_attachment_join maj
			JOIN attachment a ON a.ROWID = maj.attachment_id
			WHERE maj.message_id IN (%s)
			ORDER BY a.ROWID
		`, strings.Join(placeholders, ","))

		rows, err := db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("fetch attachments: %w", err)
		}
		for rows.Next() {
			var msgID int64
			var a Attachment
			if err := rows.Scan(&msgID, &a.GUID, &a.TypeTag, &a.StoredPath, &a.MimeType); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan attachment: %w", err)
			}
			a.IsImage = isImageType(a.MimeType, a.TypeTag, a.StoredPath)
			result[msgID] = append(result[msgID], a)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// isImageType reports whether an attachment carries image content, by
// MIME type first, then type tag, then file extension.
func isImageType(mimeType, typeTag, path string) bool {
	if strings.HasPrefix(mimeType, "image/") {
		return true
	}
	tag := strings.ToLower(typeTag)
	if strings.Contains(tag, "image") || strings.Contains(tag, "png") ||
		strings.Contains(tag, "jpeg") || strings.Contains(tag, "heic") {
		return true
	}
	lower := strings.ToLower(path)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".heic", ".tiff", ".webp", ".bmp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
