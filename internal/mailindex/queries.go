package mailindex

import (
	"database/sql"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// fetchIndexHead returns the highest row id in the index (0 when empty).
func fetchIndexHead(db *sql.DB) (int64, error) {
	var head sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(ROWID) FROM messages`).Scan(&head); err != nil {
		return 0, fmt.Errorf("fetch index head: %w", err)
	}
	return head.Int64, nil
}

// fetchIndexRows returns index rows with row id strictly greater than
// afterID, ascending, limit-bounded, joined against mailbox metadata.
func fetchIndexRows(db *sql.DB, afterID int64, limit int) ([]Record, error) {
	rows, err := db.Query(`
		SELECT
			m.ROWID,
			COALESCE(s.subject, ''),
			COALESCE(a.address, ''),
			COALESCE(a.comment, ''),
			COALESCE(m.date_sent, 0),
			COALESCE(m.flags, 0),
			COALESCE(m.remote_id, ''),
			COALESCE(mb.url, '')
		FROM messages m
		LEFT JOIN subjects s ON m.subject = s.ROWID
		LEFT JOIN addresses a ON m.sender = a.ROWID
		LEFT JOIN mailboxes mb ON m.mailbox = mb.ROWID
		WHERE m.ROWID > ?
		ORDER BY m.ROWID ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch index rows: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var sentAt int64
		var mailboxURL string
		if err := rows.Scan(
			&r.RowID, &r.Subject, &r.Sender, &r.SenderName,
			&sentAt, &r.Flags, &r.RemoteID, &mailboxURL,
		); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		if sentAt > 0 {
			r.SentAt = time.Unix(sentAt, 0).UTC()
		}
		r.MailboxName, r.MailboxDisp, r.MailboxPath = splitMailboxURL(mailboxURL)
		records = append(records, r)
	}
	return records, rows.Err()
}

// fetchRecipients returns recipient addresses for a batch of message row
// ids, keyed by row id.
func fetchRecipients(db *sql.DB, rowIDs []int64) (map[int64][]string, error) {
	result := make(map[int64][]string)
	if len(rowIDs) == 0 {
		return result, nil
	}

	const chunkSize = 500
	for i := 0; i < len(rowIDs); i += chunkSize {
		end := i + chunkSize
		if end > len(rowIDs) {
			end = len(rowIDs)
		}
		chunk := rowIDs[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, len(chunk))
		for j, id := range chunk {
			placeholders[j] = "?"
			args[j] = id
		}

		query := fmt.Sprintf(`
			SELECT rc.message, COALESCE(a.address, '')
			FROM recipients rc
			JOIN addresses a ON rc.address = a.ROWID
			WHERE rc.message IN (%s)
			ORDER BY rc.position
		`, strings.Join(placeholders, ","))

		rows, err := db.Query(query, args...)
		if err != nil {
			// Older index versions lack the recipients table.
			if strings.Contains(err.Error(), "no such table") {
				return result, nil
			}
			return nil, fmt.Errorf("fetch recipients: %w", err)
		}
		for rows.Next() {
			var msgID int64
			var addr string
			if err := rows.Scan(&msgID, &addr); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan recipient: %w", err)
			}
			result[msgID] = append(result[msgID], addr)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// splitMailboxURL derives (name, display name, path) from a mailbox URL
// as recorded in the index, e.g. "imap://user@host/INBOX/Promotions" or
// "file:///Users/x/Library/Mail/V10/LocalMailbox.mbox".
func splitMailboxURL(raw string) (name, display, mboxPath string) {
	if raw == "" {
		return "", "", ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		base := path.Base(raw)
		return base, base, raw
	}

	p := strings.TrimPrefix(u.Path, "/")
	if p == "" {
		p = u.Host
	}
	name = path.Base(p)
	display = strings.TrimSuffix(name, ".mbox")
	display = strings.TrimSuffix(display, ".imapmbox")
	if unescaped, err := url.PathUnescape(display); err == nil {
		display = unescaped
	}
	return name, display, p
}
