package testutil

import (
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

const chatStoreSchema = `
	CREATE TABLE message (
		ROWID INTEGER PRIMARY KEY,
		guid TEXT, text TEXT, attributedBody BLOB,
		is_from_me INTEGER, date INTEGER, handle_id INTEGER
	);
	CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT);
	CREATE TABLE chat (ROWID INTEGER PRIMARY KEY, guid TEXT, display_name TEXT, service_name TEXT);
	CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER);
	CREATE TABLE chat_handle_join (chat_id INTEGER, handle_id INTEGER);
	CREATE TABLE attachment (ROWID INTEGER PRIMARY KEY, guid TEXT, uti TEXT, filename TEXT, mime_type TEXT);
	CREATE TABLE message_attachment_join (message_id INTEGER, attachment_id INTEGER);
`

// CreateMessageStore writes a chat store database at path with rows
// sequential messages, for tests that need a bootable store without the
// full fixture machinery.
func CreateMessageStore(t *testing.T, path string, rows int) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(chatStoreSchema); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= rows; i++ {
		_, err := db.Exec(`
			INSERT INTO message (ROWID, guid, text, is_from_me, date)
			VALUES (?, ?, ?, 0, ?)`,
			i, fmt.Sprintf("msg-%d", i), fmt.Sprintf("message %d", i), 700000000+i)
		if err != nil {
			t.Fatal(err)
		}
	}
}
