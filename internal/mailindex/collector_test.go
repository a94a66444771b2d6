package mailindex

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/recollect/collector/internal/cursor"
	"github.com/recollect/collector/internal/snapshot"
)

// indexRow is one fixture row for the test index database.
type indexRow struct {
	subject  string
	sender   string
	flags    int64
	remoteID string
	mailbox  string // mailbox url
}

// newIndexFixture builds a mail root with a V10 index database holding the
// given rows, plus mailbox directories for file resolution.
func newIndexFixture(t *testing.T, rows []indexRow) string {
	t.Helper()
	root := t.TempDir()
	indexPath := filepath.Join(root, "V10", "MailData", indexFileName)
	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite3", indexPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	schema := `
		CREATE TABLE messages (
			ROWID INTEGER PRIMARY KEY,
			subject INTEGER, sender INTEGER, date_sent INTEGER,
			flags INTEGER, remote_id TEXT, mailbox INTEGER
		);
		CREATE TABLE subjects (ROWID INTEGER PRIMARY KEY, subject TEXT);
		CREATE TABLE addresses (ROWID INTEGER PRIMARY KEY, address TEXT, comment TEXT);
		CREATE TABLE mailboxes (ROWID INTEGER PRIMARY KEY, url TEXT);
		CREATE TABLE recipients (ROWID INTEGER PRIMARY KEY, message INTEGER, address INTEGER, position INTEGER);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatal(err)
	}

	for i, r := range rows {
		if _, err := db.Exec(`INSERT INTO subjects (ROWID, subject) VALUES (?, ?)`, i+1, r.subject); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec(`INSERT INTO addresses (ROWID, address, comment) VALUES (?, ?, ?)`,
			i+1, r.sender, "Sender "+r.sender); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec(`INSERT INTO mailboxes (ROWID, url) VALUES (?, ?)`, i+1, r.mailbox); err != nil {
			t.Fatal(err)
		}
		if _, err := db.Exec(`
			INSERT INTO messages (ROWID, subject, sender, date_sent, flags, remote_id, mailbox)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			i+1, i+1, i+1, 1700000000+int64(i), r.flags, r.remoteID, i+1); err != nil {
			t.Fatal(err)
		}
		// One recipient per message, pointing back at the sender address.
		if _, err := db.Exec(`INSERT INTO recipients (message, address, position) VALUES (?, ?, 0)`,
			i+1, i+1); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newTestCollector(t *testing.T, root string) *Collector {
	t.Helper()
	cursors, err := cursor.NewStore(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatal(err)
	}
	snaps := snapshot.NewManager(t.TempDir(), nil)
	return New(Options{Root: root, ShardDirs: 2, ScanCap: 50}, snaps, cursors, nil)
}

func TestRunExtractsFiltersAndResolves(t *testing.T) {
	rows := []indexRow{
		{"meeting notes", "alice@example.com", 0, "101", "imap://u@h/INBOX"},
		{"50% off everything", "noreply@shop.example", 0, "102", "imap://u@h/Junk"},
		{"urgent: contract", "boss@example.com", FlagVIP, "103", "imap://u@h/Junk"},
	}
	root := newIndexFixture(t, rows)

	// Resolvable message file for the first row only.
	msgPath := filepath.Join(root, "INBOX", "Messages", "101.emlx")
	if err := os.MkdirAll(filepath.Dir(msgPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(msgPath, []byte("2\nhi"), 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestCollector(t, root)
	res, err := c.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Processed != 3 {
		t.Errorf("Processed = %d, want 3", res.Processed)
	}
	if res.Filtered != 1 {
		t.Errorf("Filtered = %d, want 1 (junk row without VIP)", res.Filtered)
	}
	if res.Resolved != 1 {
		t.Errorf("Resolved = %d, want 1", res.Resolved)
	}
	// Filtered rows are included in cursor advancement.
	if res.Cursor != 3 {
		t.Errorf("Cursor = %d, want 3", res.Cursor)
	}
	if res.Head != 3 {
		t.Errorf("Head = %d, want 3", res.Head)
	}
	// The kept records are inbox + VIP junk.
	if len(res.Records) != 2 {
		t.Fatalf("len(Records) = %d, want 2", len(res.Records))
	}
	if res.Records[0].Subject != "meeting notes" {
		t.Errorf("Records[0].Subject = %q", res.Records[0].Subject)
	}
	if !res.Records[1].IsVIP() {
		t.Error("second kept record should be the VIP row")
	}
	if got := res.Records[0].Recipients; len(got) != 1 || got[0] != "alice@example.com" {
		t.Errorf("Recipients = %v", got)
	}
	// Unresolvable VIP row surfaces as a warning, not an error.
	if len(res.Warnings) != 1 {
		t.Errorf("Warnings = %v, want exactly one", res.Warnings)
	}

	// Resolved file recorded in durable state.
	st := c.State()
	if fs, ok := st.Files[1]; !ok || fs.Path != msgPath {
		t.Errorf("Files[1] = %+v, want path %q", fs, msgPath)
	}
}

func TestRunSecondPassSeesNothingNew(t *testing.T) {
	root := newIndexFixture(t, []indexRow{
		{"hello", "a@example.com", 0, "1", "imap://u@h/INBOX"},
	})
	c := newTestCollector(t, root)

	first, err := c.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if first.Processed != 1 || first.Cursor != 1 {
		t.Fatalf("first run: %+v", first)
	}

	second, err := c.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if second.Processed != 0 {
		t.Errorf("second run Processed = %d, want 0", second.Processed)
	}
	if second.Cursor != 1 {
		t.Errorf("second run Cursor = %d, want 1", second.Cursor)
	}
	if c.State().LastRunAt == nil {
		t.Error("LastRunAt not set on empty run")
	}
}

func TestRunBatchLimitAndResume(t *testing.T) {
	rows := make([]indexRow, 5)
	for i := range rows {
		rows[i] = indexRow{"subject", "a@example.com", 0, "", "imap://u@h/INBOX"}
	}
	root := newIndexFixture(t, rows)
	c := newTestCollector(t, root)

	first, err := c.Run(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if first.Processed != 2 || first.Cursor != 2 {
		t.Fatalf("first run: processed=%d cursor=%d", first.Processed, first.Cursor)
	}
	if first.Head != 5 {
		t.Errorf("Head = %d, want 5", first.Head)
	}

	second, err := c.Run(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if second.Processed != 3 || second.Cursor != 5 {
		t.Errorf("second run: processed=%d cursor=%d, want 3 and 5",
			second.Processed, second.Cursor)
	}
}

func TestRunMissingRootFails(t *testing.T) {
	c := newTestCollector(t, filepath.Join(t.TempDir(), "absent"))
	if _, err := c.Run(context.Background(), 0); err == nil {
		t.Fatal("expected error for missing mail root")
	}
	if c.State().LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestFileStateRetentionCap(t *testing.T) {
	rows := make([]indexRow, 6)
	for i := range rows {
		rows[i] = indexRow{"s", "a@example.com", 0, "", "imap://u@h/INBOX"}
	}
	root := newIndexFixture(t, rows)

	// Every row resolvable by row id.
	for i := 1; i <= 6; i++ {
		path := filepath.Join(root, "INBOX", "Messages", strconv.Itoa(i)+".emlx")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("1\nx"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cursors, err := cursor.NewStore(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatal(err)
	}
	snaps := snapshot.NewManager(t.TempDir(), nil)
	c := New(Options{Root: root, RetentionCap: 4, ShardDirs: 2, ScanCap: 50}, snaps, cursors, nil)

	res, err := c.Run(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Resolved != 6 {
		t.Fatalf("Resolved = %d, want 6", res.Resolved)
	}

	st := c.State()
	if len(st.Files) != 4 {
		t.Errorf("len(Files) = %d, want 4 after trim", len(st.Files))
	}
	// Newest rows survive.
	for _, id := range []int64{3, 4, 5, 6} {
		if _, ok := st.Files[id]; !ok {
			t.Errorf("row %d should survive the trim", id)
		}
	}
}
