package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/figbridge/dbopen"
)

func TestOpenMemoryPragmas(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var busy int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 5_000 {
		t.Fatalf("busy_timeout = %d, want 5000", busy)
	}

	var sync int
	if err := db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatal(err)
	}
	// NORMAL = 1
	if sync != 1 {
		t.Fatalf("synchronous = %d, want 1", sync)
	}
}

func TestOptions(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(250), dbopen.WithSynchronous("FULL"))

	var busy, sync int
	db.QueryRow("PRAGMA busy_timeout").Scan(&busy)
	db.QueryRow("PRAGMA synchronous").Scan(&sync)
	if busy != 250 || sync != 2 {
		t.Fatalf("busy_timeout = %d synchronous = %d, want 250 and 2", busy, sync)
	}
}

func TestWithMkdirAllAndSchema(t *testing.T) {
	// WHAT: the journal path may point into a directory that does not exist yet.
	path := filepath.Join(t.TempDir(), "nested", "dir", "journal.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(`
		CREATE TABLE IF NOT EXISTS t (id TEXT PRIMARY KEY);`))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO t (id) VALUES ('a')`); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}

	var mode string
	db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpenBadSchema(t *testing.T) {
	_, err := dbopen.Open(":memory:", dbopen.WithSchema("CREATE TABLE ("))
	if err == nil {
		t.Fatal("expected schema error")
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table"), false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunTx(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))
	ctx := context.Background()

	if err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO kv VALUES ('a', 'x')`)
		return err
	}); err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	sentinel := errors.New("rollback")
	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		tx.Exec(`INSERT INTO kv VALUES ('b', 'y')`)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n)
	if n != 1 {
		t.Fatalf("rows = %d, want 1 after rollback", n)
	}
}

func TestRetryGivesUpOnBusy(t *testing.T) {
	// WHAT: a persistently busy transaction is attempted three times, then
	// the busy error is returned unchanged.
	db := dbopen.OpenMemory(t)
	attempts := 0
	busy := errors.New("database is locked")
	err := dbopen.RunTx(context.Background(), db, func(*sql.Tx) error {
		attempts++
		return busy
	})
	if !errors.Is(err, busy) || attempts != 3 {
		t.Fatalf("err = %v attempts = %d, want busy after 3", err, attempts)
	}
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE e (id TEXT)`))
	res, err := dbopen.Exec(context.Background(), db, `INSERT INTO e (id) VALUES (?)`, "1")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("RowsAffected = %d, want 1", n)
	}
}

func TestRunTxCancelledContext(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := dbopen.RunTx(ctx, db, func(*sql.Tx) error { return nil }); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
