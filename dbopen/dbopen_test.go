package dbopen_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/sage/dbopen"
)

func TestOpenMemory_Pragmas(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d, want 1", fk)
	}

	var sync int
	if err := db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatal(err)
	}
	if sync != 1 {
		t.Fatalf("synchronous = %d, want 1 (NORMAL)", sync)
	}

	var busy int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 10_000 {
		t.Fatalf("busy_timeout = %d, want 10000", busy)
	}
}

func TestWithBusyTimeout(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(5000))

	var bt int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&bt); err != nil {
		t.Fatal(err)
	}
	if bt != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", bt)
	}
}

func TestWithSchema(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`))

	if _, err := db.Exec(`INSERT INTO kv (k, v) VALUES ('learningMode', 'true')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var v string
	if err := db.QueryRow(`SELECT v FROM kv WHERE k = 'learningMode'`).Scan(&v); err != nil {
		t.Fatal(err)
	}
	if v != "true" {
		t.Fatalf("v = %q", v)
	}
}

func TestWithMkdirAll_WALOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sage.db")

	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("some other error"), false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("database is locked"), true},
		{errors.New("prefix: database table is locked (6)"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE exec_test (id TEXT PRIMARY KEY)`))

	if _, err := dbopen.Exec(context.Background(), db, `INSERT INTO exec_test (id) VALUES (?)`, "1"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	var count int
	db.QueryRow(`SELECT COUNT(*) FROM exec_test`).Scan(&count)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestExec_NonBusyErrorNotRetried(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if _, err := dbopen.Exec(context.Background(), db, `INSERT INTO missing (id) VALUES (1)`); err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestExec_GivesUpWhileAnotherWriterHoldsTheLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	schema := dbopen.WithSchema(`CREATE TABLE IF NOT EXISTS exec_test (id TEXT PRIMARY KEY)`)
	holder, err := dbopen.Open(path, schema, dbopen.WithBusyTimeout(1))
	if err != nil {
		t.Fatal(err)
	}
	defer holder.Close()
	other, err := dbopen.Open(path, schema, dbopen.WithBusyTimeout(1))
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()

	tx, err := holder.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`INSERT INTO exec_test (id) VALUES ('held')`); err != nil {
		t.Fatal(err)
	}

	_, err = dbopen.Exec(context.Background(), other, `INSERT INTO exec_test (id) VALUES ('late')`)
	if !dbopen.IsBusy(err) {
		t.Fatalf("expected busy error, got %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := dbopen.Exec(context.Background(), other, `INSERT INTO exec_test (id) VALUES ('late')`); err != nil {
		t.Fatalf("write after the lock was released: %v", err)
	}
}
