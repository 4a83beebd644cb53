package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// writeAttempts bounds Exec. The agent, the CLI and the MCP bridge share one
// file, and a `sage prefs set` racing a feedback journal write is the usual
// contender; it holds the lock for a single statement.
const writeAttempts = 3

// IsBusy reports whether err means another connection holds the write lock.
// Driver errors are matched on their primary result code; wrapped or
// stringified errors fall back to the message.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Exec runs a preference or journal write, backing off 100ms, then 200ms,
// while the lock is held elsewhere. Any other error returns at once.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		var res sql.Result
		if res, err = db.ExecContext(ctx, query, args...); err == nil {
			return res, nil
		}
		if !IsBusy(err) || attempt == writeAttempts {
			break
		}
		wait := time.NewTimer(time.Duration(attempt) * 100 * time.Millisecond)
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, fmt.Errorf("dbopen: write abandoned while locked: %w", ctx.Err())
		case <-wait.C:
		}
	}
	return nil, err
}
