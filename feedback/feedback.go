// Package feedback journals every classifier feedback attempt made from an
// overlay, whether it reached the server or not.
//
// It exposes both a chi-compatible [Journal.Handler] and a standard
// [Journal.RegisterMux] so callers can pick whichever router they use.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/sage/dbopen"
	"github.com/hazyhaar/sage/idgen"
)

// Status of a journaled attempt.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Entry is one feedback attempt.
type Entry struct {
	ID                 string    `json:"id"`
	PageURL            string    `json:"page_url"`
	IsProductive       bool      `json:"is_productive"`
	OriginalPrediction bool      `json:"original_prediction"`
	IsCorrect          bool      `json:"is_correct"`
	TextBytes          int       `json:"text_bytes"`
	Status             string    `json:"status"`
	Error              string    `json:"error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Config holds the settings needed to create a Journal.
type Config struct {
	DB      *sql.DB
	AppName string // shown in the HTML listing
}

// Journal stores feedback entries in SQLite.
type Journal struct {
	db      *sql.DB
	appName string
	newID   idgen.Generator
}

// Schema creates the journal table.
const Schema = `
CREATE TABLE IF NOT EXISTS feedback_journal (
    id                  TEXT PRIMARY KEY,
    page_url            TEXT NOT NULL DEFAULT '',
    is_productive       INTEGER NOT NULL,
    original_prediction INTEGER NOT NULL,
    is_correct          INTEGER NOT NULL,
    text_bytes          INTEGER NOT NULL DEFAULT 0,
    status              TEXT NOT NULL,
    error               TEXT NOT NULL DEFAULT '',
    created_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_journal_created ON feedback_journal(created_at DESC);
`

// New creates a Journal and applies the schema.
func New(cfg Config) (*Journal, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("feedback: DB is required")
	}
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := cfg.DB.Exec(stmt); err != nil {
			return nil, fmt.Errorf("feedback schema: %w", err)
		}
	}
	if cfg.AppName == "" {
		cfg.AppName = "sage"
	}
	return &Journal{
		db:      cfg.DB,
		appName: cfg.AppName,
		newID:   idgen.Prefixed("fb_", idgen.Default),
	}, nil
}

// Record stores e. ID and CreatedAt are filled when empty.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	switch e.Status {
	case StatusSent, StatusFailed, StatusSkipped:
	default:
		return fmt.Errorf("feedback: invalid status %q", e.Status)
	}
	if e.ID == "" {
		e.ID = j.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := dbopen.Exec(ctx, j.db,
		`INSERT INTO feedback_journal
		 (id, page_url, is_productive, original_prediction, is_correct, text_bytes, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PageURL, e.IsProductive, e.OriginalPrediction, e.IsCorrect,
		e.TextBytes, e.Status, e.Error, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("feedback: record: %w", err)
	}
	return nil
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, page_url, is_productive, original_prediction, is_correct, text_bytes, status, error, created_at
		 FROM feedback_journal ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("feedback: list: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.PageURL, &e.IsProductive, &e.OriginalPrediction, &e.IsCorrect,
			&e.TextBytes, &e.Status, &e.Error, &created); err != nil {
			return nil, fmt.Errorf("feedback: scan: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts returns the number of entries per status.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM feedback_journal GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("feedback: counts: %w", err)
	}
	defer rows.Close()
	out := map[string]int{StatusSent: 0, StatusFailed: 0, StatusSkipped: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("feedback: counts: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// Handler returns an http.Handler serving the journal listings.
// The caller must strip the URL prefix before passing requests.
//
//	chi:      r.Mount("/feedback", http.StripPrefix("/feedback", j.Handler()))
//	ServeMux: j.RegisterMux(mux, "/feedback")
func (j *Journal) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && (r.URL.Path == "" || r.URL.Path == "/" || r.URL.Path == "/entries"):
			j.handleListJSON(w, r)
		case r.Method == http.MethodGet && r.URL.Path == "/entries.html":
			j.handleListHTML(w, r)
		case r.Method == http.MethodGet && r.URL.Path == "/counts":
			j.handleCounts(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// RegisterMux registers the journal routes on a standard ServeMux.
func (j *Journal) RegisterMux(mux *http.ServeMux, basePath string) {
	bp := strings.TrimRight(basePath, "/")
	mux.HandleFunc("GET "+bp+"/entries", j.handleListJSON)
	mux.HandleFunc("GET "+bp+"/entries.html", j.handleListHTML)
	mux.HandleFunc("GET "+bp+"/counts", j.handleCounts)
}
