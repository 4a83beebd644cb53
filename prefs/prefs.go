// Package prefs is the persistent key/value store shared by the agent, the
// health poller and the CLI. Values are JSON documents.
//
// Writes made through a Store are announced to its subscribers immediately.
// Writes made by another process sharing the database file are picked up by
// Watch.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/sage/dbopen"
	"github.com/hazyhaar/sage/watch"
)

// Well-known keys.
const (
	KeyActivated    = "sageAiActivated"
	KeyLearningMode = "learningMode"
	KeyServerHealth = "serverHealth"
)

// ErrNotFound is returned by Get for a key that was never written and has
// no default.
var ErrNotFound = errors.New("prefs: key not found")

// defaults apply to keys that have never been written.
var defaults = map[string]json.RawMessage{
	KeyActivated:    json.RawMessage("false"),
	KeyLearningMode: json.RawMessage("true"),
}

// boolKeys only accept JSON booleans.
var boolKeys = map[string]bool{KeyActivated: true, KeyLearningMode: true}

// Schema creates the prefs table. updated_at is in nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS prefs (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prefs_updated ON prefs(updated_at);
`

// Change is one key that changed.
type Change struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Store is a prefs table handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu   sync.Mutex
	seen int64
	subs map[int]func(Change)
	next int
}

// Open opens (creating if needed) the prefs database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("prefs: open: %w", err)
	}
	return New(db, logger)
}

// New wraps an open database and applies the schema.
func New(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("prefs: DB is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, stmt := range strings.Split(Schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("prefs schema: %w", err)
		}
	}
	s := &Store{db: db, logger: logger, subs: map[int]func(Change){}}
	if err := db.QueryRow(`SELECT COALESCE(MAX(updated_at), 0) FROM prefs`).Scan(&s.seen); err != nil {
		return nil, fmt.Errorf("prefs: read version: %w", err)
	}
	return s, nil
}

// DB returns the underlying database so other tables can share the file.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the stored value, or the key's default.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		if d, ok := defaults[key]; ok {
			return d, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("prefs: get %s: %w", key, err)
	}
	return json.RawMessage(v), nil
}

// Bool reads a boolean key.
func (s *Store) Bool(ctx context.Context, key string) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, fmt.Errorf("prefs: %s is not a boolean: %w", key, err)
	}
	return b, nil
}

// Activated reports whether automatic analysis is switched on.
func (s *Store) Activated(ctx context.Context) (bool, error) {
	return s.Bool(ctx, KeyActivated)
}

// LearningMode reports whether overlays collect feedback.
func (s *Store) LearningMode(ctx context.Context) (bool, error) {
	return s.Bool(ctx, KeyLearningMode)
}

// All returns every stored key plus the defaults of unwritten ones.
func (s *Store) All(ctx context.Context) (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	for k, v := range defaults {
		out[k] = v
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM prefs`)
	if err != nil {
		return nil, fmt.Errorf("prefs: all: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("prefs: all: %w", err)
		}
		out[k] = json.RawMessage(v)
	}
	return out, rows.Err()
}

// Set stores v (marshalled to JSON; a json.RawMessage is stored as is) and
// notifies subscribers.
func (s *Store) Set(ctx context.Context, key string, v any) error {
	if key == "" {
		return fmt.Errorf("prefs: empty key")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("prefs: marshal %s: %w", key, err)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("prefs: %s: invalid JSON", key)
	}
	if boolKeys[key] {
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("prefs: %s must be a boolean", key)
		}
	}

	s.mu.Lock()
	ts := max(time.Now().UnixNano(), s.seen+1)
	_, err = dbopen.Exec(ctx, s.db,
		`INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), ts)
	if err == nil {
		s.seen = ts
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("prefs: set %s: %w", key, err)
	}

	s.notify([]Change{{Key: key, Value: raw}})
	return nil
}

// Subscribe registers fn for every change. The returned func unsubscribes.
// fn runs on the writer's goroutine and must not block.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(changes []Change) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), len(ids))
	for i, id := range ids {
		fns[i] = s.subs[id]
	}
	s.mu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// Reload announces rows written since the last write or reload this Store
// has seen.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	since := s.seen
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM prefs WHERE updated_at > ? ORDER BY updated_at`, since)
	if err != nil {
		return fmt.Errorf("prefs: reload: %w", err)
	}
	var changes []Change
	latest := since
	for rows.Next() {
		var c Change
		var v string
		var ts int64
		if err := rows.Scan(&c.Key, &v, &ts); err != nil {
			rows.Close()
			return fmt.Errorf("prefs: reload: %w", err)
		}
		c.Value = json.RawMessage(v)
		changes = append(changes, c)
		latest = max(latest, ts)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("prefs: reload: %w", err)
	}

	s.mu.Lock()
	if latest > s.seen {
		s.seen = latest
	}
	s.mu.Unlock()

	if len(changes) > 0 {
		s.logger.Debug("prefs: external changes", "count", len(changes))
		s.notify(changes)
	}
	return nil
}

// Watch polls for writes from other processes until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	w := watch.New(s.db, watch.Options{
		Interval: interval,
		Detector: watch.MaxColumnDetector("prefs", "updated_at"),
		Logger:   s.logger,
	})
	w.OnChange(ctx, func() error { return s.Reload(ctx) })
}
