// Package settings persists the tunables, the scroll orientation and the
// gallery of exported captures in an SQLite database.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/olivier-w/spectro/internal/params"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS params (
	name  TEXT PRIMARY KEY,
	value REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS captures (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT    NOT NULL,
	path        TEXT    NOT NULL,
	width       INTEGER NOT NULL,
	height      INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS captures_created ON captures(created_at);
`

// Kind distinguishes still captures from stream captures.
type Kind string

const (
	KindStill  Kind = "still"
	KindStream Kind = "stream"
)

// Entry is one exported capture.
type Entry struct {
	ID        int64
	Kind      Kind
	Path      string
	Width     int
	Height    int
	Duration  time.Duration
	CreatedAt time.Time
}

// Store wraps the settings database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" yields a
// private in-memory database.
func Open(path string) (*Store, error) {
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("settings: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("settings: open: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("settings: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: exec schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Restore applies every saved value to p. Values are clamped by p on the
// way in, so rows written with wider ranges are safe.
func (s *Store) Restore(ctx context.Context, p *params.Store) error {
	values, err := s.Values(ctx)
	if err != nil {
		return err
	}
	for name, v := range values {
		p.Set(name, v)
	}
	return nil
}

// Save records a single parameter change.
func (s *Store) Save(ctx context.Context, c params.Change) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO params(name, value) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		string(c.Name), c.Value)
	if err != nil {
		return fmt.Errorf("settings: save %s: %w", c.Name, err)
	}
	return nil
}

// Values returns every saved parameter value.
func (s *Store) Values(ctx context.Context) (map[params.Name]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM params`)
	if err != nil {
		return nil, fmt.Errorf("settings: load params: %w", err)
	}
	defer rows.Close()

	out := make(map[params.Name]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("settings: scan param: %w", err)
		}
		out[params.Name(name)] = value
	}
	return out, rows.Err()
}

// AddCapture appends e to the gallery and returns its id. A zero CreatedAt
// is replaced with the current time.
func (s *Store) AddCapture(ctx context.Context, e Entry) (int64, error) {
	if e.Path == "" {
		return 0, errors.New("settings: capture path is empty")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO captures(kind, path, width, height, duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.Path, e.Width, e.Height, e.Duration.Milliseconds(), e.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("settings: add capture: %w", err)
	}
	return res.LastInsertId()
}

// Captures returns up to limit gallery entries, newest first. limit <= 0
// returns all of them.
func (s *Store) Captures(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, path, width, height, duration_ms, created_at
		 FROM captures ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("settings: list captures: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			kind       string
			durationMS int64
			createdMS  int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.Path, &e.Width, &e.Height, &durationMS, &createdMS); err != nil {
			return nil, fmt.Errorf("settings: scan capture: %w", err)
		}
		e.Kind = Kind(kind)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, e)
	}
	return out, rows.Err()
}
