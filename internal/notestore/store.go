// Package notestore persists notes in a local SQLite database.
//
// The store keeps a single open connection, which serializes access to the
// database file, and runs SQLite in WAL journal mode. Lookups, updates and
// deletes on unknown identifiers are soft absences: they report found=false or
// do nothing instead of returning an error.
package notestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Siddhant412/chatgpt-notes-app/internal/clock"
	"github.com/Siddhant412/chatgpt-notes-app/internal/uuidv7"
	"pkt.systems/pslog"
)

// DatabaseFileName is the file created inside the data directory.
const DatabaseFileName = "notes.db"

const schema = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at DESC);
`

// Config controls where and how the store opens its database.
type Config struct {
	// DataDir holds notes.db. It is created when missing.
	DataDir string
	// Path overrides DataDir/notes.db when set.
	Path   string
	Clock  clock.Clock
	Logger pslog.Logger
	// NewID overrides note id generation (tests).
	NewID func() string
}

// Store is the SQLite-backed note store.
type Store struct {
	db     *sql.DB
	path   string
	clock  clock.Clock
	logger pslog.Logger
	newID  func() string
}

// Open creates the data directory if needed, opens the database and applies
// the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dbPath := strings.TrimSpace(cfg.Path)
	if dbPath == "" {
		dir := strings.TrimSpace(cfg.DataDir)
		if dir == "" {
			return nil, errors.New("notestore: data dir required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("notestore: create data dir: %w", err)
		}
		dbPath = filepath.Join(dir, DatabaseFileName)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("notestore: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("notestore: pragma %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("notestore: migrate: %w", err)
	}

	s := &Store{
		db:     db,
		path:   dbPath,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		newID:  cfg.NewID,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.logger == nil {
		s.logger = pslog.NoopLogger()
	}
	if s.newID == nil {
		s.newID = uuidv7.NewString
	}
	s.logger.Debug("store.sqlite.opened", "path", dbPath)
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

// latestUpdate returns the newest updated_at in the store.
func latestUpdate(ctx context.Context, tx *sql.Tx) (time.Time, bool, error) {
	var raw sql.NullString
	if err := tx.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM notes").Scan(&raw); err != nil {
		return time.Time{}, false, err
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Create inserts a new note and returns it. Its timestamp is never older than
// the latest write in the store.
func (s *Store) Create(ctx context.Context, title, body string) (Note, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Note{}, fmt.Errorf("notestore: begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	latest, ok, err := latestUpdate(ctx, tx)
	if err != nil {
		return Note{}, fmt.Errorf("notestore: latest update: %w", err)
	}
	ts := s.now()
	if ok && ts.Before(latest) {
		ts = latest
	}
	n := Note{
		ID:        s.newID(),
		Title:     title,
		Body:      body,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO notes(id, title, body, created_at, updated_at) VALUES(?,?,?,?,?)",
		n.ID, n.Title, n.Body, formatTime(ts), formatTime(ts)); err != nil {
		return Note{}, fmt.Errorf("notestore: insert note: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Note{}, fmt.Errorf("notestore: commit create: %w", err)
	}
	s.logger.Debug("store.note.created", "id", n.ID)
	return n, nil
}

// Get returns the note with id. found is false when no such note exists.
func (s *Store) Get(ctx context.Context, id string) (Note, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, body, created_at, updated_at FROM notes WHERE id = ?", id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, false, nil
	}
	if err != nil {
		return Note{}, false, fmt.Errorf("notestore: get note %q: %w", id, err)
	}
	return n, true, nil
}

// List returns every note, most recently updated first. Ties are broken by id
// descending, which for UUIDv7 ids means most recently created first.
func (s *Store) List(ctx context.Context) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, body, created_at, updated_at FROM notes ORDER BY updated_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("notestore: list notes: %w", err)
	}
	defer rows.Close()

	notes := make([]Note, 0, 16)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("notestore: scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notestore: list notes: %w", err)
	}
	return notes, nil
}

// Update applies patch to the note with id. An empty patch returns the current
// note without touching updated_at. Otherwise updated_at moves strictly past
// the latest write in the store, so the updated note sorts first even within
// one clock millisecond. found is false when the note is unknown.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (Note, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Note{}, false, fmt.Errorf("notestore: begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT id, title, body, created_at, updated_at FROM notes WHERE id = ?", id)
	current, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, false, nil
	}
	if err != nil {
		return Note{}, false, fmt.Errorf("notestore: load note %q: %w", id, err)
	}
	if patch.Empty() {
		return current, true, nil
	}

	if patch.Title != nil {
		current.Title = *patch.Title
	}
	if patch.Body != nil {
		current.Body = *patch.Body
	}
	latest, _, err := latestUpdate(ctx, tx)
	if err != nil {
		return Note{}, false, fmt.Errorf("notestore: latest update: %w", err)
	}
	ts := s.now()
	if !ts.After(latest) {
		ts = latest.Add(time.Millisecond)
	}
	current.UpdatedAt = ts

	if _, err := tx.ExecContext(ctx,
		"UPDATE notes SET title = ?, body = ?, updated_at = ? WHERE id = ?",
		current.Title, current.Body, formatTime(ts), id); err != nil {
		return Note{}, false, fmt.Errorf("notestore: update note %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Note{}, false, fmt.Errorf("notestore: commit update: %w", err)
	}
	s.logger.Debug("store.note.updated", "id", id)
	return current, true, nil
}

// Delete removes the note with id. Deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("notestore: delete note %q: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("store.note.deleted", "id", id)
	}
	return nil
}

// Count returns the number of stored notes.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&n); err != nil {
		return 0, fmt.Errorf("notestore: count notes: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (Note, error) {
	var (
		n                Note
		created, updated string
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Body, &created, &updated); err != nil {
		return Note{}, err
	}
	var err error
	if n.CreatedAt, err = parseTime(created); err != nil {
		return Note{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	if n.UpdatedAt, err = parseTime(updated); err != nil {
		return Note{}, fmt.Errorf("parse updated_at %q: %w", updated, err)
	}
	return n, nil
}
