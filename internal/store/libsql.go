package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
)

// LibSQLStore implements HistoryStore using libSQL (embedded SQLite fork).
// Snapshots survive process restarts, so a session's history is still
// restorable after the host comes back up.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// AppendEntry appends a snapshot with a per-session monotonic index.
// The index read and insert run in one transaction so concurrent appends
// cannot interleave.
func (s *LibSQLStore) AppendEntry(ctx context.Context, sessionID, xml, svg string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(idx), -1) + 1 FROM history_entries WHERE session_id = ?`, sessionID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next index: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history_entries (session_id, idx, xml, svg) VALUES (?, ?, ?, ?)`,
		sessionID, next, xml, nullableText(svg),
	); err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (s *LibSQLStore) GetEntry(ctx context.Context, sessionID string, index int) (*HistoryEntry, error) {
	e := &HistoryEntry{}
	var svg sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, idx, xml, svg, created_at FROM history_entries WHERE session_id = ? AND idx = ?`,
		sessionID, index,
	).Scan(&e.SessionID, &e.Index, &e.XML, &svg, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, entryNotFound(sessionID, index)
	}
	if err != nil {
		return nil, err
	}
	e.SVG = svg.String
	return e, nil
}

func (s *LibSQLStore) ListEntries(ctx context.Context, sessionID string) ([]*HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, idx, xml, svg, created_at FROM history_entries WHERE session_id = ? ORDER BY idx`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e := &HistoryEntry{}
		var svg sql.NullString
		if err := rows.Scan(&e.SessionID, &e.Index, &e.XML, &svg, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SVG = svg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *LibSQLStore) UpdateLatestSVG(ctx context.Context, sessionID, svg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE history_entries SET svg = ?
		 WHERE session_id = ? AND idx = (SELECT MAX(idx) FROM history_entries WHERE session_id = ?)`,
		svg, sessionID, sessionID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return entryNotFound(sessionID, 0)
	}
	return nil
}

func (s *LibSQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history_entries WHERE session_id = ?`, sessionID)
	return err
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
