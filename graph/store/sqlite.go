package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps checkpoints in a single-file database. Designed for:
//   - Single-process hosts that must survive restarts
//   - Development and testing with zero setup
//
// The store uses WAL mode for concurrent reads and one connection for writes.
// A UNIQUE(thread_id, seq) constraint makes concurrent writers on the same
// thread fail with ErrConflict instead of interleaving.
//
// Schema:
//   - checkpoints: one row per checkpoint; status and pending live in their
//     own columns so suspension checks never read the body
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (and creates if needed) a SQLite checkpoint database.
//
// The path parameter specifies the database file location:
//   - "./orcagent.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// Example:
//
//	st, err := store.NewSQLiteStore("./orcagent.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	st := &SQLiteStore{db: db, path: path}
	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			pending TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(thread_id, seq)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_seq ON checkpoints(thread_id, seq DESC)",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Save appends a checkpoint inside a transaction.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM checkpoints WHERE thread_id = ?", rec.ThreadID,
	).Scan(&latest); err != nil {
		return fmt.Errorf("failed to read latest sequence: %w", err)
	}
	if latest.Valid && latest.Int64 >= rec.Seq {
		return fmt.Errorf("%w: thread %s seq %d <= %d", ErrConflict, rec.ThreadID, rec.Seq, latest.Int64)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, seq, status, pending, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ThreadID, rec.Seq, rec.Status, rec.Pending, string(rec.Data), rec.CreatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return tx.Commit()
}

// LoadLatest returns the newest checkpoint of the thread.
func (s *SQLiteStore) LoadLatest(ctx context.Context, threadID string) (Record, error) {
	if err := s.checkOpen(); err != nil {
		return Record{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, seq, status, pending, data, created_at
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, threadID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load latest checkpoint: %w", err)
	}
	return rec, nil
}

// Exists reports whether the thread has a checkpoint.
func (s *SQLiteStore) Exists(ctx context.Context, threadID string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM checkpoints WHERE thread_id = ?", threadID,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check thread: %w", err)
	}
	return n > 0, nil
}

// Pending reads only the status columns of the newest checkpoint.
func (s *SQLiteStore) Pending(ctx context.Context, threadID string) (string, string, error) {
	if err := s.checkOpen(); err != nil {
		return "", "", err
	}
	var pending, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT pending, status FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, threadID).Scan(&pending, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read pending node: %w", err)
	}
	return pending, status, nil
}

// History returns all checkpoints of the thread in sequence order.
func (s *SQLiteStore) History(ctx context.Context, threadID string) ([]Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, seq, status, pending, data, created_at
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Delete removes the thread's checkpoints.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Calling Close multiple times is safe (subsequent calls are no-ops).
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec     Record
		data    string
		created time.Time
	)
	if err := row.Scan(&rec.ThreadID, &rec.Seq, &rec.Status, &rec.Pending, &data, &created); err != nil {
		return Record{}, err
	}
	rec.Data = []byte(data)
	rec.CreatedAt = created
	return rec, nil
}
