package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for:
//   - Hosts running several processes against one checkpoint database
//   - Long-running reviews that survive process restarts
//   - Audit trails of every checkpoint
//
// Saves run in a transaction that locks the thread's newest row, and a
// unique (thread_id, seq) key rejects a concurrent writer with ErrConflict.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// parseTime is always enabled, whatever the DSN says.
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Use environment variables:
//	    dsn := os.Getenv("ORCAGENT_STORE_DSN")
//	    st, err := store.NewMySQLStore(dsn)
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	st := &MySQLStore{db: db}
	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return st, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			seq BIGINT NOT NULL,
			status VARCHAR(32) NOT NULL,
			pending VARCHAR(255) NOT NULL DEFAULT '',
			data JSON NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_thread_seq (thread_id, seq),
			UNIQUE KEY unique_thread_seq (thread_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Save appends a checkpoint inside a transaction.
func (m *MySQLStore) Save(ctx context.Context, rec Record) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM checkpoints WHERE thread_id = ? FOR UPDATE", rec.ThreadID,
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
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return tx.Commit()
}

// LoadLatest returns the newest checkpoint of the thread.
func (m *MySQLStore) LoadLatest(ctx context.Context, threadID string) (Record, error) {
	if err := m.checkOpen(); err != nil {
		return Record{}, err
	}
	row := m.db.QueryRowContext(ctx, `
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
func (m *MySQLStore) Exists(ctx context.Context, threadID string) (bool, error) {
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	var one int
	err := m.db.QueryRowContext(ctx, "SELECT 1 FROM checkpoints WHERE thread_id = ? LIMIT 1", threadID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check thread: %w", err)
	}
	return true, nil
}

// Pending reads only the status columns of the newest checkpoint.
func (m *MySQLStore) Pending(ctx context.Context, threadID string) (string, string, error) {
	if err := m.checkOpen(); err != nil {
		return "", "", err
	}
	var pending, status string
	err := m.db.QueryRowContext(ctx, `
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
func (m *MySQLStore) History(ctx context.Context, threadID string) ([]Record, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, `
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
func (m *MySQLStore) Delete(ctx context.Context, threadID string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if _, err := m.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE thread_id = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Close closes the connection pool. Subsequent calls are no-ops.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
