package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists snapshots in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig contains SQLite store configuration.
type SQLiteConfig struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed snapshot
// store. WAL mode allows concurrent readers while the executor writes.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			state TEXT NOT NULL,
			PRIMARY KEY (thread_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, seq DESC)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Put appends a snapshot inside a transaction so the sequence assignment and
// the insert are atomic.
func (s *SQLiteStore) Put(ctx context.Context, threadID string, state json.RawMessage) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM checkpoints WHERE thread_id = ?`,
		threadID,
	).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("failed to assign sequence: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, seq, created_at, state) VALUES (?, ?, ?, ?)`,
		threadID, seq, now.UnixNano(), string(state),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}

	return &Snapshot{ThreadID: threadID, Seq: seq, CreatedAt: now, State: state}, nil
}

// Get returns the latest snapshot for the thread, or nil if none exists.
func (s *SQLiteStore) Get(ctx context.Context, threadID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, created_at, state FROM checkpoints
		 WHERE thread_id = ? ORDER BY seq DESC LIMIT 1`,
		threadID,
	)
	snap, err := scanSnapshot(row, threadID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return snap, err
}

// History returns up to limit snapshots for the thread, newest first.
func (s *SQLiteStore) History(ctx context.Context, threadID string, limit int) ([]*Snapshot, error) {
	query := `SELECT seq, created_at, state FROM checkpoints
	          WHERE thread_id = ? ORDER BY seq DESC`
	args := []interface{}{threadID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows, threadID)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner, threadID string) (*Snapshot, error) {
	var (
		seq       int64
		createdNs int64
		state     string
	)
	if err := row.Scan(&seq, &createdNs, &state); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	return &Snapshot{
		ThreadID:  threadID,
		Seq:       seq,
		CreatedAt: time.Unix(0, createdNs).UTC(),
		State:     json.RawMessage(state),
	}, nil
}

var _ Store = (*SQLiteStore)(nil)
