package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using an embedded SQLite database.
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.RWMutex // serializes writes (SQLite is single-writer)
	closeCh chan struct{}
	once    sync.Once
}

// NewSQLiteStore opens or creates the database at path and runs schema
// migrations. When retention is positive, connections closed longer ago
// than retention are purged periodically.
func NewSQLiteStore(path string, retention time.Duration) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// Single connection for writes to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:      db,
		closeCh: make(chan struct{}),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite: %w", err)
	}

	if retention > 0 {
		go s.cleanupLoop(retention)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			peer TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME,
			requests INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_opened ON connections(opened_at)`,
		`CREATE TABLE IF NOT EXISTS turns (
			conn_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (conn_id, seq, role)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}

// cleanupLoop periodically purges connections past the retention window.
func (s *SQLiteStore) cleanupLoop(retention time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			_, _ = s.Cleanup(context.Background(), time.Now().UTC().Add(-retention))
		}
	}
}

// --- Connections ---

func (s *SQLiteStore) ConnectionOpen(ctx context.Context, id, peer string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO connections (id, peer, opened_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING",
		id, peer, at.UTC(),
	)
	return err
}

func (s *SQLiteStore) ConnectionClose(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "UPDATE connections SET closed_at = ? WHERE id = ?", at.UTC(), id)
	return err
}

func (s *SQLiteStore) ConnectionGet(ctx context.Context, id string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Connection
	err := s.db.QueryRowContext(ctx,
		"SELECT id, peer, opened_at, closed_at, requests FROM connections WHERE id = ?", id,
	).Scan(&c.ID, &c.Peer, &c.OpenedAt, &c.ClosedAt, &c.Requests)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) ConnectionList(ctx context.Context, limit int) ([]Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, peer, opened_at, closed_at, requests FROM connections ORDER BY opened_at DESC, id LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ID, &c.Peer, &c.OpenedAt, &c.ClosedAt, &c.Requests); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// --- Turns ---

func (s *SQLiteStore) TurnAppend(ctx context.Context, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (conn_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (conn_id, seq, role) DO UPDATE SET content = excluded.content`,
		t.ConnID, int64(t.Seq), t.Role, t.Content, t.CreatedAt.UTC(),
	); err != nil {
		return err
	}
	if t.Role == RoleRequest {
		if _, err := tx.ExecContext(ctx,
			"UPDATE connections SET requests = MAX(requests, ?) WHERE id = ?",
			int64(t.Seq), t.ConnID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) TurnList(ctx context.Context, connID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT conn_id, seq, role, content, created_at FROM turns WHERE conn_id = ?
		 ORDER BY seq, CASE role WHEN 'user' THEN 0 ELSE 1 END`,
		connID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var seq int64
		if err := rows.Scan(&t.ConnID, &seq, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Seq = uint64(seq)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- Retention ---

func (s *SQLiteStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cutoff = cutoff.UTC()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE conn_id IN (
			SELECT id FROM connections WHERE closed_at IS NOT NULL AND closed_at < ?)`,
		cutoff,
	); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		"DELETE FROM connections WHERE closed_at IS NOT NULL AND closed_at < ?", cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// Close stops the cleanup loop and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closeCh)
		err = s.db.Close()
	})
	return err
}
