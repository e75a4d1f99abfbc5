package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteEngine backs the thread store with a local SQLite file, for
// deployments that want restart survival without a Redis instance.
type SQLiteEngine struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteEngine opens (and if needed creates) the database at dbPath.
func NewSQLiteEngine(dbPath string) (*SQLiteEngine, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open thread store db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply thread store schema: %w", err)
	}
	return &SQLiteEngine{db: db, now: time.Now}, nil
}

func (s *SQLiteEngine) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	if expiresAt > 0 && s.now().Unix() >= expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
		return "", false, nil
	}
	return value, true, nil
}

func (s *SQLiteEngine) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *SQLiteEngine) ForEach(ctx context.Context, fn func(key, value string) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM entries WHERE expires_at = 0 OR expires_at > ?`, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("%w: scan row: %v", ErrUnavailable, err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteEngine) Close() error {
	return s.db.Close()
}
