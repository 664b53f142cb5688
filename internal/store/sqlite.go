package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tradekeeper/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ KV = (*SQLiteStore)(nil)
var _ AttemptStore = (*SQLiteStore)(nil)

// SQLiteStore implements KV and AttemptStore backed by a SQLite database,
// giving fingerprints and the audit trail durability across restarts.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint  TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	submitted_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_user ON attempts (user_id, submitted_at);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %s: %w", dbPath, err)
	}
	// The driver is single-writer; serializing through one connection avoids
	// SQLITE_BUSY under concurrent admissions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the live value for key. Expired rows are treated as absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND expires_at > ?`,
		key, time.Now().UnixNano(),
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, true, nil
}

// PutIfAbsent atomically inserts key unless a live row exists. A single
// upsert statement keeps the check and the write in one step; an expired row
// is overwritten, a live one leaves the statement with zero affected rows.
func (s *SQLiteStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		 WHERE kv.expires_at <= ?`,
		key, value, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("kv put-if-absent %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("kv put-if-absent %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes key regardless of expiry.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Sweep removes expired kv rows.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("kv sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("kv sweep: %w", err)
	}
	return int(n), nil
}

// SaveAttempt appends one attempt record.
func (s *SQLiteStore) SaveAttempt(ctx context.Context, attempt domain.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (fingerprint, user_id, symbol, outcome, submitted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		attempt.Fingerprint, attempt.UserID, attempt.Symbol,
		string(attempt.Outcome), attempt.SubmittedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving attempt %s: %w", attempt.Fingerprint, err)
	}
	return nil
}

// ListAttempts returns the most recent attempts for a user, newest first.
func (s *SQLiteStore) ListAttempts(ctx context.Context, userID string, limit int) ([]domain.Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint, user_id, symbol, outcome, submitted_at
		 FROM attempts WHERE user_id = ?
		 ORDER BY submitted_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing attempts for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var outcome string
		var submittedAt int64
		if err := rows.Scan(&a.Fingerprint, &a.UserID, &a.Symbol, &outcome, &submittedAt); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Outcome = domain.Outcome(outcome)
		a.SubmittedAt = time.Unix(0, submittedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// PruneAttempts removes attempts submitted before cutoff.
func (s *SQLiteStore) PruneAttempts(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM attempts WHERE submitted_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("pruning attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning attempts: %w", err)
	}
	return int(n), nil
}
