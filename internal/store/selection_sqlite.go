package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go driver
)

// SQLiteSelectionStore persists selections in a sqlite database so that
// several CLI and MCP processes share them.
type SQLiteSelectionStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteSelectionStore opens (or creates) the database at path.
func NewSQLiteSelectionStore(path string) (*SQLiteSelectionStore, error) {
	if path == "" {
		return nil, fmt.Errorf("selection store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteSelectionStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSelectionStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS set_members (
		set_key TEXT NOT NULL,
		member  TEXT NOT NULL,
		PRIMARY KEY (set_key, member)
	);

	CREATE TABLE IF NOT EXISTS zset_members (
		zset_key TEXT NOT NULL,
		member   TEXT NOT NULL,
		score    REAL NOT NULL,
		PRIMARY KEY (zset_key, member)
	);
	`)
	return err
}

func (s *SQLiteSelectionStore) IsMember(ctx context.Context, setKey, member string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM set_members WHERE set_key = ? AND member = ?`, setKey, member).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return true, nil
}

func (s *SQLiteSelectionStore) AddToSet(ctx context.Context, setKey, member string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO set_members (set_key, member) VALUES (?, ?)`, setKey, member)
	if err != nil {
		return fmt.Errorf("add to set: %w", err)
	}
	return nil
}

func (s *SQLiteSelectionStore) RemoveFromSet(ctx context.Context, setKey, member string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM set_members WHERE set_key = ? AND member = ?`, setKey, member)
	if err != nil {
		return fmt.Errorf("remove from set: %w", err)
	}
	return nil
}

func (s *SQLiteSelectionStore) Members(ctx context.Context, setKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member FROM set_members WHERE set_key = ? ORDER BY member`, setKey)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *SQLiteSelectionStore) Score(ctx context.Context, zsetKey, member string) (float64, bool, error) {
	var score float64
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM zset_members WHERE zset_key = ? AND member = ?`, zsetKey, member).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("score of: %w", err)
	}
	return score, true, nil
}

func (s *SQLiteSelectionStore) ZAdd(ctx context.Context, zsetKey, member string, score float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO zset_members (zset_key, member, score) VALUES (?, ?, ?)
		 ON CONFLICT (zset_key, member) DO UPDATE SET score = excluded.score`,
		zsetKey, member, score)
	if err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

func (s *SQLiteSelectionStore) ZRem(ctx context.Context, zsetKey, member string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM zset_members WHERE zset_key = ? AND member = ?`, zsetKey, member)
	if err != nil {
		return fmt.Errorf("zrem: %w", err)
	}
	return nil
}

func (s *SQLiteSelectionStore) Delete(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM set_members WHERE set_key = ?`, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM zset_members WHERE zset_key = ?`, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Path returns the database location.
func (s *SQLiteSelectionStore) Path() string { return s.path }

func (s *SQLiteSelectionStore) Close() error {
	return s.db.Close()
}

var _ SelectionStore = (*SQLiteSelectionStore)(nil)
