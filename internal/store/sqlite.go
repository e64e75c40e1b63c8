package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps every record as a row in a single versioned table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, string, error) {
	var value []byte
	var version int64
	err := b.db.QueryRowContext(ctx,
		`SELECT value, version FROM records WHERE key = ?`, key,
	).Scan(&value, &version)
	if err == sql.ErrNoRows {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return value, strconv.FormatInt(version, 10), nil
}

func (b *SQLiteBackend) CompareAndSwap(ctx context.Context, key, rev string, value []byte) (string, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM records WHERE key = ?`, key).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if rev != "" {
			return "", fmt.Errorf("%s: %w", key, ErrConflict)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (key, value, version) VALUES (?, ?, 1)`, key, value,
		); err != nil {
			return "", err
		}
		version = 1
	case err != nil:
		return "", err
	default:
		if rev != strconv.FormatInt(version, 10) {
			return "", fmt.Errorf("%s: %w", key, ErrConflict)
		}
		version++
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET value = ?, version = ? WHERE key = ?`, value, version, key,
		); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return strconv.FormatInt(version, 10), nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key)
	return err
}

func (b *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM records ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
