package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/matheus3301/ventchat/internal/kv"
)

var _ kv.Store = (*DB)(nil)

// Get returns the blob stored under key, or kv.ErrNotFound.
func (db *DB) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM blobs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set inserts or overwrites the blob under key.
func (db *DB) Set(ctx context.Context, key string, value []byte) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO blobs (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Remove deletes the blob under key.
func (db *DB) Remove(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key)
	return err
}

// Keys lists stored blob keys in lexical order.
func (db *DB) Keys(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key FROM blobs ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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
