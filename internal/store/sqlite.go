// Package store persists strategy snapshots between runs
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leveraged/internal/core"
	apperrors "leveraged/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS strategy_state (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	checksum   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps one snapshot per trader id
type SQLiteStore struct {
	db *sql.DB
}

var _ core.IStateStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, snapshot *core.StateSnapshot) error {
	if snapshot == nil || snapshot.ID == "" {
		return fmt.Errorf("%w: missing id", apperrors.ErrInvalidSnapshot)
	}
	if !json.Valid(snapshot.Data) {
		return fmt.Errorf("%w: data of %s is not JSON", apperrors.ErrInvalidSnapshot, snapshot.ID)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	updated := snapshot.UpdatedAt
	if updated == 0 {
		updated = time.Now().UnixNano()
	}
	checksum := sha256.Sum256(snapshot.Data)
	query := `INSERT OR REPLACE INTO strategy_state (id, data, checksum, updated_at) VALUES (?, ?, ?, ?)`
	if _, err = tx.ExecContext(ctx, query, snapshot.ID, string(snapshot.Data), checksum[:], updated); err != nil {
		return fmt.Errorf("failed to write state to db: %w", err)
	}

	return tx.Commit()
}

// LoadState returns nil without error when no snapshot exists
func (s *SQLiteStore) LoadState(ctx context.Context, id string) (*core.StateSnapshot, error) {
	query := `SELECT data, checksum, updated_at FROM strategy_state WHERE id = ?`
	var (
		data           string
		storedChecksum []byte
		updated        int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&data, &storedChecksum, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state from db: %w", err)
	}

	computed := sha256.Sum256([]byte(data))
	if !bytes.Equal(storedChecksum, computed[:]) {
		return nil, fmt.Errorf("%w: snapshot %s", apperrors.ErrChecksumMismatch, id)
	}

	return &core.StateSnapshot{ID: id, Data: []byte(data), UpdatedAt: updated}, nil
}

func (s *SQLiteStore) ListStates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM strategy_state ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan state id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
