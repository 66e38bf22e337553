// Package sqlite backs the checkpoint store with an embedded SQLite
// database, for single-node deployments that need durability without
// a Redis instance.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/draftloop/draftloop/checkpoint"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	defaultLimit       = 50
)

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) { s.enableWAL = enabled }
}

func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConn = n
		}
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, ckpt checkpoint.Checkpoint) error {
	if ckpt.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	if ckpt.ID == "" {
		return fmt.Errorf("checkpoint_id is required")
	}
	if ckpt.State == nil {
		ckpt.State = map[string]any{}
	}
	if ckpt.CreatedAt.IsZero() {
		ckpt.CreatedAt = time.Now().UTC()
	}

	stateRaw, err := json.Marshal(ckpt.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	metadataRaw, err := json.Marshal(ckpt.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	versionsRaw, err := json.Marshal(ckpt.NewVersions)
	if err != nil {
		return fmt.Errorf("failed to marshal versions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO checkpoints (thread_id, checkpoint_id, parent_id, state, metadata, new_versions, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (thread_id, checkpoint_id) DO NOTHING`,
		ckpt.ThreadID, ckpt.ID, ckpt.ParentID, string(stateRaw), string(metadataRaw), string(versionsRaw), ckpt.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, threadID string) (checkpoint.Checkpoint, error) {
	if threadID == "" {
		return checkpoint.Checkpoint{}, fmt.Errorf("thread_id is required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT checkpoint_id, parent_id, state, metadata, new_versions, created_at
FROM checkpoints WHERE thread_id = ?
ORDER BY created_at DESC, checkpoint_id DESC LIMIT 1`, threadID)
	return s.scanCheckpoint(row, threadID)
}

func (s *Store) List(ctx context.Context, threadID string, limit int) ([]checkpoint.Checkpoint, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT checkpoint_id, parent_id, state, metadata, new_versions, created_at
FROM checkpoints WHERE thread_id = ?
ORDER BY created_at DESC, checkpoint_id DESC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	out := make([]checkpoint.Checkpoint, 0, limit)
	for rows.Next() {
		ckpt, err := s.scanCheckpoint(rows, threadID)
		if err != nil {
			return nil, err
		}
		out = append(out, ckpt)
	}
	return out, rows.Err()
}

func (s *Store) PutWrites(ctx context.Context, threadID, checkpointID, taskID string, writes []checkpoint.PendingWrite) error {
	if threadID == "" || checkpointID == "" || taskID == "" {
		return fmt.Errorf("thread_id, checkpoint_id and task_id are required")
	}
	raw, err := json.Marshal(writes)
	if err != nil {
		return fmt.Errorf("failed to marshal pending writes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO pending_writes (thread_id, checkpoint_id, task_id, writes, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (thread_id, checkpoint_id, task_id) DO UPDATE SET writes = excluded.writes`,
		threadID, checkpointID, taskID, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pending writes: %w", err)
	}
	return nil
}

func (s *Store) DeleteThread(ctx context.Context, threadID string) (int, error) {
	if threadID == "" {
		return 0, fmt.Errorf("thread_id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleted := 0
	for _, stmt := range []string{
		"DELETE FROM checkpoints WHERE thread_id = ?",
		"DELETE FROM pending_writes WHERE thread_id = ?",
	} {
		res, err := tx.ExecContext(ctx, stmt, threadID)
		if err != nil {
			return 0, fmt.Errorf("failed to delete thread rows: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanCheckpoint(row rowScanner, threadID string) (checkpoint.Checkpoint, error) {
	var (
		ckpt        checkpoint.Checkpoint
		parentID    sql.NullString
		stateRaw    string
		metadataRaw string
		versionsRaw sql.NullString
		createdAt   string
	)
	err := row.Scan(&ckpt.ID, &parentID, &stateRaw, &metadataRaw, &versionsRaw, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to scan checkpoint: %w", err)
	}

	ckpt.ThreadID = threadID
	ckpt.ParentID = parentID.String
	if err := json.Unmarshal([]byte(stateRaw), &ckpt.State); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to decode state: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataRaw), &ckpt.Metadata); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if versionsRaw.Valid && versionsRaw.String != "" && versionsRaw.String != "null" {
		if err := json.Unmarshal([]byte(versionsRaw.String), &ckpt.NewVersions); err != nil {
			return checkpoint.Checkpoint{}, fmt.Errorf("failed to decode versions: %w", err)
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		ckpt.CreatedAt = ts
	}
	return ckpt, nil
}
