// Package checkpoint defines durable, thread-scoped persistence of
// execution state snapshots and unresolved pending writes.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("checkpoint: not found")
	ErrConflict = errors.New("checkpoint: conflict")
)

// Metadata records where a checkpoint came from within a turn.
type Metadata struct {
	Step   int    `json:"step"`
	Source string `json:"source,omitempty"`
	NodeID string `json:"nodeId,omitempty"`
}

// Checkpoint is an immutable snapshot of execution state at one graph
// step. Later checkpoints supersede earlier ones; nothing is deleted
// until the owning thread is deleted.
type Checkpoint struct {
	ID          string           `json:"id"`
	ThreadID    string           `json:"threadId"`
	ParentID    string           `json:"parentId,omitempty"`
	State       map[string]any   `json:"state"`
	Metadata    Metadata         `json:"metadata"`
	NewVersions map[string]int64 `json:"newVersions,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// PendingWrite records one side effect produced by an in-flight task
// before its checkpoint commits.
type PendingWrite struct {
	Channel string `json:"channel"`
	Value   any    `json:"value"`
}

type Store interface {
	// Put commits a checkpoint and its thread index entry atomically.
	Put(ctx context.Context, ckpt Checkpoint) error
	// Latest returns the newest checkpoint for the thread, or
	// ErrNotFound when the thread has none.
	Latest(ctx context.Context, threadID string) (Checkpoint, error)
	// List returns up to limit checkpoints, newest first.
	List(ctx context.Context, threadID string, limit int) ([]Checkpoint, error)
	// PutWrites records the pending writes of one task keyed by
	// (threadID, checkpointID, taskID).
	PutWrites(ctx context.Context, threadID, checkpointID, taskID string, writes []PendingWrite) error
	// DeleteThread removes every checkpoint and pending write for the
	// thread and reports how many records were deleted.
	DeleteThread(ctx context.Context, threadID string) (int, error)

	Close() error
}
