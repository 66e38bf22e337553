// Package inmemory backs the checkpoint store with process-local maps.
// Intended for tests and single-process embedding.
package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/draftloop/draftloop/checkpoint"
)

type Store struct {
	mu          sync.Mutex
	checkpoints map[string][]checkpoint.Checkpoint // threadID -> newest last
	writes      map[string]map[string][]checkpoint.PendingWrite
}

func New() *Store {
	return &Store{
		checkpoints: make(map[string][]checkpoint.Checkpoint),
		writes:      make(map[string]map[string][]checkpoint.PendingWrite),
	}
}

func (s *Store) Put(ctx context.Context, ckpt checkpoint.Checkpoint) error {
	_ = ctx
	if ckpt.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	if ckpt.ID == "" {
		return fmt.Errorf("checkpoint_id is required")
	}
	if ckpt.CreatedAt.IsZero() {
		ckpt.CreatedAt = time.Now().UTC()
	}
	cloned, err := cloneState(ckpt.State)
	if err != nil {
		return err
	}
	ckpt.State = cloned

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.checkpoints[ckpt.ThreadID] {
		if existing.ID == ckpt.ID {
			return fmt.Errorf("checkpoint %q already committed: %w", ckpt.ID, checkpoint.ErrConflict)
		}
	}
	s.checkpoints[ckpt.ThreadID] = append(s.checkpoints[ckpt.ThreadID], ckpt)
	return nil
}

func (s *Store) Latest(ctx context.Context, threadID string) (checkpoint.Checkpoint, error) {
	_ = ctx
	if threadID == "" {
		return checkpoint.Checkpoint{}, fmt.Errorf("thread_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.checkpoints[threadID]
	if len(list) == 0 {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	return list[len(list)-1], nil
}

func (s *Store) List(ctx context.Context, threadID string, limit int) ([]checkpoint.Checkpoint, error) {
	_ = ctx
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append([]checkpoint.Checkpoint(nil), s.checkpoints[threadID]...)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *Store) PutWrites(ctx context.Context, threadID, checkpointID, taskID string, writes []checkpoint.PendingWrite) error {
	_ = ctx
	if threadID == "" || checkpointID == "" || taskID == "" {
		return fmt.Errorf("thread_id, checkpoint_id and task_id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writes[threadID] == nil {
		s.writes[threadID] = make(map[string][]checkpoint.PendingWrite)
	}
	key := checkpointID + ":" + taskID
	s.writes[threadID][key] = append([]checkpoint.PendingWrite(nil), writes...)
	return nil
}

func (s *Store) DeleteThread(ctx context.Context, threadID string) (int, error) {
	_ = ctx
	if threadID == "" {
		return 0, fmt.Errorf("thread_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := len(s.checkpoints[threadID]) + len(s.writes[threadID])
	delete(s.checkpoints, threadID)
	delete(s.writes, threadID)
	return deleted, nil
}

func (s *Store) Close() error { return nil }

// cloneState deep-copies via JSON so callers cannot mutate a committed
// checkpoint through shared references.
func cloneState(state map[string]any) (map[string]any, error) {
	if state == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to clone state: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to clone state: %w", err)
	}
	return out, nil
}
