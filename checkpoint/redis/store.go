// Package redis backs the checkpoint store with Redis. Checkpoints and
// their thread index entry are written atomically in one transaction,
// and every key carries a retention TTL refreshed on write.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/draftloop/draftloop/checkpoint"
)

const (
	defaultTTL   = 30 * 24 * time.Hour
	defaultLimit = 50
	scanBatch    = 200
)

type Store struct {
	client   *goredis.Client
	ttl      time.Duration
	addr     string
	db       int
	password string
}

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) { s.password = password }
}

func WithDB(db int) Option {
	return func(s *Store) { s.db = db }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func New(addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	s := &Store{
		ttl:  defaultTTL,
		addr: addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

// checkpointBlob is the on-wire value at checkpoint:{thread}:{id}.
type checkpointBlob struct {
	Type        string              `json:"type"`
	Data        map[string]any      `json:"data"`
	Metadata    checkpoint.Metadata `json:"metadata"`
	NewVersions map[string]int64    `json:"newVersions,omitempty"`
	ParentRef   string              `json:"parentRef,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// writesBlob is the on-wire value at writes:{thread}:{ckpt}:{task}.
type writesBlob struct {
	Writes    []checkpoint.PendingWrite `json:"writes"`
	TaskID    string                    `json:"taskId"`
	Timestamp time.Time                 `json:"timestamp"`
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

	raw, err := json.Marshal(checkpointBlob{
		Type:        "checkpoint",
		Data:        ckpt.State,
		Metadata:    ckpt.Metadata,
		NewVersions: ckpt.NewVersions,
		ParentRef:   ckpt.ParentID,
		CreatedAt:   ckpt.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := s.checkpointKey(ckpt.ThreadID, ckpt.ID)
	indexKey := s.indexKey(ckpt.ThreadID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, string(raw), s.ttl)
	pipe.ZAdd(ctx, indexKey, goredis.Z{
		Score:  float64(ckpt.CreatedAt.UnixMilli()),
		Member: ckpt.ID,
	})
	pipe.Expire(ctx, indexKey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint in redis: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, threadID string) (checkpoint.Checkpoint, error) {
	if threadID == "" {
		return checkpoint.Checkpoint{}, fmt.Errorf("thread_id is required")
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID), 0, 0).Result()
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	if len(ids) == 0 {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	return s.load(ctx, threadID, ids[0])
}

func (s *Store) List(ctx context.Context, threadID string, limit int) ([]checkpoint.Checkpoint, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	if len(ids) == 0 {
		return []checkpoint.Checkpoint{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.checkpointKey(threadID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints: %w", err)
	}

	out := make([]checkpoint.Checkpoint, 0, len(values))
	stale := make([]any, 0)
	for i, raw := range values {
		if raw == nil {
			stale = append(stale, ids[i])
			continue
		}
		text, ok := raw.(string)
		if !ok {
			continue
		}
		ckpt, err := decodeBlob(threadID, ids[i], []byte(text))
		if err != nil {
			continue
		}
		out = append(out, ckpt)
	}

	// Index members whose payload expired are pruned opportunistically.
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(threadID), stale...).Err()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) PutWrites(ctx context.Context, threadID, checkpointID, taskID string, writes []checkpoint.PendingWrite) error {
	if threadID == "" || checkpointID == "" || taskID == "" {
		return fmt.Errorf("thread_id, checkpoint_id and task_id are required")
	}
	raw, err := json.Marshal(writesBlob{
		Writes:    writes,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal pending writes: %w", err)
	}
	key := s.writesKey(threadID, checkpointID, taskID)
	if err := s.client.Set(ctx, key, string(raw), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save pending writes in redis: %w", err)
	}
	return nil
}

func (s *Store) DeleteThread(ctx context.Context, threadID string) (int, error) {
	if threadID == "" {
		return 0, fmt.Errorf("thread_id is required")
	}

	keys := make([]string, 0)
	for _, pattern := range []string{s.checkpointPattern(threadID), s.writesPattern(threadID)} {
		var cursor uint64
		for {
			found, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
			if err != nil {
				return 0, fmt.Errorf("failed to scan thread keys: %w", err)
			}
			keys = append(keys, found...)
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("failed to delete thread keys: %w", err)
	}
	return len(keys), nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) load(ctx context.Context, threadID, id string) (checkpoint.Checkpoint, error) {
	raw, err := s.client.Get(ctx, s.checkpointKey(threadID, id)).Result()
	if err != nil {
		if err == goredis.Nil {
			return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
		}
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeBlob(threadID, id, []byte(raw))
}

func decodeBlob(threadID, id string, raw []byte) (checkpoint.Checkpoint, error) {
	var blob checkpointBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return checkpoint.Checkpoint{
		ID:          id,
		ThreadID:    threadID,
		ParentID:    blob.ParentRef,
		State:       blob.Data,
		Metadata:    blob.Metadata,
		NewVersions: blob.NewVersions,
		CreatedAt:   blob.CreatedAt,
	}, nil
}

func (s *Store) checkpointKey(threadID, id string) string {
	return fmt.Sprintf("checkpoint:%s:%s", threadID, id)
}

func (s *Store) indexKey(threadID string) string {
	return fmt.Sprintf("checkpoint:%s:index", threadID)
}

func (s *Store) checkpointPattern(threadID string) string {
	return fmt.Sprintf("checkpoint:%s:*", threadID)
}

func (s *Store) writesKey(threadID, checkpointID, taskID string) string {
	return fmt.Sprintf("writes:%s:%s:%s", threadID, checkpointID, taskID)
}

func (s *Store) writesPattern(threadID string) string {
	return fmt.Sprintf("writes:%s:*", threadID)
}
