package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Checkpoint is the snapshot persisted after every completed stage so an
// interrupted run can resume from the last completed stage under the same
// thread id. Stages are idempotent-safe to rerun, so losing a checkpoint
// only costs recomputation.
type Checkpoint struct {
	ThreadID string      `json:"thread_id"`
	Stage    string      `json:"stage"`
	State    *BuildState `json:"state"`
	SavedAt  time.Time   `json:"saved_at"`
}

// CheckpointStore persists one checkpoint per thread id.
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	// Load returns (nil, nil) when no checkpoint exists for the thread.
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
}

// --- In-memory store ---

// MemoryCheckpointStore keeps checkpoints in process memory, one slot per
// thread id. Used in tests and single-node deployments.
type MemoryCheckpointStore struct {
	mu   sync.RWMutex
	data map[string]*Checkpoint
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{data: make(map[string]*Checkpoint)}
}

func (m *MemoryCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return fmt.Errorf("checkpoint requires a thread id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[cp.ThreadID] = cp
	return nil
}

func (m *MemoryCheckpointStore) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[threadID], nil
}

// --- SQLite (gorm) store ---

// CheckpointRecord is the persisted row, latest snapshot per thread.
type CheckpointRecord struct {
	ThreadID  string `gorm:"primaryKey"`
	Stage     string
	StateJSON string
	UpdatedAt time.Time
}

func (CheckpointRecord) TableName() string { return "pipeline_checkpoints" }

// GormCheckpointStore persists checkpoints to the local sqlite database.
type GormCheckpointStore struct {
	db *gorm.DB
}

func NewGormCheckpointStore(db *gorm.DB) (*GormCheckpointStore, error) {
	if err := db.AutoMigrate(&CheckpointRecord{}); err != nil {
		return nil, err
	}
	return &GormCheckpointStore{db: db}, nil
}

func (g *GormCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return fmt.Errorf("checkpoint requires a thread id")
	}
	payload, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("serialize checkpoint state: %w", err)
	}
	rec := CheckpointRecord{
		ThreadID:  cp.ThreadID,
		Stage:     cp.Stage,
		StateJSON: string(payload),
		UpdatedAt: cp.SavedAt,
	}
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

func (g *GormCheckpointStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	var rec CheckpointRecord
	err := g.db.WithContext(ctx).First(&rec, "thread_id = ?", threadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state BuildState
	if err := json.Unmarshal([]byte(rec.StateJSON), &state); err != nil {
		return nil, fmt.Errorf("deserialize checkpoint state: %w", err)
	}
	return &Checkpoint{
		ThreadID: rec.ThreadID,
		Stage:    rec.Stage,
		State:    &state,
		SavedAt:  rec.UpdatedAt,
	}, nil
}

// --- Redis store ---

const redisCheckpointTTL = 24 * time.Hour

// RedisCheckpointStore keeps checkpoints in Redis with a TTL, for
// multi-node deployments where any node may resume a thread.
type RedisCheckpointStore struct {
	client *redis.Client
}

func NewRedisCheckpointStore(client *redis.Client) *RedisCheckpointStore {
	return &RedisCheckpointStore{client: client}
}

func redisCheckpointKey(threadID string) string {
	return "sitesmith:checkpoint:" + threadID
}

func (r *RedisCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return fmt.Errorf("checkpoint requires a thread id")
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("serialize checkpoint: %w", err)
	}
	return r.client.Set(ctx, redisCheckpointKey(cp.ThreadID), payload, redisCheckpointTTL).Err()
}

func (r *RedisCheckpointStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	payload, err := r.client.Get(ctx, redisCheckpointKey(threadID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, fmt.Errorf("deserialize checkpoint: %w", err)
	}
	return &cp, nil
}
