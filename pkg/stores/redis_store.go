package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/visionflow/visionflow/pkg/graph"
)

// RedisStore implements the Store interface on Redis. Checkpoints are
// stored one key per (session id, step index) with a sorted-set index per
// session for ordered history reads.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	locks  *sessionLocks
}

// RedisConfig holds Redis store configuration.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	URL string

	// TTL is the checkpoint expiry; zero means checkpoints never expire.
	TTL time.Duration
}

// NewRedisStore creates a Redis-backed checkpoint store and verifies the
// connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		ttl:    cfg.TTL,
		locks:  newSessionLocks(),
	}, nil
}

func checkpointKey(sessionID string, stepIndex int) string {
	return fmt.Sprintf("visionflow:checkpoint:%s:%d", sessionID, stepIndex)
}

func indexKey(sessionID string) string {
	return fmt.Sprintf("visionflow:checkpoint-index:%s", sessionID)
}

// Put durably persists a state snapshot before returning.
func (s *RedisStore) Put(ctx context.Context, sessionID string, stepIndex int, snapshot *graph.State) error {
	lock := s.locks.forSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal state snapshot: %w", err)
	}

	key := checkpointKey(sessionID, stepIndex)
	ok, err := s.client.SetNX(ctx, key, payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if !ok {
		return fmt.Errorf("checkpoint (%s, %d): %w", sessionID, stepIndex, ErrDuplicateCheckpoint)
	}

	err = s.client.ZAdd(ctx, indexKey(sessionID), redis.Z{
		Score:  float64(stepIndex),
		Member: stepIndex,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index checkpoint: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, indexKey(sessionID), s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to set index TTL: %w", err)
		}
	}

	return nil
}

// History returns all checkpoints for a session ordered by step index.
func (s *RedisStore) History(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	indices, err := s.client.ZRange(ctx, indexKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}

	checkpoints := make([]Checkpoint, 0, len(indices))
	for _, idx := range indices {
		var stepIndex int
		if _, err := fmt.Sscanf(idx, "%d", &stepIndex); err != nil {
			return nil, fmt.Errorf("malformed checkpoint index entry %q: %w", idx, err)
		}
		cp, err := s.get(ctx, sessionID, stepIndex)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, *cp)
	}

	return checkpoints, nil
}

// Latest returns the checkpoint with the highest step index for a session.
func (s *RedisStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	indices, err := s.client.ZRevRange(ctx, indexKey(sessionID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	var stepIndex int
	if _, err := fmt.Sscanf(indices[0], "%d", &stepIndex); err != nil {
		return nil, fmt.Errorf("malformed checkpoint index entry %q: %w", indices[0], err)
	}
	return s.get(ctx, sessionID, stepIndex)
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) get(ctx context.Context, sessionID string, stepIndex int) (*Checkpoint, error) {
	raw, err := s.client.Get(ctx, checkpointKey(sessionID, stepIndex)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %s step %d: %w", sessionID, stepIndex, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	st := &graph.State{}
	if err := json.Unmarshal([]byte(raw), st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state snapshot: %w", err)
	}

	return &Checkpoint{
		SessionID: sessionID,
		StepIndex: stepIndex,
		State:     st,
	}, nil
}
