package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/visionflow/visionflow/pkg/graph"
)

// MemoryStore implements the Store interface in process memory. It is used
// by tests and demo runs; checkpoints do not survive a restart.
//
// Snapshots are stored serialized so that reads observe the same JSON
// round-trip as the durable backends. Replaying from a memory checkpoint is
// therefore byte-for-byte equivalent to replaying from SQLite or Redis.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]memoryCheckpoint
	locks    *sessionLocks
}

type memoryCheckpoint struct {
	stepIndex int
	state     []byte
	createdAt time.Time
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]memoryCheckpoint),
		locks:    newSessionLocks(),
	}
}

// Put persists a state snapshot in memory.
func (s *MemoryStore) Put(_ context.Context, sessionID string, stepIndex int, snapshot *graph.State) error {
	lock := s.locks.forSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal state snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cp := range s.sessions[sessionID] {
		if cp.stepIndex == stepIndex {
			return fmt.Errorf("checkpoint (%s, %d): %w", sessionID, stepIndex, ErrDuplicateCheckpoint)
		}
	}

	s.sessions[sessionID] = append(s.sessions[sessionID], memoryCheckpoint{
		stepIndex: stepIndex,
		state:     payload,
		createdAt: time.Now().UTC(),
	})
	return nil
}

// History returns all checkpoints for a session ordered by step index.
func (s *MemoryStore) History(_ context.Context, sessionID string) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.sessions[sessionID]
	checkpoints := make([]Checkpoint, 0, len(stored))
	for _, cp := range stored {
		decoded, err := decodeMemoryCheckpoint(sessionID, cp)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, *decoded)
	}

	// Writes append in step order per session, so no sort is needed.
	return checkpoints, nil
}

// Latest returns the checkpoint with the highest step index for a session.
func (s *MemoryStore) Latest(_ context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.sessions[sessionID]
	if len(stored) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return decodeMemoryCheckpoint(sessionID, stored[len(stored)-1])
}

// Close releases nothing; the memory store holds no external resources.
func (s *MemoryStore) Close() error {
	return nil
}

func decodeMemoryCheckpoint(sessionID string, cp memoryCheckpoint) (*Checkpoint, error) {
	st := &graph.State{}
	if err := json.Unmarshal(cp.state, st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state snapshot: %w", err)
	}
	return &Checkpoint{
		SessionID: sessionID,
		StepIndex: cp.stepIndex,
		State:     st,
		CreatedAt: cp.createdAt,
	}, nil
}
