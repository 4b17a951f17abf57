package stores

import (
	"context"
	"time"

	"github.com/visionflow/visionflow/pkg/graph"
)

// Checkpoint is an immutable snapshot of session state at a step index.
type Checkpoint struct {
	// SessionID is the owning session identifier.
	SessionID string `json:"session_id"`

	// StepIndex is the step index this snapshot was taken at.
	StepIndex int `json:"step_index"`

	// State is the full state snapshot.
	State *graph.State `json:"state"`

	// CreatedAt is when the checkpoint was written.
	CreatedAt time.Time `json:"created_at"`
}

// Store is the checkpoint store contract consumed by the engine.
type Store interface {
	// Put durably persists a state snapshot before returning. Writing the
	// same (session id, step index) twice is an error; checkpoints are
	// append-only.
	Put(ctx context.Context, sessionID string, stepIndex int, snapshot *graph.State) error

	// History returns all checkpoints for a session ordered by step
	// index. The result is a finite, restartable copy.
	History(ctx context.Context, sessionID string) ([]Checkpoint, error)

	// Latest returns the checkpoint with the highest step index for a
	// session, or ErrNotFound when the session has none.
	Latest(ctx context.Context, sessionID string) (*Checkpoint, error)

	// Close releases the store's resources.
	Close() error
}
