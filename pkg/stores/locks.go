package stores

import (
	"errors"
	"sync"
)

// ErrNotFound is returned when a session has no checkpoints.
var ErrNotFound = errors.New("checkpoint not found")

// ErrDuplicateCheckpoint is returned when a (session id, step index) pair
// is written twice. Checkpoints are append-only.
var ErrDuplicateCheckpoint = errors.New("checkpoint already exists")

// sessionLocks serializes writes per session identifier while letting
// distinct sessions write concurrently.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

// forSession returns the write lock for a session, creating it on first use.
func (l *sessionLocks) forSession(sessionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	return m
}
