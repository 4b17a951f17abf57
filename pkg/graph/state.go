package graph

import (
	"time"
)

// StepStatus represents the recorded status of one node invocation.
type StepStatus string

const (
	// StepSucceeded is a node invocation that returned an update.
	StepSucceeded StepStatus = "succeeded"

	// StepRetried is a failed invocation that the retry policy recovered
	// by routing to the node's recovery node.
	StepRetried StepStatus = "retried"

	// StepFailed is a failed invocation that terminated the session.
	StepFailed StepStatus = "failed"
)

// Outcome represents the terminal verdict of a session.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Session describes one end-to-end execution of a submitted command.
// A session is immutable once created; its mutable record is State.
type Session struct {
	// ID is the opaque session identifier, caller-supplied or generated.
	ID string `json:"id"`

	// Command is the originating command text.
	Command string `json:"command"`

	// CreatedAt is when the session was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// Update is the partial state update produced by a successful node
// invocation. Merging into State is field-level: scalar payload fields are
// last-write-wins, list-typed payload fields append.
type Update struct {
	// Payload contains the payload fields this node contributes.
	Payload map[string]any `json:"payload,omitempty"`

	// Complete marks the session terminal when set.
	Complete bool `json:"complete,omitempty"`

	// Outcome is the terminal verdict; meaningful only when Complete.
	Outcome Outcome `json:"outcome,omitempty"`

	// Detail carries diagnostic detail for the terminal verdict.
	Detail string `json:"detail,omitempty"`
}

// StepError is the recorded error detail of a failed node invocation.
type StepError struct {
	// Kind is the failure category.
	Kind ErrorKind `json:"kind"`

	// Message is the failure message.
	Message string `json:"message"`
}

// ExecutionStep records one completed node invocation. Steps are created by
// the executor immediately after a node returns and are never mutated
// afterwards.
type ExecutionStep struct {
	// Index is the 1-based step index, strictly increasing and dense
	// within a session.
	Index int `json:"index"`

	// Node is the node that ran.
	Node string `json:"node"`

	// StartedAt is when the invocation started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the invocation returned.
	CompletedAt time.Time `json:"completed_at"`

	// Status is the recorded step status.
	Status StepStatus `json:"status"`

	// Update is the partial update produced on success, nil on failure.
	Update *Update `json:"update,omitempty"`

	// Error is the failure detail, nil on success.
	Error *StepError `json:"error,omitempty"`
}

// State is the mutable record threaded through the graph for one session.
// Only the executor writes to it.
type State struct {
	// SessionID is the owning session identifier.
	SessionID string `json:"session_id"`

	// Command is the originating command text.
	Command string `json:"command"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// CurrentNode is the node the executor will run next.
	CurrentNode string `json:"current_node"`

	// Steps is the append-only sequence of completed node invocations.
	Steps []ExecutionStep `json:"steps"`

	// Retries maps node name to its cumulative failure count for this
	// session. Counters are never reset.
	Retries map[string]int `json:"retries"`

	// Payload is the free-form result record built incrementally from
	// node updates.
	Payload map[string]any `json:"payload"`

	// Completed marks the session terminal.
	Completed bool `json:"completed"`

	// Outcome is the terminal verdict; meaningful only when Completed.
	Outcome Outcome `json:"outcome,omitempty"`

	// FailureKind is the error kind for failed sessions.
	FailureKind ErrorKind `json:"failure_kind,omitempty"`

	// Detail is the diagnostic detail for the terminal verdict: a failure
	// diagnostic, or a completion summary for successful sessions.
	Detail string `json:"detail,omitempty"`
}

// NewState creates the initial state for a session, positioned at the
// graph's entry node.
func NewState(sess Session, entryNode string) *State {
	return &State{
		SessionID:   sess.ID,
		Command:     sess.Command,
		CreatedAt:   sess.CreatedAt,
		CurrentNode: entryNode,
		Steps:       make([]ExecutionStep, 0),
		Retries:     make(map[string]int),
		Payload:     make(map[string]any),
	}
}

// NextStepIndex returns the index the next execution step will carry.
func (s *State) NextStepIndex() int {
	return len(s.Steps) + 1
}

// RetryCount returns the cumulative failure count for a node.
func (s *State) RetryCount(node string) int {
	return s.Retries[node]
}

// Apply merges a node's partial update into the state. Scalar payload
// fields are last-write-wins; when both the existing and incoming values
// are lists, the incoming elements are appended instead.
func (s *State) Apply(u *Update) {
	if u == nil {
		return
	}
	for k, v := range u.Payload {
		incoming, incomingIsList := asList(v)
		existing, existingIsList := asList(s.Payload[k])
		if incomingIsList && existingIsList {
			s.Payload[k] = append(existing, incoming...)
			continue
		}
		s.Payload[k] = copyValue(v)
	}
	if u.Complete {
		s.Completed = true
		s.Outcome = u.Outcome
		s.Detail = u.Detail
	}
}

// MarkFailed marks the state terminal with a failure outcome.
func (s *State) MarkFailed(kind ErrorKind, detail string) {
	s.Completed = true
	s.Outcome = OutcomeFailure
	s.FailureKind = kind
	s.Detail = detail
}

// Snapshot returns a deep copy of the state. The executor passes snapshots
// to node functions and to the checkpoint store so that neither can alias
// the live record.
func (s *State) Snapshot() *State {
	cp := *s
	cp.Steps = make([]ExecutionStep, len(s.Steps))
	for i, step := range s.Steps {
		cp.Steps[i] = step
		if step.Update != nil {
			u := *step.Update
			u.Payload = copyMap(step.Update.Payload)
			cp.Steps[i].Update = &u
		}
		if step.Error != nil {
			e := *step.Error
			cp.Steps[i].Error = &e
		}
	}
	cp.Retries = make(map[string]int, len(s.Retries))
	for k, v := range s.Retries {
		cp.Retries[k] = v
	}
	cp.Payload = copyMap(s.Payload)
	return &cp
}

// asList normalizes list-typed payload values. JSON round-trips through the
// checkpoint store produce []any, so that is the canonical list shape.
func asList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = copyValue(v)
	}
	return cp
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = copyValue(e)
		}
		return cp
	default:
		return v
	}
}
