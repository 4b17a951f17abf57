package graph

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassRetryable indicates a step failure that the retry policy
	// may recover from, bounded by the node's max_retries.
	ErrorClassRetryable ErrorClass = "retryable"

	// ErrorClassFatal indicates a failure that terminates the session
	// immediately. Configuration defects and exhausted retries are fatal.
	ErrorClassFatal ErrorClass = "fatal"
)

// ErrorKind identifies the specific failure category.
type ErrorKind string

const (
	// KindNodeExecution is a node reporting failure. Retryable.
	KindNodeExecution ErrorKind = "node_execution"

	// KindNodeTimeout is a node invocation exceeding its configured
	// timeout. Treated identically to a node execution failure.
	KindNodeTimeout ErrorKind = "node_timeout"

	// KindMaxRetriesExceeded is a node failing more times than its
	// max_retries budget allows. Fatal; the session terminates failed.
	KindMaxRetriesExceeded ErrorKind = "max_retries_exceeded"

	// KindUnknownNode is a route or lookup naming an unregistered node.
	// Fatal; this is a build-time defect, never retried.
	KindUnknownNode ErrorKind = "unknown_node"

	// KindDuplicateNode is two registrations under the same node name.
	KindDuplicateNode ErrorKind = "duplicate_node"

	// KindMalformedEdge is an edge table defect: missing default target,
	// nil predicate, or a node without a routing entry.
	KindMalformedEdge ErrorKind = "malformed_edge"

	// KindStepBudgetExceeded is the global step budget being reached.
	// Fatal; this is the sole termination guarantee for cyclic graphs.
	KindStepBudgetExceeded ErrorKind = "step_budget_exceeded"

	// KindCheckpointWrite is a checkpoint store failure. Fatal when the
	// engine is configured to require durability, otherwise logged.
	KindCheckpointWrite ErrorKind = "checkpoint_write"

	// KindFatalConfiguration is a graph or engine configuration defect
	// discovered at build time.
	KindFatalConfiguration ErrorKind = "fatal_configuration"
)

// Error is the classified error type used throughout the engine.
type Error struct {
	// Kind is the failure category.
	Kind ErrorKind `json:"kind"`

	// Class is the classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Node is the node name that produced the error, if applicable.
	Node string `json:"node,omitempty"`

	// Session is the session identifier, if applicable.
	Session string `json:"session,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s/%s] %s", e.Class, e.Kind, e.Message)
	if e.Node != "" {
		msg += fmt.Sprintf(" (node=%s)", e.Node)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two graph errors match when
// their kinds match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithNode adds node context to an error.
func (e *Error) WithNode(node string) *Error {
	e.Node = node
	return e
}

// WithSession adds session context to an error.
func (e *Error) WithSession(sessionID string) *Error {
	e.Session = sessionID
	return e
}

// NewNodeExecutionError creates a retryable node failure.
func NewNodeExecutionError(message string, err error) *Error {
	return &Error{Kind: KindNodeExecution, Class: ErrorClassRetryable, Message: message, Err: err}
}

// NewNodeTimeoutError creates a retryable node timeout failure.
func NewNodeTimeoutError(message string, err error) *Error {
	return &Error{Kind: KindNodeTimeout, Class: ErrorClassRetryable, Message: message, Err: err}
}

// NewMaxRetriesError creates the fatal retry-exhaustion error.
func NewMaxRetriesError(message string, err error) *Error {
	return &Error{Kind: KindMaxRetriesExceeded, Class: ErrorClassFatal, Message: message, Err: err}
}

// NewStepBudgetError creates the fatal step-budget error.
func NewStepBudgetError(message string) *Error {
	return &Error{Kind: KindStepBudgetExceeded, Class: ErrorClassFatal, Message: message}
}

// NewCheckpointError creates a checkpoint write failure.
func NewCheckpointError(message string, err error) *Error {
	return &Error{Kind: KindCheckpointWrite, Class: ErrorClassFatal, Message: message, Err: err}
}

// NewConfigError creates a fatal configuration error of the given kind.
// Kind should be one of KindUnknownNode, KindDuplicateNode,
// KindMalformedEdge, or KindFatalConfiguration.
func NewConfigError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Class: ErrorClassFatal, Message: message}
}

// IsRetryable returns true if the error can be recovered by the retry
// policy.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassRetryable
	}
	return false
}

// IsFatal returns true if the error terminates the session immediately.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// KindOf returns the error kind, or an empty kind for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Classify wraps an arbitrary node error into the engine taxonomy. Errors
// already carrying a classification pass through unchanged; everything else
// becomes a retryable node execution error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewNodeExecutionError("node returned error", err)
}
