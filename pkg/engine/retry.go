package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/visionflow/visionflow/pkg/graph"
	"github.com/visionflow/visionflow/pkg/telemetry"
)

// handleFailure applies the retry policy to a failed node invocation. It
// appends the step record, checkpoints, and publishes the event; it
// returns true when the failure terminated the session.
func (e *Engine) handleFailure(ctx context.Context, st *graph.State, node string, nodeErr error, started, completed time.Time, pub *publisher, logger *telemetry.Logger) bool {
	gerr := graph.Classify(nodeErr).WithNode(node).WithSession(st.SessionID)
	stepErr := &graph.StepError{Kind: gerr.Kind, Message: gerr.Error()}

	if graph.IsFatal(gerr) {
		logger.WithError(gerr).Error("Node failed with a non-recoverable error")
		st.MarkFailed(gerr.Kind, gerr.Error())
		e.recordFailureStep(ctx, st, node, started, completed, graph.StepFailed, stepErr, pub, logger)
		return true
	}

	st.Retries[node]++
	count := st.Retries[node]
	maxRetries := e.cfg.NodeMaxRetries(node)

	// The retry count is cumulative across the whole session, not per
	// consecutive run of failures.
	if count > maxRetries {
		rerr := graph.NewMaxRetriesError(
			fmt.Sprintf("node %q exceeded max retries (%d)", node, maxRetries), gerr).
			WithNode(node).WithSession(st.SessionID)
		logger.WithField("retries", count).WithError(gerr).Error(rerr.Message)
		st.MarkFailed(rerr.Kind, rerr.Error())
		e.recordFailureStep(ctx, st, node, started, completed, graph.StepFailed, stepErr, pub, logger)
		return true
	}

	e.metrics.RecordRetry(node)
	if terminal := e.recordFailureStep(ctx, st, node, started, completed, graph.StepRetried, stepErr, pub, logger); terminal {
		return true
	}
	st.CurrentNode = e.recoveryNode(node)
	logger.WithError(gerr).
		WithField("retry", count).
		WithField("max_retries", maxRetries).
		WithField("recovery_node", st.CurrentNode).
		Warn("Node failed; routing to recovery node")
	return false
}

// recordFailureStep appends a retried or failed step, checkpoints, and
// publishes. It returns true when the checkpoint write terminated the
// session.
func (e *Engine) recordFailureStep(ctx context.Context, st *graph.State, node string, started, completed time.Time, status graph.StepStatus, stepErr *graph.StepError, pub *publisher, logger *telemetry.Logger) bool {
	step := graph.ExecutionStep{
		Index:       st.NextStepIndex(),
		Node:        node,
		StartedAt:   started,
		CompletedAt: completed,
		Status:      status,
		Error:       stepErr,
	}
	st.Steps = append(st.Steps, step)
	e.metrics.RecordStep(node, string(status), completed.Sub(started))
	return e.checkpointStep(ctx, st, step, pub, logger)
}

// recoveryNode returns where execution goes after a recoverable failure of
// a node: the configured recovery node, or the node itself.
func (e *Engine) recoveryNode(node string) string {
	if r := e.cfg.NodeRecovery(node); r != "" {
		return r
	}
	return node
}
