package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/visionflow/visionflow/pkg/graph"
	"github.com/visionflow/visionflow/pkg/telemetry"
)

// execute is the core control loop shared by all execution modes. It runs
// nodes sequentially, merges updates, checkpoints after every step, and
// routes through the edge table until a terminal node, a fatal condition,
// or the step budget ends the session.
func (e *Engine) execute(ctx context.Context, st *graph.State, pub *publisher) (*graph.State, error) {
	logger := e.logger.WithSession(st.SessionID)
	sessionStart := time.Now()
	e.metrics.RecordSessionStarted()
	defer func() {
		outcome := string(st.Outcome)
		if !st.Completed {
			outcome = "cancelled"
		}
		e.metrics.RecordSessionCompleted(outcome, time.Since(sessionStart))
	}()

	logger.WithField("command", st.Command).WithNode(st.CurrentNode).Info("Session started")

	for {
		// Cancellation is cooperative: checked only between steps.
		select {
		case <-ctx.Done():
			logger.Info("Session cancelled")
			return st, ctx.Err()
		default:
		}

		if st.Completed {
			logger.WithField("outcome", st.Outcome).Info("Session completed")
			return st, nil
		}

		// The step budget is the sole termination guarantee for cyclic
		// graphs; it is checked before each invocation.
		if len(st.Steps) >= e.cfg.Engine.StepBudget {
			berr := graph.NewStepBudgetError(
				fmt.Sprintf("step budget %d reached before completion", e.cfg.Engine.StepBudget)).
				WithSession(st.SessionID)
			logger.Warn(berr.Message)
			st.MarkFailed(berr.Kind, berr.Message)
			e.writeTerminalMarker(ctx, st, logger)
			return st, nil
		}

		node := st.CurrentNode
		stepIndex := st.NextStepIndex()
		stepLogger := logger.WithNode(node).WithStep(stepIndex)

		fn, ok := e.registry.Lookup(node)
		if !ok {
			detail := fmt.Sprintf("node %q is not registered", node)
			stepLogger.Error(detail)
			st.MarkFailed(graph.KindUnknownNode, detail)
			e.writeTerminalMarker(ctx, st, logger)
			return st, nil
		}

		stepCtx := ctx
		var endSpan func(error)
		if e.tracer != nil {
			sctx, span := e.tracer.Start(ctx, "step.run",
				attribute.String("session_id", st.SessionID),
				attribute.String("node", node),
				attribute.Int("step_index", stepIndex),
			)
			stepCtx = sctx
			endSpan = func(err error) {
				telemetry.RecordError(span, err)
				span.End()
			}
		}

		started := time.Now().UTC()
		update, nodeErr := e.invoke(stepCtx, node, fn, st)
		completed := time.Now().UTC()
		if endSpan != nil {
			endSpan(nodeErr)
		}

		if nodeErr != nil {
			if terminal := e.handleFailure(ctx, st, node, nodeErr, started, completed, pub, stepLogger); terminal {
				return st, nil
			}
			continue
		}

		st.Apply(update)
		step := graph.ExecutionStep{
			Index:       stepIndex,
			Node:        node,
			StartedAt:   started,
			CompletedAt: completed,
			Status:      graph.StepSucceeded,
			Update:      update,
		}
		st.Steps = append(st.Steps, step)
		e.metrics.RecordStep(node, string(step.Status), completed.Sub(started))
		stepLogger.Debug("Node succeeded")

		if terminal := e.checkpointStep(ctx, st, step, pub, stepLogger); terminal {
			return st, nil
		}

		if st.Completed {
			logger.WithField("outcome", st.Outcome).Info("Session completed")
			return st, nil
		}

		next, routeErr := e.edges.Next(st)
		if routeErr != nil {
			stepLogger.WithError(routeErr).Error("Routing failed")
			st.MarkFailed(graph.KindOf(routeErr), routeErr.Error())
			e.writeTerminalMarker(ctx, st, logger)
			return st, nil
		}
		st.CurrentNode = next
	}
}

// invoke runs a single node with its configured timeout against a state
// snapshot. The node context is detached from caller cancellation: an
// in-flight call runs to completion or its own timeout, and cancellation
// takes effect between steps.
func (e *Engine) invoke(ctx context.Context, node string, fn graph.NodeFunc, st *graph.State) (*graph.Update, error) {
	timeout := e.cfg.NodeTimeout(node)
	nodeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	snapshot := st.Snapshot()

	type result struct {
		update *graph.Update
		err    error
	}
	resCh := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- result{nil, graph.NewNodeExecutionError(fmt.Sprintf("node panic: %v", r), nil)}
			}
		}()
		u, err := fn(nodeCtx, snapshot)
		resCh <- result{u, err}
	}()

	select {
	case res := <-resCh:
		if errors.Is(res.err, context.DeadlineExceeded) {
			return nil, graph.NewNodeTimeoutError(
				fmt.Sprintf("node %q timed out after %s", node, timeout), res.err)
		}
		return res.update, res.err
	case <-nodeCtx.Done():
		return nil, graph.NewNodeTimeoutError(
			fmt.Sprintf("node %q timed out after %s", node, timeout), nodeCtx.Err())
	}
}

// checkpointStep persists the state after a step was appended, then
// publishes the step event. It returns true when a checkpoint failure
// terminated the session.
func (e *Engine) checkpointStep(ctx context.Context, st *graph.State, step graph.ExecutionStep, pub *publisher, logger *telemetry.Logger) bool {
	err := e.writeCheckpoint(ctx, st, step.Index)
	if err != nil {
		if e.cfg.Engine.RequireDurableCheckpoints {
			logger.WithError(err).Error("Checkpoint write failed; terminating session")
			st.MarkFailed(graph.KindCheckpointWrite, err.Error())
			pub.publish(stepEvent(st.SessionID, step))
			return true
		}
		logger.WithError(err).Warn("Checkpoint write failed; continuing with a resumability gap")
	}
	pub.publish(stepEvent(st.SessionID, step))
	return false
}

// writeCheckpoint persists a snapshot. The write is detached from caller
// cancellation so that the recorded history never trails execution by more
// than the in-flight step.
func (e *Engine) writeCheckpoint(ctx context.Context, st *graph.State, stepIndex int) error {
	start := time.Now()
	err := e.store.Put(context.WithoutCancel(ctx), st.SessionID, stepIndex, st.Snapshot())
	e.metrics.RecordCheckpointWrite(e.backend, time.Since(start), err)
	if err != nil {
		return graph.NewCheckpointError("checkpoint write failed", err).WithSession(st.SessionID)
	}
	return nil
}

// writeTerminalMarker records terminal outcomes that are not attached to a
// step (step budget, routing defects) as one final checkpoint at the next
// index, so that resume observes the verdict.
func (e *Engine) writeTerminalMarker(ctx context.Context, st *graph.State, logger *telemetry.Logger) {
	if err := e.writeCheckpoint(ctx, st, st.NextStepIndex()); err != nil {
		logger.WithError(err).Warn("Failed to record terminal checkpoint")
	}
}
