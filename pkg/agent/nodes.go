package agent

import (
	"context"
	"fmt"

	"github.com/visionflow/visionflow/pkg/graph"
	"github.com/visionflow/visionflow/pkg/telemetry"
)

// nodes holds the collaborator handles the node functions close over.
type nodes struct {
	svc    Services
	logger *telemetry.Logger
}

// commandAnalyzer interprets the session command into a typed task and an
// execution plan. Commands that cannot be turned into a plan end the
// session immediately.
func (n *nodes) commandAnalyzer(ctx context.Context, st *graph.State) (*graph.Update, error) {
	analysis, err := n.svc.Vision.AnalyzeCommand(ctx, st.Command)
	if err != nil {
		return nil, fmt.Errorf("command analysis failed: %w", err)
	}
	if analysis.TaskType == "unknown" || len(analysis.Plan) == 0 {
		n.logger.WithSession(st.SessionID).Warn("Command is not actionable")
		return &graph.Update{
			Complete: true,
			Outcome:  graph.OutcomeFailure,
			Detail:   fmt.Sprintf("command %q is not actionable", st.Command),
		}, nil
	}
	return &graph.Update{
		Payload: map[string]any{
			keyTaskType:      analysis.TaskType,
			keyTaskIntent:    analysis.Intent,
			keyExecutionPlan: planToPayload(analysis.Plan),
			keyCurrentStep:   0,
		},
	}, nil
}

// screenCapture takes a fresh screenshot.
func (n *nodes) screenCapture(ctx context.Context, st *graph.State) (*graph.Update, error) {
	shot, err := n.svc.Screen.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}
	return &graph.Update{
		Payload: map[string]any{
			keyScreenshotPath: shot.Path,
			keyNeedReanalyze:  false,
		},
	}, nil
}

// screenAnalyzer locates the elements relevant to the task intent on the
// latest screenshot. Finding nothing is not a node failure; it is recorded
// in the payload and routed to the error handler.
func (n *nodes) screenAnalyzer(ctx context.Context, st *graph.State) (*graph.Update, error) {
	path := payloadString(st, keyScreenshotPath)
	if path == "" {
		return &graph.Update{
			Payload: map[string]any{keyErrorMessage: "no screenshot available for analysis"},
		}, nil
	}

	analysis, err := n.svc.Vision.AnalyzeScreen(ctx, Screenshot{Path: path}, payloadString(st, keyTaskIntent))
	if err != nil {
		return nil, fmt.Errorf("screen analysis failed: %w", err)
	}
	if len(analysis.TargetElements) == 0 {
		return &graph.Update{
			Payload: map[string]any{keyErrorMessage: "no elements matching the task intent were found"},
		}, nil
	}
	return &graph.Update{
		Payload: map[string]any{
			keyScreenAnalysis: map[string]any{
				"summary":         analysis.Summary,
				"elements":        elementsToPayload(analysis.Elements),
				"target_elements": elementsToPayload(analysis.TargetElements),
			},
		},
	}, nil
}

// actionExecutor performs the current plan step.
func (n *nodes) actionExecutor(ctx context.Context, st *graph.State) (*graph.Update, error) {
	cur := payloadInt(st, keyCurrentStep)
	action, ok := planAction(st, cur)
	if !ok {
		return &graph.Update{
			Payload: map[string]any{keyErrorMessage: fmt.Sprintf("no plan step at index %d", cur)},
		}, nil
	}

	result, err := n.svc.Action.Perform(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("action %s on %q failed: %w", action.Kind, action.Target, err)
	}

	entry := map[string]any{
		"step":    cur,
		"kind":    action.Kind,
		"target":  action.Target,
		"success": result.Success,
		"detail":  result.Detail,
	}
	if !result.Success {
		return &graph.Update{
			Payload: map[string]any{
				keyExecutionResults: []any{entry},
				keyErrorMessage:     fmt.Sprintf("action %s on %q did not take effect: %s", action.Kind, action.Target, result.Detail),
			},
		}, nil
	}
	return &graph.Update{
		Payload: map[string]any{
			keyExecutionResults: []any{entry},
			keyCurrentStep:      cur + 1,
		},
	}, nil
}

// resultValidator decides whether the plan is complete. An exhausted plan
// ends the session successfully; otherwise the loop continues with a fresh
// capture.
func (n *nodes) resultValidator(ctx context.Context, st *graph.State) (*graph.Update, error) {
	if msg := payloadString(st, keyErrorMessage); msg != "" {
		// Leave the routing decision to the edge table.
		return &graph.Update{}, nil
	}

	plan := payloadList(st, keyExecutionPlan)
	cur := payloadInt(st, keyCurrentStep)
	if cur >= len(plan) {
		return &graph.Update{
			Complete: true,
			Outcome:  graph.OutcomeSuccess,
			Detail:   fmt.Sprintf("completed %d of %d plan steps", cur, len(plan)),
		}, nil
	}
	return &graph.Update{
		Payload: map[string]any{keyNeedReanalyze: true},
	}, nil
}

// errorHandler picks a recovery strategy for a payload-level error and
// clears it so the loop can continue.
func (n *nodes) errorHandler(ctx context.Context, st *graph.State) (*graph.Update, error) {
	msg := payloadString(st, keyErrorMessage)
	strategy := "reanalyze_screen"
	if results := payloadList(st, keyExecutionResults); len(results) > 0 {
		if last, ok := results[len(results)-1].(map[string]any); ok {
			if success, _ := last["success"].(bool); !success {
				strategy = "retry_current_step"
			}
		}
	}
	n.logger.WithSession(st.SessionID).
		WithField("error", msg).
		WithField("strategy", strategy).
		Warn("Recovering from workflow error")
	return &graph.Update{
		Payload: map[string]any{
			keyErrorMessage:     "",
			keyNeedReanalyze:    true,
			keyRecoveryStrategy: strategy,
			"last_error":        msg,
		},
	}, nil
}
