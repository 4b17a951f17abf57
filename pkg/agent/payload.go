package agent

import (
	"github.com/visionflow/visionflow/pkg/graph"
)

// Payload keys shared between nodes and routing predicates. Values round-trip
// through JSON checkpoints, so compound values are maps and []any.
const (
	keyTaskType         = "task_type"
	keyTaskIntent       = "task_intent"
	keyExecutionPlan    = "execution_plan"
	keyCurrentStep      = "current_step"
	keyScreenshotPath   = "screenshot_path"
	keyScreenAnalysis   = "screen_analysis"
	keyExecutionResults = "execution_results"
	keyErrorMessage     = "error_message"
	keyNeedReanalyze    = "need_reanalyze"
	keyRecoveryStrategy = "recovery_strategy"
)

func payloadString(st *graph.State, key string) string {
	if v, ok := st.Payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadBool(st *graph.State, key string) bool {
	if v, ok := st.Payload[key].(bool); ok {
		return v
	}
	return false
}

// payloadInt tolerates the float64 shape JSON decoding produces.
func payloadInt(st *graph.State, key string) int {
	switch v := st.Payload[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func payloadList(st *graph.State, key string) []any {
	if v, ok := st.Payload[key].([]any); ok {
		return v
	}
	return nil
}

func payloadMap(st *graph.State, key string) map[string]any {
	if v, ok := st.Payload[key].(map[string]any); ok {
		return v
	}
	return nil
}

// planToPayload encodes an execution plan in the canonical payload shape.
func planToPayload(plan []PlanStep) []any {
	out := make([]any, 0, len(plan))
	for _, p := range plan {
		out = append(out, map[string]any{
			"description": p.Description,
			"action": map[string]any{
				"kind":   p.Action.Kind,
				"target": p.Action.Target,
				"text":   p.Action.Text,
			},
		})
	}
	return out
}

// planAction decodes the action of plan step i from the payload shape.
func planAction(st *graph.State, i int) (Action, bool) {
	plan := payloadList(st, keyExecutionPlan)
	if i < 0 || i >= len(plan) {
		return Action{}, false
	}
	step, ok := plan[i].(map[string]any)
	if !ok {
		return Action{}, false
	}
	raw, ok := step["action"].(map[string]any)
	if !ok {
		return Action{}, false
	}
	str := func(k string) string {
		s, _ := raw[k].(string)
		return s
	}
	return Action{Kind: str("kind"), Target: str("target"), Text: str("text")}, true
}

func elementsToPayload(elems []UIElement) []any {
	out := make([]any, 0, len(elems))
	for _, el := range elems {
		out = append(out, map[string]any{
			"label":      el.Label,
			"kind":       el.Kind,
			"x":          el.X,
			"y":          el.Y,
			"confidence": el.Confidence,
		})
	}
	return out
}
