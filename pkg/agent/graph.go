package agent

import (
	"github.com/visionflow/visionflow/pkg/graph"
	"github.com/visionflow/visionflow/pkg/telemetry"
)

// Node names of the perceive-cognize-act workflow.
const (
	NodeCommandAnalyzer = "command_analyzer"
	NodeScreenCapture   = "screen_capture"
	NodeScreenAnalyzer  = "screen_analyzer"
	NodeActionExecutor  = "action_executor"
	NodeResultValidator = "result_validator"
	NodeErrorHandler    = "error_handler"
)

// EntryNode is where every session starts.
const EntryNode = NodeCommandAnalyzer

// Build compiles the workflow graph over the given collaborators. The
// returned registry and edge table are immutable.
func Build(svc Services, logger *telemetry.Logger) (*graph.Registry, *graph.EdgeTable, error) {
	if logger == nil {
		logger = telemetry.Nop()
	}
	n := &nodes{svc: svc, logger: logger.NewComponentLogger("agent")}

	rb := graph.NewRegistryBuilder()
	for _, node := range []struct {
		name string
		fn   graph.NodeFunc
	}{
		{NodeCommandAnalyzer, n.commandAnalyzer},
		{NodeScreenCapture, n.screenCapture},
		{NodeScreenAnalyzer, n.screenAnalyzer},
		{NodeActionExecutor, n.actionExecutor},
		{NodeResultValidator, n.resultValidator},
		{NodeErrorHandler, n.errorHandler},
	} {
		if err := rb.Register(node.name, node.fn); err != nil {
			return nil, nil, err
		}
	}
	reg, err := rb.Build()
	if err != nil {
		return nil, nil, err
	}

	hasError := func(st *graph.State) bool {
		return payloadString(st, keyErrorMessage) != ""
	}

	edges, err := graph.CompileEdges(reg, []graph.Edge{
		{
			Source:  NodeCommandAnalyzer,
			Default: NodeScreenCapture,
		},
		{
			Source: NodeScreenCapture,
			Rules: []graph.Rule{
				{When: hasError, To: NodeErrorHandler, Label: "error"},
				{
					When: func(st *graph.State) bool {
						return payloadString(st, keyScreenshotPath) == ""
					},
					To:    NodeErrorHandler,
					Label: "no screenshot",
				},
			},
			Default: NodeScreenAnalyzer,
		},
		{
			Source: NodeScreenAnalyzer,
			Rules: []graph.Rule{
				{When: hasError, To: NodeErrorHandler, Label: "error"},
				{
					When: func(st *graph.State) bool {
						analysis := payloadMap(st, keyScreenAnalysis)
						targets, _ := analysis["target_elements"].([]any)
						return len(targets) == 0
					},
					To:    NodeErrorHandler,
					Label: "no targets",
				},
			},
			Default: NodeActionExecutor,
		},
		{
			Source: NodeActionExecutor,
			Rules: []graph.Rule{
				{When: hasError, To: NodeErrorHandler, Label: "error"},
				{
					When: func(st *graph.State) bool {
						return len(payloadList(st, keyExecutionResults)) == 0
					},
					To:    NodeErrorHandler,
					Label: "no results",
				},
			},
			Default: NodeResultValidator,
		},
		{
			Source: NodeResultValidator,
			Rules: []graph.Rule{
				{When: hasError, To: NodeErrorHandler, Label: "error"},
				{
					When: func(st *graph.State) bool {
						return payloadBool(st, keyNeedReanalyze)
					},
					To:    NodeScreenCapture,
					Label: "reanalyze",
				},
			},
			// Plan not yet exhausted; loop back for a fresh capture.
			Default: NodeScreenCapture,
		},
		{
			Source: NodeErrorHandler,
			Rules: []graph.Rule{
				{
					When: func(st *graph.State) bool {
						return payloadString(st, keyRecoveryStrategy) == "retry_current_step"
					},
					To:    NodeActionExecutor,
					Label: "retry step",
				},
			},
			Default: NodeScreenCapture,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	return reg, edges, nil
}
