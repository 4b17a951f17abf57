package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/visionflow/visionflow/pkg/config"
	"github.com/visionflow/visionflow/pkg/engine"
	"github.com/visionflow/visionflow/pkg/graph"
	"github.com/visionflow/visionflow/pkg/stores"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Backend = "memory"
	cfg.Engine.DefaultNodeTimeout = config.Duration(5 * time.Second)
	return cfg
}

func buildEngine(t *testing.T, svc Services, cfg *config.Config) *engine.Engine {
	t.Helper()
	reg, edges, err := Build(svc, nil)
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}
	eng, err := engine.New(engine.Options{
		Registry:     reg,
		Edges:        edges,
		EntryNode:    EntryNode,
		Store:        stores.NewMemoryStore(),
		StoreBackend: "memory",
		Config:       cfg,
	})
	if err != nil {
		t.Fatalf("engine.New() returned error: %v", err)
	}
	return eng
}

// TestBuildGraph tests that the workflow graph compiles with all six nodes
// wired.
func TestBuildGraph(t *testing.T) {
	reg, edges, err := Build(SimulatedServices(), nil)
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}

	for _, name := range []string{
		NodeCommandAnalyzer, NodeScreenCapture, NodeScreenAnalyzer,
		NodeActionExecutor, NodeResultValidator, NodeErrorHandler,
	} {
		if !reg.Has(name) {
			t.Errorf("expected node %q to be registered", name)
		}
	}
	if len(edges.Sources()) != 6 {
		t.Errorf("expected 6 edges, got %d", len(edges.Sources()))
	}
}

// TestGraphMermaid tests the rendered workflow diagram.
func TestGraphMermaid(t *testing.T) {
	_, edges, err := Build(SimulatedServices(), nil)
	if err != nil {
		t.Fatalf("Build() returned error: %v", err)
	}

	out := edges.Mermaid()
	for _, want := range []string{
		"flowchart TD",
		"command_analyzer -->|default| screen_capture",
		"screen_capture -->|error| error_handler",
		"error_handler -->|retry step| action_executor",
		"result_validator -->|default| screen_capture",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected diagram to contain %q:\n%s", want, out)
		}
	}
}

// TestOpenAppCommand tests the happy path: a one-step plan runs through
// analyze, capture, screen analysis, execution, and validation.
func TestOpenAppCommand(t *testing.T) {
	eng := buildEngine(t, SimulatedServices(), testConfig())

	st, err := eng.Run(context.Background(), "open Safari")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if !st.Completed || st.Outcome != graph.OutcomeSuccess {
		t.Fatalf("expected success, got completed=%v outcome=%s failure=%s",
			st.Completed, st.Outcome, st.Detail)
	}

	// analyze, capture, screen analysis, execute, validate (continue),
	// capture, screen analysis, execute... the one-step plan finishes after
	// the first validation.
	wantNodes := []string{
		NodeCommandAnalyzer, NodeScreenCapture, NodeScreenAnalyzer,
		NodeActionExecutor, NodeResultValidator,
	}
	if len(st.Steps) != len(wantNodes) {
		t.Fatalf("expected %d steps, got %d: %+v", len(wantNodes), len(st.Steps), st.Steps)
	}
	for i, step := range st.Steps {
		if step.Node != wantNodes[i] {
			t.Errorf("step %d: expected node %q, got %q", i+1, wantNodes[i], step.Node)
		}
		if step.Status != graph.StepSucceeded {
			t.Errorf("step %d: expected success, got %s", i+1, step.Status)
		}
	}

	if st.Detail != "completed 1 of 1 plan steps" {
		t.Errorf("expected completion summary on the terminal state, got %q", st.Detail)
	}
	if st.Payload[keyTaskType] != "open_app" {
		t.Errorf("expected task_type open_app, got %v", st.Payload[keyTaskType])
	}
	results, _ := st.Payload[keyExecutionResults].([]any)
	if len(results) != 1 {
		t.Errorf("expected 1 execution result, got %v", results)
	}
}

// TestUnknownCommandEndsImmediately tests that a command with no
// actionable plan terminates after the analyzer.
func TestUnknownCommandEndsImmediately(t *testing.T) {
	eng := buildEngine(t, SimulatedServices(), testConfig())

	st, err := eng.Run(context.Background(), "abracadabra")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if !st.Completed || st.Outcome != graph.OutcomeFailure {
		t.Fatalf("expected failure, got completed=%v outcome=%s", st.Completed, st.Outcome)
	}
	if len(st.Steps) != 1 || st.Steps[0].Node != NodeCommandAnalyzer {
		t.Errorf("expected single analyzer step, got %+v", st.Steps)
	}
}

// TestAnalyzerRetriesThroughCapture tests the recovery-node policy: screen
// analysis failures re-route through screen capture and succeed within the
// retry budget.
func TestAnalyzerRetriesThroughCapture(t *testing.T) {
	cfg := testConfig()
	retries := 3
	cfg.Nodes = map[string]config.NodeConfig{
		NodeScreenAnalyzer: {MaxRetries: &retries, RecoveryNode: NodeScreenCapture},
	}

	svc := Services{
		Vision: &SimulatedVision{FailScreenAnalyses: 2},
		Screen: &SimulatedScreen{},
		Action: &SimulatedActions{},
	}
	eng := buildEngine(t, svc, cfg)

	st, err := eng.Run(context.Background(), "click Submit")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if !st.Completed || st.Outcome != graph.OutcomeSuccess {
		t.Fatalf("expected success after retries, got outcome=%s failure=%s", st.Outcome, st.Detail)
	}
	if st.RetryCount(NodeScreenAnalyzer) != 2 {
		t.Errorf("expected 2 analyzer retries, got %d", st.RetryCount(NodeScreenAnalyzer))
	}

	// Each retried analysis is preceded by a fresh capture.
	var retried int
	for i, step := range st.Steps {
		if step.Status != graph.StepRetried {
			continue
		}
		retried++
		if step.Node != NodeScreenAnalyzer {
			t.Errorf("unexpected retried node %q", step.Node)
		}
		if i+1 < len(st.Steps) && st.Steps[i+1].Node != NodeScreenCapture {
			t.Errorf("expected capture after retried analysis, got %q", st.Steps[i+1].Node)
		}
	}
	if retried != 2 {
		t.Errorf("expected 2 retried steps, got %d", retried)
	}
}

// TestRejectedActionRoutesThroughErrorHandler tests the payload-level
// error path: a rejected action routes to the error handler, which retries
// the current step.
func TestRejectedActionRoutesThroughErrorHandler(t *testing.T) {
	svc := Services{
		Vision: &SimulatedVision{},
		Screen: &SimulatedScreen{},
		Action: &SimulatedActions{RejectPerforms: 1},
	}
	eng := buildEngine(t, svc, testConfig())

	st, err := eng.Run(context.Background(), "click Submit")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if !st.Completed || st.Outcome != graph.OutcomeSuccess {
		t.Fatalf("expected success after error handling, got outcome=%s failure=%s",
			st.Outcome, st.Detail)
	}

	var sawHandler bool
	for i, step := range st.Steps {
		if step.Node != NodeErrorHandler {
			continue
		}
		sawHandler = true
		if i+1 < len(st.Steps) && st.Steps[i+1].Node != NodeActionExecutor {
			t.Errorf("expected executor retry after error handler, got %q", st.Steps[i+1].Node)
		}
	}
	if !sawHandler {
		t.Errorf("expected the error handler to run: %+v", st.Steps)
	}
	if payloadString(st, keyErrorMessage) != "" {
		t.Errorf("expected error message cleared, got %q", payloadString(st, keyErrorMessage))
	}

	results, _ := st.Payload[keyExecutionResults].([]any)
	if len(results) != 2 {
		t.Errorf("expected rejected and successful results, got %v", results)
	}
}

// TestCommandAnalysisHeuristics tests the simulated command interpreter.
func TestCommandAnalysisHeuristics(t *testing.T) {
	v := &SimulatedVision{}
	ctx := context.Background()

	tests := []struct {
		command  string
		taskType string
	}{
		{"open Safari", "open_app"},
		{"close Notes", "close_app"},
		{"click Submit", "click"},
		{"type hello world", "type"},
		{"scroll down", "scroll"},
		{"frobnicate", "unknown"},
		{"", "unknown"},
	}
	for _, tc := range tests {
		analysis, err := v.AnalyzeCommand(ctx, tc.command)
		if err != nil {
			t.Fatalf("AnalyzeCommand(%q) returned error: %v", tc.command, err)
		}
		if analysis.TaskType != tc.taskType {
			t.Errorf("AnalyzeCommand(%q): expected task type %q, got %q", tc.command, tc.taskType, analysis.TaskType)
		}
		if tc.taskType != "unknown" && len(analysis.Plan) == 0 {
			t.Errorf("AnalyzeCommand(%q): expected a plan", tc.command)
		}
	}
}
