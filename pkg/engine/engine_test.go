package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/visionflow/visionflow/pkg/config"
	"github.com/visionflow/visionflow/pkg/graph"
	"github.com/visionflow/visionflow/pkg/stores"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Backend = "memory"
	cfg.Engine.DefaultNodeTimeout = config.Duration(5 * time.Second)
	return cfg
}

type testGraph struct {
	builder *graph.RegistryBuilder
	edges   []graph.Edge
}

func newTestGraph() *testGraph {
	return &testGraph{builder: graph.NewRegistryBuilder()}
}

func (g *testGraph) node(t *testing.T, name string, fn graph.NodeFunc) {
	t.Helper()
	if err := g.builder.Register(name, fn); err != nil {
		t.Fatalf("failed to register node %q: %v", name, err)
	}
}

func (g *testGraph) edge(e graph.Edge) {
	g.edges = append(g.edges, e)
}

func (g *testGraph) engine(t *testing.T, entry string, cfg *config.Config, store stores.Store) *Engine {
	t.Helper()
	reg, err := g.builder.Build()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	table, err := graph.CompileEdges(reg, g.edges)
	if err != nil {
		t.Fatalf("failed to compile edges: %v", err)
	}
	if store == nil {
		store = stores.NewMemoryStore()
	}
	eng, err := New(Options{
		Registry:     reg,
		Edges:        table,
		EntryNode:    entry,
		Store:        store,
		StoreBackend: "memory",
		Config:       cfg,
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return eng
}

// passNode returns a node that records its name in the payload and
// optionally completes the session.
func passNode(name string, complete bool) graph.NodeFunc {
	return func(ctx context.Context, st *graph.State) (*graph.Update, error) {
		u := &graph.Update{Payload: map[string]any{"last": name, "visited": []any{name}}}
		if complete {
			u.Complete = true
			u.Outcome = graph.OutcomeSuccess
		}
		return u, nil
	}
}

// linearEngine builds a three-node pipeline a -> b -> c where c completes.
func linearEngine(t *testing.T, cfg *config.Config, store stores.Store) *Engine {
	t.Helper()
	g := newTestGraph()
	g.node(t, "a", passNode("a", false))
	g.node(t, "b", passNode("b", false))
	g.node(t, "c", passNode("c", true))
	g.edge(graph.Edge{Source: "a", Default: "b"})
	g.edge(graph.Edge{Source: "b", Default: "c"})
	g.edge(graph.Edge{Source: "c", Default: "a"})
	return g.engine(t, "a", cfg, store)
}

// TestRunLinearPipeline tests a straight-line run to a successful
// completion, with one checkpoint per step.
func TestRunLinearPipeline(t *testing.T) {
	store := stores.NewMemoryStore()
	eng := linearEngine(t, testConfig(), store)

	st, err := eng.Run(context.Background(), "open Safari")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if !st.Completed || st.Outcome != graph.OutcomeSuccess {
		t.Fatalf("expected successful completion, got completed=%v outcome=%s", st.Completed, st.Outcome)
	}
	if len(st.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(st.Steps))
	}
	wantNodes := []string{"a", "b", "c"}
	for i, step := range st.Steps {
		if step.Index != i+1 {
			t.Errorf("expected dense index %d, got %d", i+1, step.Index)
		}
		if step.Node != wantNodes[i] {
			t.Errorf("expected node %q at step %d, got %q", wantNodes[i], i+1, step.Node)
		}
		if step.Status != graph.StepSucceeded {
			t.Errorf("expected succeeded status at step %d, got %s", i+1, step.Status)
		}
	}

	visited, _ := st.Payload["visited"].([]any)
	if len(visited) != 3 {
		t.Errorf("expected 3 appended visits, got %v", visited)
	}
	if st.Payload["last"] != "c" {
		t.Errorf("expected last-write-wins 'c', got %v", st.Payload["last"])
	}

	history, err := store.History(context.Background(), st.SessionID)
	if err != nil {
		t.Fatalf("failed to read history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(history))
	}
	for i, cp := range history {
		if cp.StepIndex != i+1 {
			t.Errorf("expected checkpoint index %d, got %d", i+1, cp.StepIndex)
		}
		if len(cp.State.Steps) != i+1 {
			t.Errorf("expected checkpoint %d to hold %d steps, got %d", cp.StepIndex, i+1, len(cp.State.Steps))
		}
	}
}

// flakyNode fails its first n invocations, then succeeds.
type flakyNode struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyNode) fn(complete bool) graph.NodeFunc {
	return func(ctx context.Context, st *graph.State) (*graph.Update, error) {
		f.mu.Lock()
		f.calls++
		call := f.calls
		f.mu.Unlock()
		if call <= f.failures {
			return nil, fmt.Errorf("transient failure %d", call)
		}
		u := &graph.Update{Payload: map[string]any{"analyzed": true}}
		if complete {
			u.Complete = true
			u.Outcome = graph.OutcomeSuccess
		}
		return u, nil
	}
}

// TestRetryWithRecoveryNode tests that a failing node is retried through
// its recovery node and eventually succeeds within its retry budget.
func TestRetryWithRecoveryNode(t *testing.T) {
	cfg := testConfig()
	retries := 3
	cfg.Nodes = map[string]config.NodeConfig{
		"analyze": {MaxRetries: &retries, RecoveryNode: "capture"},
	}

	flaky := &flakyNode{failures: 2}
	g := newTestGraph()
	g.node(t, "capture", passNode("capture", false))
	g.node(t, "analyze", flaky.fn(true))
	g.edge(graph.Edge{Source: "capture", Default: "analyze"})
	g.edge(graph.Edge{Source: "analyze", Default: "capture"})
	eng := g.engine(t, "capture", cfg, nil)

	st, err := eng.Run(context.Background(), "analyze screen")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if !st.Completed || st.Outcome != graph.OutcomeSuccess {
		t.Fatalf("expected success after retries, got completed=%v outcome=%s failure=%s",
			st.Completed, st.Outcome, st.Detail)
	}
	if st.RetryCount("analyze") != 2 {
		t.Errorf("expected 2 recorded retries, got %d", st.RetryCount("analyze"))
	}

	// capture ok, analyze retried, capture ok, analyze retried, capture ok,
	// analyze ok
	wantStatuses := []graph.StepStatus{
		graph.StepSucceeded, graph.StepRetried,
		graph.StepSucceeded, graph.StepRetried,
		graph.StepSucceeded, graph.StepSucceeded,
	}
	if len(st.Steps) != len(wantStatuses) {
		t.Fatalf("expected %d steps, got %d", len(wantStatuses), len(st.Steps))
	}
	for i, step := range st.Steps {
		if step.Index != i+1 {
			t.Errorf("expected dense index %d, got %d", i+1, step.Index)
		}
		if step.Status != wantStatuses[i] {
			t.Errorf("step %d: expected status %s, got %s", i+1, wantStatuses[i], step.Status)
		}
	}
	for _, step := range st.Steps {
		if step.Status == graph.StepRetried && step.Error == nil {
			t.Error("retried step is missing its error record")
		}
	}
}

// TestRetryExhaustion tests that exceeding a node's cumulative retry
// budget fails the session with max_retries_exceeded.
func TestRetryExhaustion(t *testing.T) {
	cfg := testConfig()
	retries := 1
	cfg.Nodes = map[string]config.NodeConfig{"broken": {MaxRetries: &retries}}

	g := newTestGraph()
	g.node(t, "broken", func(ctx context.Context, st *graph.State) (*graph.Update, error) {
		return nil, errors.New("always fails")
	})
	g.edge(graph.Edge{Source: "broken", Default: "broken"})
	eng := g.engine(t, "broken", cfg, nil)

	st, err := eng.Run(context.Background(), "doomed")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if !st.Completed || st.Outcome != graph.OutcomeFailure {
		t.Fatalf("expected failure, got completed=%v outcome=%s", st.Completed, st.Outcome)
	}
	if st.FailureKind != graph.KindMaxRetriesExceeded {
		t.Errorf("expected max_retries_exceeded, got %s", st.FailureKind)
	}
	if !strings.Contains(st.Detail, "exceeded max retries (1)") {
		t.Errorf("expected exhaustion diagnostic in terminal detail, got %q", st.Detail)
	}
	// One retried step within budget, then the exhausting failure.
	if len(st.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(st.Steps))
	}
	if st.Steps[0].Status != graph.StepRetried || st.Steps[1].Status != graph.StepFailed {
		t.Errorf("expected [retried failed], got [%s %s]", st.Steps[0].Status, st.Steps[1].Status)
	}
}

// TestStepBudget tests that a cyclic graph terminates at exactly the step
// budget with a terminal checkpoint.
func TestStepBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.StepBudget = 5

	store := stores.NewMemoryStore()
	g := newTestGraph()
	g.node(t, "ping", passNode("ping", false))
	g.node(t, "pong", passNode("pong", false))
	g.edge(graph.Edge{Source: "ping", Default: "pong"})
	g.edge(graph.Edge{Source: "pong", Default: "ping"})
	eng := g.engine(t, "ping", cfg, store)

	st, err := eng.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if len(st.Steps) != 5 {
		t.Fatalf("expected exactly 5 steps, got %d", len(st.Steps))
	}
	if !st.Completed || st.Outcome != graph.OutcomeFailure {
		t.Fatalf("expected failure, got completed=%v outcome=%s", st.Completed, st.Outcome)
	}
	if st.FailureKind != graph.KindStepBudgetExceeded {
		t.Errorf("expected step_budget_exceeded, got %s", st.FailureKind)
	}
	if !strings.Contains(st.Detail, "step budget 5 reached") {
		t.Errorf("expected budget diagnostic in terminal detail, got %q", st.Detail)
	}

	// The verdict is durable: a terminal marker checkpoint follows the five
	// step checkpoints.
	latest, err := store.Latest(context.Background(), st.SessionID)
	if err != nil {
		t.Fatalf("failed to read latest checkpoint: %v", err)
	}
	if latest.StepIndex != 6 {
		t.Errorf("expected terminal checkpoint at index 6, got %d", latest.StepIndex)
	}
	if !latest.State.Completed || latest.State.FailureKind != graph.KindStepBudgetExceeded {
		t.Error("terminal checkpoint does not record the budget verdict")
	}
}

// TestNodeTimeout tests that a node exceeding its timeout is treated as a
// retryable failure.
func TestNodeTimeout(t *testing.T) {
	cfg := testConfig()
	retries := 0
	cfg.Nodes = map[string]config.NodeConfig{
		"slow": {MaxRetries: &retries, Timeout: config.Duration(30 * time.Millisecond)},
	}

	g := newTestGraph()
	g.node(t, "slow", func(ctx context.Context, st *graph.State) (*graph.Update, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g.edge(graph.Edge{Source: "slow", Default: "slow"})
	eng := g.engine(t, "slow", cfg, nil)

	st, err := eng.Run(context.Background(), "hang")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if st.FailureKind != graph.KindMaxRetriesExceeded {
		t.Errorf("expected max_retries_exceeded, got %s", st.FailureKind)
	}
	if len(st.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(st.Steps))
	}
	if st.Steps[0].Error == nil || st.Steps[0].Error.Kind != graph.KindNodeTimeout {
		t.Errorf("expected node_timeout step error, got %+v", st.Steps[0].Error)
	}
}

// TestNodePanicRecovered tests that a panicking node is handled as a
// retryable failure, not a crash.
func TestNodePanicRecovered(t *testing.T) {
	cfg := testConfig()
	retries := 0
	cfg.Nodes = map[string]config.NodeConfig{"panicky": {MaxRetries: &retries}}

	g := newTestGraph()
	g.node(t, "panicky", func(ctx context.Context, st *graph.State) (*graph.Update, error) {
		panic("boom")
	})
	g.edge(graph.Edge{Source: "panicky", Default: "panicky"})
	eng := g.engine(t, "panicky", cfg, nil)

	st, err := eng.Run(context.Background(), "panic")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if st.FailureKind != graph.KindMaxRetriesExceeded {
		t.Errorf("expected max_retries_exceeded, got %s", st.FailureKind)
	}
	if st.Steps[0].Error == nil || st.Steps[0].Error.Kind != graph.KindNodeExecution {
		t.Errorf("expected node_execution step error, got %+v", st.Steps[0].Error)
	}
}

// TestCancellationBetweenSteps tests cooperative cancellation: the session
// stops between steps and the recorded history stays intact.
func TestCancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	g := newTestGraph()
	g.node(t, "a", func(nodeCtx context.Context, st *graph.State) (*graph.Update, error) {
		if st.NextStepIndex() == 2 {
			cancel()
		}
		return &graph.Update{Payload: map[string]any{"visited": []any{"a"}}}, nil
	})
	g.edge(graph.Edge{Source: "a", Default: "a"})
	eng := g.engine(t, "a", testConfig(), nil)

	st, err := eng.Run(ctx, "cancel me")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if st.Completed {
		t.Error("cancelled session must not be marked completed")
	}
	// The in-flight step finishes and is recorded before cancellation takes
	// effect.
	if len(st.Steps) != 2 {
		t.Errorf("expected 2 recorded steps, got %d", len(st.Steps))
	}
}

// TestRunSessionReuse tests the caller-supplied session identity.
func TestRunSessionReuse(t *testing.T) {
	eng := linearEngine(t, testConfig(), nil)

	st, err := eng.RunSession(context.Background(), graph.Session{ID: "fixed-id", Command: "open Safari"})
	if err != nil {
		t.Fatalf("RunSession() returned error: %v", err)
	}
	if st.SessionID != "fixed-id" {
		t.Errorf("expected session id 'fixed-id', got %q", st.SessionID)
	}
}

// TestResumeContinuesInterruptedSession tests that resuming from the
// latest checkpoint reproduces the uninterrupted step sequence.
func TestResumeContinuesInterruptedSession(t *testing.T) {
	store := stores.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	build := func(st stores.Store) *Engine {
		g := newTestGraph()
		g.node(t, "a", passNode("a", false))
		g.node(t, "b", func(nodeCtx context.Context, s *graph.State) (*graph.Update, error) {
			if s.NextStepIndex() == 2 {
				cancel()
			}
			return &graph.Update{Payload: map[string]any{"visited": []any{"b"}}}, nil
		})
		g.node(t, "c", passNode("c", true))
		g.edge(graph.Edge{Source: "a", Default: "b"})
		g.edge(graph.Edge{Source: "b", Default: "c"})
		g.edge(graph.Edge{Source: "c", Default: "a"})
		return g.engine(t, "a", testConfig(), st)
	}

	eng := build(store)
	st, err := eng.RunSession(ctx, graph.Session{ID: "resume-1", Command: "open Safari"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected interruption, got %v", err)
	}
	if len(st.Steps) != 2 {
		t.Fatalf("expected 2 steps before interruption, got %d", len(st.Steps))
	}

	// A fresh engine over the same store picks up where the first left off.
	resumed, err := build(store).Resume(context.Background(), "resume-1")
	if err != nil {
		t.Fatalf("Resume() returned error: %v", err)
	}
	if !resumed.Completed || resumed.Outcome != graph.OutcomeSuccess {
		t.Fatalf("expected resumed session to complete, got completed=%v outcome=%s",
			resumed.Completed, resumed.Outcome)
	}
	wantNodes := []string{"a", "b", "c"}
	if len(resumed.Steps) != len(wantNodes) {
		t.Fatalf("expected %d steps total, got %d", len(wantNodes), len(resumed.Steps))
	}
	for i, step := range resumed.Steps {
		if step.Index != i+1 || step.Node != wantNodes[i] {
			t.Errorf("step %d: expected node %q, got index=%d node=%q", i+1, wantNodes[i], step.Index, step.Node)
		}
	}

	// Resuming a completed session returns it unchanged.
	again, err := build(store).Resume(context.Background(), "resume-1")
	if err != nil {
		t.Fatalf("Resume() of completed session returned error: %v", err)
	}
	if !again.Completed || len(again.Steps) != 3 {
		t.Errorf("expected completed session as-is, got completed=%v steps=%d", again.Completed, len(again.Steps))
	}
}

// TestResumeUnknownSession tests that resuming a session with no
// checkpoints fails.
func TestResumeUnknownSession(t *testing.T) {
	eng := linearEngine(t, testConfig(), nil)

	_, err := eng.Resume(context.Background(), "missing")
	if !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestRunAsync tests the handle-based execution mode.
func TestRunAsync(t *testing.T) {
	eng := linearEngine(t, testConfig(), nil)

	x := eng.RunAsync(context.Background(), "open Safari")
	if x.SessionID == "" {
		t.Fatal("expected a session id")
	}

	st, err := x.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}
	if !st.Completed || len(st.Steps) != 3 {
		t.Errorf("expected completed 3-step session, got completed=%v steps=%d", st.Completed, len(st.Steps))
	}

	select {
	case <-x.Done():
	default:
		t.Error("expected Done() to be closed after Wait()")
	}
}

// TestRunStreamParity tests that the streamed events mirror the recorded
// step sequence exactly.
func TestRunStreamParity(t *testing.T) {
	eng := linearEngine(t, testConfig(), nil)

	x, events := eng.RunStream(context.Background(), "open Safari")
	var got []StepEvent
	for ev := range events {
		got = append(got, ev)
	}

	st, err := x.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}

	if len(got) != len(st.Steps) {
		t.Fatalf("expected %d events, got %d", len(st.Steps), len(got))
	}
	for i, ev := range got {
		step := st.Steps[i]
		if ev.StepIndex != step.Index || ev.Node != step.Node || ev.Status != step.Status {
			t.Errorf("event %d diverges from recorded step: event=%+v step=%+v", i, ev, step)
		}
		if ev.SessionID != st.SessionID {
			t.Errorf("event %d has session %q, want %q", i, ev.SessionID, st.SessionID)
		}
	}
}

// failingStore wraps a store and fails Put after a threshold.
type failingStore struct {
	stores.Store
	mu        sync.Mutex
	writes    int
	failAfter int
}

func (f *failingStore) Put(ctx context.Context, sessionID string, stepIndex int, snapshot *graph.State) error {
	f.mu.Lock()
	f.writes++
	w := f.writes
	f.mu.Unlock()
	if w > f.failAfter {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, sessionID, stepIndex, snapshot)
}

// TestCheckpointFailureEscalates tests that a failed checkpoint write
// terminates the session when durability is required.
func TestCheckpointFailureEscalates(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.RequireDurableCheckpoints = true

	store := &failingStore{Store: stores.NewMemoryStore(), failAfter: 1}
	eng := linearEngine(t, cfg, store)

	st, err := eng.Run(context.Background(), "open Safari")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if !st.Completed || st.FailureKind != graph.KindCheckpointWrite {
		t.Errorf("expected checkpoint_write failure, got completed=%v kind=%s", st.Completed, st.FailureKind)
	}
	if len(st.Steps) != 2 {
		t.Errorf("expected 2 steps (second checkpoint failed), got %d", len(st.Steps))
	}
}

// TestCheckpointFailureTolerated tests that without required durability a
// failed write is only a resumability gap.
func TestCheckpointFailureTolerated(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.RequireDurableCheckpoints = false

	store := &failingStore{Store: stores.NewMemoryStore(), failAfter: 1}
	eng := linearEngine(t, cfg, store)

	st, err := eng.Run(context.Background(), "open Safari")
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if !st.Completed || st.Outcome != graph.OutcomeSuccess {
		t.Errorf("expected success despite checkpoint gap, got outcome=%s kind=%s", st.Outcome, st.FailureKind)
	}
	if len(st.Steps) != 3 {
		t.Errorf("expected all 3 steps, got %d", len(st.Steps))
	}
}

// TestNewValidation tests engine construction defects.
func TestNewValidation(t *testing.T) {
	g := newTestGraph()
	g.node(t, "a", passNode("a", true))
	g.edge(graph.Edge{Source: "a", Default: "a"})
	reg, err := g.builder.Build()
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	table, err := graph.CompileEdges(reg, g.edges)
	if err != nil {
		t.Fatalf("failed to compile edges: %v", err)
	}
	cfg := testConfig()

	if _, err := New(Options{Edges: table, EntryNode: "a", Store: stores.NewMemoryStore(), Config: cfg}); err == nil {
		t.Error("expected missing registry to fail")
	}
	if _, err := New(Options{Registry: reg, Edges: table, EntryNode: "missing", Store: stores.NewMemoryStore(), Config: cfg}); err == nil {
		t.Error("expected unknown entry node to fail")
	}

	bad := testConfig()
	bad.Nodes = map[string]config.NodeConfig{"ghost": {}}
	if _, err := New(Options{Registry: reg, Edges: table, EntryNode: "a", Store: stores.NewMemoryStore(), Config: bad}); err == nil {
		t.Error("expected node settings for unregistered node to fail")
	}

	bad2 := testConfig()
	bad2.Nodes = map[string]config.NodeConfig{"a": {RecoveryNode: "ghost"}}
	if _, err := New(Options{Registry: reg, Edges: table, EntryNode: "a", Store: stores.NewMemoryStore(), Config: bad2}); err == nil {
		t.Error("expected unregistered recovery node to fail")
	}
}
