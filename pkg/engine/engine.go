package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/visionflow/visionflow/pkg/config"
	"github.com/visionflow/visionflow/pkg/graph"
	"github.com/visionflow/visionflow/pkg/stores"
	"github.com/visionflow/visionflow/pkg/telemetry"
)

// Options configures an Engine.
type Options struct {
	// Registry is the compiled node registry.
	Registry *graph.Registry

	// Edges is the compiled routing table.
	Edges *graph.EdgeTable

	// EntryNode is where every session starts.
	EntryNode string

	// Store is the checkpoint store.
	Store stores.Store

	// StoreBackend labels checkpoint metrics (sqlite, redis, memory).
	StoreBackend string

	// Config carries the read-only engine settings, captured at
	// graph-build time.
	Config *config.Config

	// Logger is optional; a no-op logger is used when nil.
	Logger *telemetry.Logger

	// Metrics is optional.
	Metrics *telemetry.Metrics

	// Tracer is optional.
	Tracer *telemetry.Tracer
}

// Engine executes workflow sessions against a compiled graph.
type Engine struct {
	registry *graph.Registry
	edges    *graph.EdgeTable
	entry    string
	store    stores.Store
	backend  string
	cfg      *config.Config
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// New validates the graph configuration and builds an engine. Any defect
// found here is a fatal configuration error; nothing is retried at
// runtime for build-time mistakes.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, graph.NewConfigError(graph.KindFatalConfiguration, "registry is required")
	}
	if opts.Edges == nil {
		return nil, graph.NewConfigError(graph.KindFatalConfiguration, "edge table is required")
	}
	if opts.Store == nil {
		return nil, graph.NewConfigError(graph.KindFatalConfiguration, "checkpoint store is required")
	}
	if opts.Config == nil {
		return nil, graph.NewConfigError(graph.KindFatalConfiguration, "configuration is required")
	}
	if !opts.Registry.Has(opts.EntryNode) {
		return nil, graph.NewConfigError(graph.KindUnknownNode,
			fmt.Sprintf("entry node %q is not registered", opts.EntryNode))
	}
	for name, nc := range opts.Config.Nodes {
		if !opts.Registry.Has(name) {
			return nil, graph.NewConfigError(graph.KindUnknownNode,
				fmt.Sprintf("node settings reference unregistered node %q", name))
		}
		if nc.RecoveryNode != "" && !opts.Registry.Has(nc.RecoveryNode) {
			return nil, graph.NewConfigError(graph.KindUnknownNode,
				fmt.Sprintf("recovery node %q for node %q is not registered", nc.RecoveryNode, name))
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	backend := opts.StoreBackend
	if backend == "" {
		backend = "unknown"
	}

	return &Engine{
		registry: opts.Registry,
		edges:    opts.Edges,
		entry:    opts.EntryNode,
		store:    opts.Store,
		backend:  backend,
		cfg:      opts.Config,
		logger:   logger.NewComponentLogger("engine"),
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}, nil
}

// Graph returns the engine's compiled routing table.
func (e *Engine) Graph() *graph.EdgeTable {
	return e.edges
}

// Run executes a command to its terminal state, blocking until the session
// completes. Expected failures (retry exhaustion, step budget) are part of
// the returned state, not the error; the error is non-nil only for caller
// cancellation.
func (e *Engine) Run(ctx context.Context, command string) (*graph.State, error) {
	return e.RunSession(ctx, graph.Session{
		ID:        uuid.New().String(),
		Command:   command,
		CreatedAt: time.Now().UTC(),
	})
}

// RunSession is Run with a caller-supplied session identity.
func (e *Engine) RunSession(ctx context.Context, sess graph.Session) (*graph.State, error) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	st := graph.NewState(sess, e.entry)
	return e.execute(ctx, st, nil)
}

// Execution is the handle for an asynchronous session.
type Execution struct {
	// SessionID identifies the running session.
	SessionID string

	cancel context.CancelFunc
	done   chan struct{}
	state  *graph.State
	err    error
}

// Done is closed when the session reaches a terminal state or is
// cancelled.
func (x *Execution) Done() <-chan struct{} {
	return x.done
}

// Cancel requests cooperative cancellation. The in-flight node call runs
// to completion or its own timeout before cancellation takes effect.
func (x *Execution) Cancel() {
	x.cancel()
}

// Wait blocks until the session completes or the given context is
// cancelled, then returns the terminal state.
func (x *Execution) Wait(ctx context.Context) (*graph.State, error) {
	select {
	case <-x.done:
		return x.state, x.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunAsync starts a session and returns immediately with a handle. The
// step sequence recorded is identical to a blocking Run.
func (e *Engine) RunAsync(ctx context.Context, command string) *Execution {
	sess := graph.Session{
		ID:        uuid.New().String(),
		Command:   command,
		CreatedAt: time.Now().UTC(),
	}
	execCtx, cancel := context.WithCancel(ctx)
	x := &Execution{
		SessionID: sess.ID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go func() {
		defer cancel()
		st := graph.NewState(sess, e.entry)
		x.state, x.err = e.execute(execCtx, st, nil)
		close(x.done)
	}()
	return x
}

// RunStream starts a session and delivers one StepEvent per completed
// execution step, in step order. The channel closes when the session
// reaches a terminal state or the context is cancelled. Delivery is
// best-effort over a bounded buffer; a slow consumer loses the oldest
// buffered events, never the recorded history.
func (e *Engine) RunStream(ctx context.Context, command string) (*Execution, <-chan StepEvent) {
	sess := graph.Session{
		ID:        uuid.New().String(),
		Command:   command,
		CreatedAt: time.Now().UTC(),
	}
	execCtx, cancel := context.WithCancel(ctx)
	pub := newPublisher(e.cfg.Engine.StreamBufferSize, e.metrics)
	x := &Execution{
		SessionID: sess.ID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go func() {
		defer cancel()
		defer pub.close()
		st := graph.NewState(sess, e.entry)
		x.state, x.err = e.execute(execCtx, st, pub)
		close(x.done)
	}()
	return x, pub.events()
}

// Resume reconstructs a session from its latest checkpoint and continues
// execution to a terminal state. Given deterministic node functions and
// identical collaborator responses, the continued step sequence matches an
// uninterrupted run.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*graph.State, error) {
	cp, err := e.store.Latest(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resume session %s: %w", sessionID, err)
	}
	st := cp.State
	if st.Completed {
		return st, nil
	}

	// Checkpoints are written before routing, so the recorded current
	// node is the node of the last completed step. Re-derive the pending
	// routing decision; predicates are pure, so this reproduces exactly
	// what the interrupted run would have decided.
	if len(st.Steps) > 0 {
		last := st.Steps[len(st.Steps)-1]
		switch last.Status {
		case graph.StepRetried:
			st.CurrentNode = e.recoveryNode(last.Node)
		case graph.StepSucceeded:
			next, routeErr := e.edges.Next(st)
			if routeErr != nil {
				st.MarkFailed(graph.KindOf(routeErr), routeErr.Error())
				return st, nil
			}
			st.CurrentNode = next
		}
	}

	return e.execute(ctx, st, nil)
}

// History returns all checkpoints recorded for a session, ordered by step
// index.
func (e *Engine) History(ctx context.Context, sessionID string) ([]stores.Checkpoint, error) {
	return e.store.History(ctx, sessionID)
}
