package engine

import (
	"github.com/visionflow/visionflow/pkg/graph"
	"github.com/visionflow/visionflow/pkg/telemetry"
)

// StepEvent describes one completed execution step, delivered in step
// order over a RunStream channel.
type StepEvent struct {
	// SessionID identifies the session.
	SessionID string

	// StepIndex is the 1-based position of the step.
	StepIndex int

	// Node is the node that was invoked.
	Node string

	// Status records how the step ended.
	Status graph.StepStatus

	// ResultDelta is the update the node returned; nil for retried and
	// failed steps.
	ResultDelta *graph.Update

	// Error is set for retried and failed steps.
	Error *graph.StepError
}

// stepEvent builds the event for a recorded step.
func stepEvent(sessionID string, step graph.ExecutionStep) StepEvent {
	return StepEvent{
		SessionID:   sessionID,
		StepIndex:   step.Index,
		Node:        step.Node,
		Status:      step.Status,
		ResultDelta: step.Update,
		Error:       step.Error,
	}
}

// publisher delivers step events over a bounded buffer. Execution never
// blocks on a slow consumer; when the buffer is full the oldest buffered
// event is dropped to make room for the newest.
type publisher struct {
	ch      chan StepEvent
	metrics *telemetry.Metrics
}

func newPublisher(size int, metrics *telemetry.Metrics) *publisher {
	if size <= 0 {
		size = 64
	}
	return &publisher{
		ch:      make(chan StepEvent, size),
		metrics: metrics,
	}
}

// publish enqueues an event, evicting the oldest buffered event when the
// buffer is full. A nil publisher discards silently; the non-streaming
// modes pass nil.
func (p *publisher) publish(ev StepEvent) {
	if p == nil {
		return
	}
	for {
		select {
		case p.ch <- ev:
			return
		default:
		}
		select {
		case <-p.ch:
			p.metrics.RecordStreamEventDropped()
		default:
		}
	}
}

func (p *publisher) events() <-chan StepEvent {
	return p.ch
}

// close signals end of stream. The engine is the only sender, so closing
// after execute returns is safe.
func (p *publisher) close() {
	close(p.ch)
}
