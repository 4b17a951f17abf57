package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SimulatedVision interprets commands with keyword heuristics and invents
// plausible screen analyses. It stands in for a vision-language model in
// demos and tests.
type SimulatedVision struct {
	// FailScreenAnalyses makes the first N AnalyzeScreen calls return an
	// error, for exercising the retry policy.
	FailScreenAnalyses int

	mu          sync.Mutex
	screenCalls int
}

func (v *SimulatedVision) AnalyzeCommand(ctx context.Context, command string) (*CommandAnalysis, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(command)))
	if len(fields) < 2 {
		return &CommandAnalysis{TaskType: "unknown", Intent: command}, nil
	}
	verb := fields[0]
	target := strings.Join(fields[1:], " ")

	var action Action
	var taskType string
	switch verb {
	case "open":
		taskType = "open_app"
		action = Action{Kind: "open_app", Target: target}
	case "close":
		taskType = "close_app"
		action = Action{Kind: "close_app", Target: target}
	case "click":
		taskType = "click"
		action = Action{Kind: "click", Target: target}
	case "type":
		taskType = "type"
		action = Action{Kind: "type", Target: "focused field", Text: strings.Join(fields[1:], " ")}
	case "scroll":
		taskType = "scroll"
		action = Action{Kind: "scroll", Target: target}
	default:
		return &CommandAnalysis{TaskType: "unknown", Intent: command}, nil
	}

	return &CommandAnalysis{
		TaskType: taskType,
		Intent:   command,
		Plan: []PlanStep{
			{Description: fmt.Sprintf("%s %s", verb, target), Action: action},
		},
	}, nil
}

func (v *SimulatedVision) AnalyzeScreen(ctx context.Context, shot Screenshot, intent string) (*ScreenAnalysis, error) {
	v.mu.Lock()
	v.screenCalls++
	call := v.screenCalls
	v.mu.Unlock()

	if call <= v.FailScreenAnalyses {
		return nil, fmt.Errorf("simulated vision backend unavailable (call %d)", call)
	}

	target := UIElement{Label: intent, Kind: "button", X: 640, Y: 400, Confidence: 0.97}
	return &ScreenAnalysis{
		Summary:        fmt.Sprintf("desktop with one element matching %q", intent),
		Elements:       []UIElement{target, {Label: "Dock", Kind: "menu", X: 640, Y: 780, Confidence: 0.99}},
		TargetElements: []UIElement{target},
	}, nil
}

// SimulatedScreen fabricates screenshot paths without touching the display.
type SimulatedScreen struct {
	// FailCaptures makes the first N Capture calls return an error.
	FailCaptures int

	mu    sync.Mutex
	calls int
}

func (s *SimulatedScreen) Capture(ctx context.Context) (*Screenshot, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if call <= s.FailCaptures {
		return nil, fmt.Errorf("simulated capture device busy (call %d)", call)
	}
	return &Screenshot{
		Path:       fmt.Sprintf("/tmp/visionflow-shot-%04d.png", call),
		Width:      1280,
		Height:     800,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// SimulatedActions acknowledges every action without performing it.
type SimulatedActions struct {
	// FailPerforms makes the first N Perform calls return an error.
	FailPerforms int

	// RejectPerforms makes the first N (non-erroring) Perform calls report
	// Success=false, exercising the payload-level error path.
	RejectPerforms int

	mu    sync.Mutex
	calls int
}

func (a *SimulatedActions) Perform(ctx context.Context, action Action) (*ActionResult, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.mu.Unlock()

	if call <= a.FailPerforms {
		return nil, fmt.Errorf("simulated input device error (call %d)", call)
	}
	if call <= a.FailPerforms+a.RejectPerforms {
		return &ActionResult{
			Action:  action,
			Success: false,
			Detail:  fmt.Sprintf("target %q not reachable", action.Target),
		}, nil
	}
	return &ActionResult{Action: action, Success: true}, nil
}

// SimulatedServices bundles fresh simulated collaborators.
func SimulatedServices() Services {
	return Services{
		Vision: &SimulatedVision{},
		Screen: &SimulatedScreen{},
		Action: &SimulatedActions{},
	}
}
