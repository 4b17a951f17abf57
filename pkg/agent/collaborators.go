package agent

import (
	"context"
	"time"
)

// PlanStep is one step of an execution plan produced by command analysis.
type PlanStep struct {
	// Description is a human-readable description of the step.
	Description string `json:"description"`

	// Action is the action to perform for this step.
	Action Action `json:"action"`
}

// CommandAnalysis is the structured interpretation of a user command.
type CommandAnalysis struct {
	// TaskType categorizes the command (click, type, scroll, open_app,
	// close_app, analyze, unknown).
	TaskType string `json:"task_type"`

	// Intent is the detailed task intent.
	Intent string `json:"intent"`

	// Plan is the ordered execution plan.
	Plan []PlanStep `json:"plan"`
}

// Screenshot is one captured screen image.
type Screenshot struct {
	// Path is where the image was written.
	Path string `json:"path"`

	// Width and Height are the image dimensions in pixels.
	Width  int `json:"width"`
	Height int `json:"height"`

	// CapturedAt is when the capture happened.
	CapturedAt time.Time `json:"captured_at"`
}

// UIElement is one detected interface element.
type UIElement struct {
	// Label is the element's visible text or accessibility label.
	Label string `json:"label"`

	// Kind is the element type (button, field, menu, window).
	Kind string `json:"kind"`

	// X and Y are the element center in screen coordinates.
	X int `json:"x"`
	Y int `json:"y"`

	// Confidence is the detection confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// ScreenAnalysis is the result of analyzing a screenshot against a task
// intent.
type ScreenAnalysis struct {
	// Summary describes the visible screen content.
	Summary string `json:"summary"`

	// Elements are all detected interface elements.
	Elements []UIElement `json:"elements"`

	// TargetElements are the elements relevant to the task intent.
	TargetElements []UIElement `json:"target_elements"`
}

// Action is one concrete interaction with the screen.
type Action struct {
	// Kind is the action type (click, type, scroll, open_app, close_app).
	Kind string `json:"kind"`

	// Target describes the element or application the action addresses.
	Target string `json:"target"`

	// Text is the text to enter for type actions.
	Text string `json:"text,omitempty"`
}

// ActionResult records the outcome of one performed action.
type ActionResult struct {
	// Action is the action that was performed.
	Action Action `json:"action"`

	// Success reports whether the action took effect.
	Success bool `json:"success"`

	// Detail carries diagnostic detail, set on failure.
	Detail string `json:"detail,omitempty"`
}

// VisionService interprets commands and screenshots. Implementations
// typically wrap a vision-language model.
type VisionService interface {
	// AnalyzeCommand interprets a user command into a typed task and an
	// execution plan.
	AnalyzeCommand(ctx context.Context, command string) (*CommandAnalysis, error)

	// AnalyzeScreen locates the elements relevant to an intent on a
	// captured screenshot.
	AnalyzeScreen(ctx context.Context, shot Screenshot, intent string) (*ScreenAnalysis, error)
}

// ScreenService captures the screen.
type ScreenService interface {
	Capture(ctx context.Context) (*Screenshot, error)
}

// ActionService performs actions against the screen.
type ActionService interface {
	Perform(ctx context.Context, action Action) (*ActionResult, error)
}

// Services bundles the collaborators the workflow nodes depend on.
type Services struct {
	Vision VisionService
	Screen ScreenService
	Action ActionService
}
