package trial

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/cgast/vxcore/internal/config"
	"github.com/cgast/vxcore/pkg/events"
	"github.com/cgast/vxcore/pkg/geom"
	"github.com/cgast/vxcore/pkg/proximity"
	"github.com/cgast/vxcore/pkg/stimulus"
)

// Prompt is a text message shown in front of the participant.
type Prompt struct {
	Text     string     `json:"text"`
	Color    geom.Color `json:"color"`
	Distance float64    `json:"distance"` // meters in front of the viewer
}

// Prompter shows a prompt and blocks until the participant acknowledges it.
type Prompter interface {
	AwaitAcknowledgment(ctx context.Context, p Prompt) error
}

// GazeWaiter blocks until gaze is within tolerance degrees of target.
type GazeWaiter interface {
	AwaitGazeNear(ctx context.Context, target geom.Vec3, tolerance float64) error
}

// Tracker samples a tracked object, e.g. the hand controller.
type Tracker interface {
	CurrentPosition(h stimulus.Handle, frame geom.Frame) (geom.Vec3, error)
}

// Clock is the session clock. Sleep returns once Now has advanced by d,
// or with ctx.Err().
type Clock interface {
	Now() time.Duration
	Sleep(ctx context.Context, d time.Duration) error
}

// EnterWaiter is the awaitable side of a proximity detector. Arm
// registers for the next enter; the waiter reports the entering tick.
type EnterWaiter interface {
	Arm() *proximity.Waiter
}

// Feedback toggles the rendered controller model.
type Feedback interface {
	SetControllerVisible(visible bool) error
}

// SampleTagger tags the per-frame tracking log with the running trial.
type SampleTagger interface {
	BeginTrial(n int)
	EndTrial()
}

// Deps are the collaborators a trial runs against. Gaze is only
// required when eye tracking is enabled and Feedback only when trials
// carry a feedback factor. Samples may be nil.
type Deps struct {
	Stimuli  *stimulus.Controller
	Detector EnterWaiter
	Prompter Prompter
	Gaze     GazeWaiter
	Tracker  Tracker
	Clock    Clock
	Feedback Feedback
	Samples  SampleTagger
	Bus      events.Publisher
	Logger   *slog.Logger
}

// DefaultTrialPrompt is shown before every trial.
const DefaultTrialPrompt = "Blue - towards, red - opposite\nPress trigger to start trial!"

// Options are the per-trial parameters taken from the experiment config.
type Options struct {
	FixDelay      time.Duration
	GoDelay       time.Duration
	EyeHeight     float64
	TarDist       float64
	TargetOffset  float64
	ProColor      geom.Color
	AntiColor     geom.Color
	TextColor     geom.Color
	UseEyetracker bool
	GazeTolerance float64
	Controller    stimulus.Handle
	TrialPrompt   string
}

// ControllerHandle names the tracked hand controller with the given index.
func ControllerHandle(index int) stimulus.Handle {
	return stimulus.Handle("controller/" + strconv.Itoa(index))
}

// OptionsFromConfig derives Options from a finalized config; EyeHeight
// must already be set.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		FixDelay:      cfg.FixDelayDuration(),
		GoDelay:       cfg.GoDelayDuration(),
		EyeHeight:     cfg.EyeHeight,
		TarDist:       cfg.TarDist,
		TargetOffset:  cfg.TargetOffset,
		ProColor:      cfg.ProColor,
		AntiColor:     cfg.AntiColor,
		TextColor:     cfg.TextColor,
		UseEyetracker: cfg.UseEyetracker,
		GazeTolerance: cfg.GazeTolerance,
		Controller:    ControllerHandle(cfg.Controller),
		TrialPrompt:   DefaultTrialPrompt,
	}
}

// FixationPos is where the fixation stimulus appears.
func (o Options) FixationPos() geom.Vec3 {
	return geom.V(0, o.EyeHeight, o.TarDist)
}

// TargetPos is where the cue for side appears.
func (o Options) TargetPos(right bool) geom.Vec3 {
	x := -o.TargetOffset
	if right {
		x = o.TargetOffset
	}
	return geom.V(x, o.EyeHeight, o.TarDist)
}
