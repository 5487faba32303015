package trial

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cgast/vxcore/internal/logging"
	"github.com/cgast/vxcore/pkg/classify"
	"github.com/cgast/vxcore/pkg/design"
	"github.com/cgast/vxcore/pkg/events"
	"github.com/cgast/vxcore/pkg/fault"
	"github.com/cgast/vxcore/pkg/geom"
	"github.com/cgast/vxcore/pkg/proximity"
)

// State is a step of the per-trial state machine.
type State string

const (
	PretrialSetup  State = "PRETRIAL_SETUP"
	WaitFixation   State = "WAIT_FIXATION"
	FixationHeld   State = "FIXATION_HELD"
	CueShown       State = "CUE_SHOWN"
	WaitGo         State = "WAIT_GO"
	ResponseWindow State = "RESPONSE_WINDOW"
	Responded      State = "RESPONDED"
	Scored         State = "SCORED"
	Done           State = "DONE"
)

var nextState = map[State]State{
	PretrialSetup:  WaitFixation,
	WaitFixation:   FixationHeld,
	FixationHeld:   CueShown,
	CueShown:       WaitGo,
	WaitGo:         ResponseWindow,
	ResponseWindow: Responded,
	Responded:      Scored,
	Scored:         Done,
}

// Machine runs a single trial. Each Step performs the work of the
// current state and moves to the next one; the work of a state either
// completes or fails as a whole.
type Machine struct {
	number    int
	spec      design.TrialSpec
	cond      classify.Condition
	feedback  *bool
	opts      Options
	deps      Deps
	sessionID string
	log       *slog.Logger

	state  State
	result Result
	enter  proximity.Observation
	commit func(Result) error
}

// NewMachine prepares trial number n (1-based). commit receives the
// frozen result during SCORED and may be nil.
func NewMachine(n int, spec design.TrialSpec, opts Options, deps Deps, commit func(Result) error) (*Machine, error) {
	cond, err := classify.ConditionFromSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("trial %d: %w", n, err)
	}
	var fb *bool
	if on, ok, err := classify.Flag(spec, "feedback"); err != nil {
		return nil, fmt.Errorf("trial %d: %w", n, err)
	} else if ok {
		fb = &on
	}

	return &Machine{
		number:   n,
		spec:     spec,
		cond:     cond,
		feedback: fb,
		opts:     opts,
		deps:     deps,
		log:      logging.OrDiscard(deps.Logger).With("trial", n),
		state:    PretrialSetup,
		commit:   commit,
	}, nil
}

// State returns the state the next Step will execute.
func (m *Machine) State() State { return m.state }

// Result returns the record built so far. After Done it is the frozen result.
func (m *Machine) Result() Result { return m.result }

// Run steps until the trial is done.
func (m *Machine) Run(ctx context.Context) error {
	for m.state != Done {
		if err := m.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Step executes the current state and advances.
func (m *Machine) Step(ctx context.Context) error {
	if m.state == Done {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := m.state
	m.publish(events.EventTrialState, map[string]any{"state": string(from)})
	m.log.Debug("trial state", "state", from, "t_ms", m.now())

	var err error
	switch from {
	case PretrialSetup:
		err = m.pretrialSetup(ctx)
	case WaitFixation:
		err = m.waitFixation(ctx)
	case FixationHeld:
		err = m.deps.Clock.Sleep(ctx, m.opts.FixDelay)
	case CueShown:
		err = m.showCue()
	case WaitGo:
		err = m.deps.Clock.Sleep(ctx, m.opts.GoDelay)
	case ResponseWindow:
		err = m.responseWindow(ctx)
	case Responded:
		err = m.responded()
	case Scored:
		err = m.score()
	}
	if err != nil {
		return fmt.Errorf("trial %d %s: %w", m.number, from, err)
	}

	m.state = nextState[from]
	return nil
}

func (m *Machine) pretrialSetup(ctx context.Context) error {
	m.result = Result{
		Trial:      m.number,
		Repetition: m.spec.Repetition(),
		Params:     m.spec.Params(),
	}
	if m.deps.Samples != nil {
		m.deps.Samples.BeginTrial(m.number)
	}

	if err := m.deps.Stimuli.HideAll(); err != nil {
		return err
	}
	prompt := Prompt{Text: m.opts.TrialPrompt, Color: m.opts.TextColor, Distance: 1.0}
	if err := m.deps.Prompter.AwaitAcknowledgment(ctx, prompt); err != nil {
		return err
	}
	m.result.StartTime = m.now()

	if m.feedback != nil {
		if m.deps.Feedback == nil {
			return fmt.Errorf("%w: no controller feedback collaborator", fault.ErrDevice)
		}
		if err := m.deps.Feedback.SetControllerVisible(*m.feedback); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) waitFixation(ctx context.Context) error {
	pos := m.opts.FixationPos()
	white := geom.White
	if err := m.deps.Stimuli.ShowOnly("fix", &pos, &white); err != nil {
		return err
	}
	if m.opts.UseEyetracker {
		if err := m.deps.Gaze.AwaitGazeNear(ctx, pos, m.opts.GazeTolerance); err != nil {
			return err
		}
	}
	m.result.FixOnsetTime = m.now()
	return nil
}

func (m *Machine) showCue() error {
	right := m.cond.Target == classify.Right
	pos := m.opts.TargetPos(right)
	if err := m.deps.Stimuli.Show(string(m.cond.Target), &pos, nil); err != nil {
		return err
	}
	color := m.opts.AntiColor
	if m.cond.Pro {
		color = m.opts.ProColor
	}
	return m.deps.Stimuli.SetColor("fix", color)
}

// responseWindow arms the detector before the go signal so that an
// enter during the hide notifications is not missed.
func (m *Machine) responseWindow(ctx context.Context) error {
	m.result.GoTime = m.now()
	w := m.deps.Detector.Arm()
	defer w.Cancel()
	if err := m.deps.Stimuli.HideAll(); err != nil {
		return err
	}
	enter, err := w.Wait(ctx)
	if err != nil {
		return err
	}
	m.enter = enter
	return nil
}

// responded takes reach time and hit position from the entering tick.
func (m *Machine) responded() error {
	m.result.ReachTime = millis(m.enter.At)
	pos := m.enter.Pos
	if !m.enter.HasPos {
		var err error
		if pos, err = m.deps.Tracker.CurrentPosition(m.opts.Controller, geom.FrameGlobal); err != nil {
			return fmt.Errorf("%w: sample controller: %w", fault.ErrDevice, err)
		}
	}
	m.result.Hit = pos
	m.result.RT = m.result.ReachTime - m.result.GoTime
	return nil
}

func (m *Machine) score() error {
	v := classify.Classify(m.cond, m.result.Hit)
	m.result.Hemifield = v.Hemifield
	m.result.Correct = v.Correct

	frozen := m.result
	frozen.Params = m.spec.Params()
	if m.commit != nil {
		if err := m.commit(frozen); err != nil {
			return err
		}
	}
	if m.deps.Samples != nil {
		m.deps.Samples.EndTrial()
	}
	m.log.Info("trial scored",
		"hemifield", v.Hemifield,
		"correct", v.Correct,
		"rt_ms", frozen.RT,
	)
	return nil
}

func (m *Machine) now() float64 {
	return millis(m.deps.Clock.Now())
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (m *Machine) publish(typ events.EventType, data any) {
	if m.deps.Bus == nil {
		return
	}
	m.deps.Bus.Publish(events.NewEvent(typ, data).ForTrial(m.sessionID, m.number))
}
