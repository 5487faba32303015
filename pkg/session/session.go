// Package session runs one participant through an experiment: intake,
// instructions, optional eye tracker calibration, the trial list, and
// persistence of the results.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cgast/vxcore/internal/config"
	"github.com/cgast/vxcore/internal/logging"
	"github.com/cgast/vxcore/pkg/design"
	"github.com/cgast/vxcore/pkg/events"
	"github.com/cgast/vxcore/pkg/fault"
	"github.com/cgast/vxcore/pkg/geom"
	"github.com/cgast/vxcore/pkg/stimulus"
	"github.com/cgast/vxcore/pkg/trial"
)

// Setup is the experiment-level input of a session.
type Setup struct {
	Experiment   string
	Trials       design.TrialList
	Seed         int64
	Config       config.Config
	Instructions string

	// Participant skips intake when set.
	Participant *Participant
}

// Deps are the collaborators of a session. Trial collaborators are
// passed through to the scheduler.
type Deps struct {
	Stimuli    *stimulus.Controller
	Detector   trial.EnterWaiter
	Prompter   trial.Prompter
	Announcer  Announcer
	Gaze       trial.GazeWaiter
	EyeTracker EyeTracker
	Tracker    trial.Tracker
	Clock      trial.Clock
	Feedback   trial.Feedback
	Samples    SampleLog
	Intake     Intake
	Sink       Sink
	Quitter    Quitter
	Journal    Journal
	Bus        events.Publisher
	Logger     *slog.Logger
}

// State is the live state of one session.
type State struct {
	ID          string
	Experiment  string
	Participant Participant
	Trials      design.TrialList
	Results     *trial.Table
	Config      config.Config
	Seed        int64
	Calibrated  bool
	Validation  *Quality
	Phase       Phase
	Started     time.Time
}

// Snapshot is a copy of the session state for observers on other
// goroutines.
type Snapshot struct {
	ID          string      `json:"id"`
	Experiment  string      `json:"experiment"`
	Participant Participant `json:"participant"`
	Phase       Phase       `json:"phase"`
	Completed   int         `json:"completed"`
	Total       int         `json:"total"`
	Calibrated  bool        `json:"calibrated"`
	Validation  *Quality    `json:"validation,omitempty"`
	Seed        int64       `json:"seed"`
	Started     time.Time   `json:"started"`
}

// Controller drives a session from intake to saved data. A Controller
// runs once.
type Controller struct {
	deps Deps
	log  *slog.Logger

	mu        sync.RWMutex
	state     *State
	setup     Setup
	journaled bool
}

// New creates a Controller with a fresh session id.
func New(setup Setup, deps Deps) *Controller {
	return &Controller{
		deps:  deps,
		log:   logging.OrDiscard(deps.Logger),
		setup: setup,
		state: &State{
			ID:         uuid.NewString(),
			Experiment: setup.Experiment,
			Trials:     setup.Trials,
			Results:    trial.NewTable(setup.Trials.Factors),
			Config:     setup.Config,
			Seed:       setup.Seed,
			Phase:      PhasePreflight,
		},
	}
}

// ID returns the session id.
func (c *Controller) ID() string { return c.state.ID }

// Results returns the result table. It is safe to read concurrently.
func (c *Controller) Results() *trial.Table { return c.state.Results }

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	return Snapshot{
		ID:          s.ID,
		Experiment:  s.Experiment,
		Participant: s.Participant,
		Phase:       s.Phase,
		Completed:   s.Results.Len(),
		Total:       s.Trials.Len(),
		Calibrated:  s.Calibrated,
		Validation:  s.Validation,
		Seed:        s.Seed,
		Started:     s.Started,
	}
}

// Run executes the session. On any error the session is aborted: the
// in-progress trial is dropped, the Sink is not called and the error is
// returned.
func (c *Controller) Run(ctx context.Context) (Record, error) {
	c.update(func(s *State) { s.Started = time.Now() })
	c.log.Info("session starting",
		"session", c.state.ID,
		"experiment", c.state.Experiment,
		"trials", c.state.Trials.Len(),
		"seed", c.state.Seed,
	)

	rec, err := c.run(ctx)
	if err != nil {
		c.abort(err)
		return Record{}, err
	}
	return rec, nil
}

func (c *Controller) run(ctx context.Context) (Record, error) {
	if err := c.preflight(); err != nil {
		return Record{}, err
	}
	c.publish(events.EventSessionStart, c.metadata(StatusRunning, ""))

	if err := c.intake(ctx); err != nil {
		return Record{}, err
	}
	if c.journaling() {
		if err := c.deps.Journal.PutSession(c.metadata(StatusRunning, "")); err != nil {
			return Record{}, fmt.Errorf("journal session: %w", err)
		}
		c.journaled = true
	}

	if err := c.instructions(ctx); err != nil {
		return Record{}, err
	}
	if c.state.Config.UseEyetracker {
		if err := c.calibrate(ctx); err != nil {
			return Record{}, err
		}
	}
	if err := c.finalizeConfig(); err != nil {
		return Record{}, err
	}

	c.setPhase(PhaseTrials)
	sched := trial.NewScheduler(c.state.ID, c.state.Trials, trial.OptionsFromConfig(c.state.Config), c.trialDeps(), c.state.Results)
	if c.journaling() {
		sched.OnResult = func(r trial.Result) error {
			if err := c.deps.Journal.AppendTrial(c.state.ID, r); err != nil {
				return fmt.Errorf("journal trial %d: %w", r.Trial, err)
			}
			c.publish(events.EventJournalWrite, map[string]any{"trial": r.Trial})
			return nil
		}
	}
	if err := sched.Run(ctx); err != nil {
		return Record{}, err
	}

	c.setPhase(PhaseClosing)
	if c.deps.Announcer != nil {
		closing := trial.Prompt{Text: ClosingMessage, Color: c.state.Config.TextColor, Distance: 1.0}
		if err := c.deps.Announcer.Show(ctx, closing, ClosingDuration); err != nil {
			return Record{}, err
		}
	}

	c.setPhase(PhaseSaving)
	meta := c.metadata(StatusComplete, "")
	meta.Finished = time.Now()
	rec := Record{Meta: meta, Results: c.state.Results.Results()}
	if c.deps.Samples != nil {
		rec.Samples = c.deps.Samples.Samples()
	}
	if err := c.deps.Sink.Save(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("save session data: %w", err)
	}
	c.publish(events.EventDataSaved, map[string]any{"trials": len(rec.Results), "samples": len(rec.Samples)})

	if c.journaling() {
		if err := c.deps.Journal.MarkStatus(c.state.ID, StatusComplete, ""); err != nil {
			c.log.Warn("journal status not updated", "error", err)
		}
	}

	if c.deps.Quitter != nil {
		if err := c.deps.Quitter.Quit(ctx); err != nil {
			c.log.Warn("runtime quit failed", "error", err)
		}
	}

	c.setPhase(PhaseDone)
	c.publish(events.EventSessionEnd, map[string]any{"trials": len(rec.Results)})
	c.log.Info("session complete", "session", c.state.ID, "trials", len(rec.Results))
	return rec, nil
}

// preflight rejects a session that could not finish before anything is
// shown to the participant.
func (c *Controller) preflight() error {
	cfg := c.state.Config
	if err := cfg.Err(); err != nil {
		return err
	}
	if c.state.Trials.Len() == 0 {
		return fmt.Errorf("%w: empty trial list", fault.ErrConfig)
	}
	if c.deps.Sink == nil {
		return fmt.Errorf("%w: no data sink", fault.ErrDevice)
	}
	if c.setup.Participant == nil && c.deps.Intake == nil {
		return fmt.Errorf("%w: no participant intake", fault.ErrDevice)
	}
	if cfg.UseEyetracker && (c.deps.EyeTracker == nil || c.deps.Gaze == nil) {
		return fmt.Errorf("%w: use_eyetracker is set but no eye tracker is connected", fault.ErrDevice)
	}
	return trial.NewScheduler(c.state.ID, c.state.Trials, trial.OptionsFromConfig(cfg), c.trialDeps(), c.state.Results).Check()
}

func (c *Controller) intake(ctx context.Context) error {
	c.setPhase(PhaseIntake)
	var p Participant
	if c.setup.Participant != nil {
		p = *c.setup.Participant
	} else {
		var err error
		if p, err = c.deps.Intake.RequestParticipant(ctx); err != nil {
			return fmt.Errorf("participant intake: %w", err)
		}
	}
	c.update(func(s *State) { s.Participant = p })
	c.publish(events.EventParticipant, p)
	c.log.Info("participant", "id", p.ID)
	return nil
}

func (c *Controller) instructions(ctx context.Context) error {
	if c.setup.Instructions == "" {
		return nil
	}
	c.setPhase(PhaseInstructions)
	p := trial.Prompt{Text: c.setup.Instructions, Color: c.state.Config.TextColor, Distance: 1.0}
	if err := c.deps.Prompter.AwaitAcknowledgment(ctx, p); err != nil {
		return err
	}
	c.publish(events.EventInstructions, nil)
	return nil
}

func (c *Controller) calibrate(ctx context.Context) error {
	c.setPhase(PhaseCalibration)
	cfg := c.state.Config

	p := trial.Prompt{Text: CalibrationPrompt, Color: cfg.TextColor, Distance: 1.0}
	if err := c.deps.Prompter.AwaitAcknowledgment(ctx, p); err != nil {
		return err
	}

	if err := c.deps.EyeTracker.Calibrate(ctx); err != nil {
		c.publish(events.EventCalibration, map[string]any{"ok": false, "error": err.Error()})
		return deviceErr("eye tracker calibration", err)
	}
	c.update(func(s *State) { s.Calibrated = true })
	c.publish(events.EventCalibration, map[string]any{"ok": true})

	q, err := c.deps.EyeTracker.Validate(ctx, cfg.ValidationScheme)
	if err != nil {
		return deviceErr("eye tracker validation", err)
	}
	c.update(func(s *State) { s.Validation = &q })
	c.publish(events.EventValidation, q)
	c.log.Info("eye tracker validated", "scheme", q.Scheme, "accuracy_deg", q.Accuracy, "precision_deg", q.Precision)
	return nil
}

// finalizeConfig bakes the participant's eye height into the config.
func (c *Controller) finalizeConfig() error {
	head, err := c.deps.Tracker.CurrentPosition(HeadHandle, geom.FrameGlobal)
	if err != nil {
		return deviceErr("head position", err)
	}
	c.update(func(s *State) { s.Config.EyeHeight = head.Y() })
	c.log.Debug("config finalized", "eyeheight", head.Y())
	return nil
}

func (c *Controller) abort(err error) {
	c.setPhase(PhaseAborted)
	c.log.Error("session aborted", "session", c.state.ID, "error", err)
	c.publish(events.EventSessionAbort, map[string]any{
		"error":     err.Error(),
		"kind":      kindName(err),
		"completed": c.state.Results.Len(),
	})
	if c.journaled {
		if jerr := c.deps.Journal.MarkStatus(c.state.ID, StatusAborted, err.Error()); jerr != nil {
			c.log.Warn("journal status not updated", "error", jerr)
		}
	}
}

func (c *Controller) trialDeps() trial.Deps {
	return trial.Deps{
		Stimuli:  c.deps.Stimuli,
		Detector: c.deps.Detector,
		Prompter: c.deps.Prompter,
		Gaze:     c.deps.Gaze,
		Tracker:  c.deps.Tracker,
		Clock:    c.deps.Clock,
		Feedback: c.deps.Feedback,
		Samples:  c.deps.Samples,
		Bus:      c.deps.Bus,
		Logger:   c.deps.Logger,
	}
}

func (c *Controller) journaling() bool {
	return c.state.Config.AutoSave && c.deps.Journal != nil
}

func (c *Controller) metadata(status Status, reason string) Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	return Metadata{
		ID:          s.ID,
		Experiment:  s.Experiment,
		Participant: s.Participant,
		Config:      s.Config,
		Factors:     s.Trials.Factors,
		TrialCount:  s.Trials.Len(),
		Seed:        s.Seed,
		Calibrated:  s.Calibrated,
		Validation:  s.Validation,
		Status:      status,
		Error:       reason,
		Started:     s.Started,
	}
}

func (c *Controller) setPhase(p Phase) {
	c.update(func(s *State) { s.Phase = p })
	c.log.Debug("session phase", "phase", p)
}

func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.state)
}

func (c *Controller) publish(typ events.EventType, data any) {
	if c.deps.Bus == nil {
		return
	}
	e := events.NewEvent(typ, data)
	e.SessionID = c.state.ID
	c.deps.Bus.Publish(e)
}

func deviceErr(what string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, fault.ErrDevice) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%w: %s: %w", fault.ErrDevice, what, err)
}

func kindName(err error) string {
	if k := fault.Kind(err); k != nil {
		return k.Error()
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}
