package trial

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cgast/vxcore/internal/logging"
	"github.com/cgast/vxcore/pkg/design"
	"github.com/cgast/vxcore/pkg/events"
	"github.com/cgast/vxcore/pkg/fault"
)

// RequiredStimuli are the keys the trial logic references.
var RequiredStimuli = []string{"left", "right", "fix"}

// Scheduler runs a trial list in order, one Machine per trial, and
// appends every frozen result to its Table.
type Scheduler struct {
	list      design.TrialList
	opts      Options
	deps      Deps
	table     *Table
	sessionID string
	log       *slog.Logger

	// OnResult is called with every frozen result before it is
	// appended. An error aborts the run and the result is dropped.
	OnResult func(Result) error

	checked bool
	next    int
	current *Machine
}

// NewScheduler creates a Scheduler. table receives the results.
func NewScheduler(sessionID string, list design.TrialList, opts Options, deps Deps, table *Table) *Scheduler {
	return &Scheduler{
		list:      list,
		opts:      opts,
		deps:      deps,
		table:     table,
		sessionID: sessionID,
		log:       logging.OrDiscard(deps.Logger),
	}
}

// Check verifies collaborators, stimulus keys and every trial condition.
// It runs before trial 1 so that a malformed trial never starts.
func (s *Scheduler) Check() error {
	d := s.deps
	switch {
	case d.Stimuli == nil:
		return fmt.Errorf("%w: no stimulus controller", fault.ErrDevice)
	case d.Detector == nil:
		return fmt.Errorf("%w: no proximity detector", fault.ErrDevice)
	case d.Prompter == nil:
		return fmt.Errorf("%w: no prompter", fault.ErrDevice)
	case d.Tracker == nil:
		return fmt.Errorf("%w: no tracker", fault.ErrDevice)
	case d.Clock == nil:
		return fmt.Errorf("%w: no clock", fault.ErrDevice)
	case s.opts.UseEyetracker && d.Gaze == nil:
		return fmt.Errorf("%w: use_eyetracker is set but no eye tracker is connected", fault.ErrDevice)
	}

	if err := d.Stimuli.Require(RequiredStimuli...); err != nil {
		return err
	}
	for i, spec := range s.list.Trials {
		m, err := NewMachine(i+1, spec, s.opts, d, nil)
		if err != nil {
			return err
		}
		if m.feedback != nil && d.Feedback == nil {
			return fmt.Errorf("%w: trials use feedback but no controller model is available", fault.ErrDevice)
		}
	}
	s.checked = true
	return nil
}

// Remaining returns the number of trials not yet started.
func (s *Scheduler) Remaining() int {
	return s.list.Len() - s.next
}

// Current returns the machine of the trial in progress, or nil.
func (s *Scheduler) Current() *Machine { return s.current }

// Step advances the current trial by one state, starting the next trial
// when needed. It returns false once every trial is done.
func (s *Scheduler) Step(ctx context.Context) (bool, error) {
	if !s.checked {
		if err := s.Check(); err != nil {
			return false, err
		}
	}

	if s.current == nil {
		if s.next >= s.list.Len() {
			return false, nil
		}
		m, err := NewMachine(s.next+1, s.list.Trials[s.next], s.opts, s.deps, s.commit)
		if err != nil {
			return false, err
		}
		m.sessionID = s.sessionID
		s.current = m
		s.next++
		s.publish(events.EventTrialStart, m.number, map[string]any{
			"params":     m.spec.Params(),
			"repetition": m.spec.Repetition(),
		})
	}

	if err := s.current.Step(ctx); err != nil {
		// The partial result is dropped with the machine.
		s.current = nil
		return false, err
	}
	if s.current.State() == Done {
		s.current = nil
	}
	return s.current != nil || s.next < s.list.Len(), nil
}

// Run executes all remaining trials.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("running trials", "count", s.Remaining())
	for {
		more, err := s.Step(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// commit appends r only once OnResult accepted it, so the table never
// shows a trial the journal lost.
func (s *Scheduler) commit(r Result) error {
	if s.OnResult != nil {
		if err := s.OnResult(r); err != nil {
			return err
		}
	}
	s.table.Append(r)
	s.publish(events.EventTrialEnd, r.Trial, r)
	return nil
}

func (s *Scheduler) publish(typ events.EventType, trial int, data any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(events.NewEvent(typ, data).ForTrial(s.sessionID, trial))
}
