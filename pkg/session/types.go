package session

import (
	"context"
	"time"

	"github.com/cgast/vxcore/internal/config"
	"github.com/cgast/vxcore/pkg/stimulus"
	"github.com/cgast/vxcore/pkg/track"
	"github.com/cgast/vxcore/pkg/trial"
)

// Participant is the metadata collected at intake.
type Participant struct {
	ID         string            `json:"id" yaml:"id"`
	Age        int               `json:"age,omitempty" yaml:"age"`
	Gender     string            `json:"gender,omitempty" yaml:"gender"`
	Handedness string            `json:"handedness,omitempty" yaml:"handedness"`
	Extra      map[string]string `json:"extra,omitempty" yaml:"extra"`
}

// Quality is the outcome of an eye tracker validation.
type Quality struct {
	Scheme    string  `json:"scheme"`
	Accuracy  float64 `json:"accuracy_deg"`
	Precision float64 `json:"precision_deg"`
	Targets   int     `json:"targets"`
}

// Status is the lifecycle status of a session.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusAborted  Status = "aborted"
)

// Phase is the step of the session flow currently executing.
type Phase string

const (
	PhasePreflight    Phase = "preflight"
	PhaseIntake       Phase = "intake"
	PhaseInstructions Phase = "instructions"
	PhaseCalibration  Phase = "calibration"
	PhaseTrials       Phase = "trials"
	PhaseClosing      Phase = "closing"
	PhaseSaving       Phase = "saving"
	PhaseDone         Phase = "done"
	PhaseAborted      Phase = "aborted"
)

// Metadata describes a session. It is what the journal stores per
// session and what exporters write next to the trial table.
type Metadata struct {
	ID          string        `json:"id"`
	Experiment  string        `json:"experiment"`
	Participant Participant   `json:"participant"`
	Config      config.Config `json:"config"`
	Factors     []string      `json:"factors"`
	TrialCount  int           `json:"trial_count"`
	Seed        int64         `json:"seed"`
	Calibrated  bool          `json:"calibrated"`
	Validation  *Quality      `json:"validation,omitempty"`
	Status      Status        `json:"status"`
	Error       string        `json:"error,omitempty"`
	Started     time.Time     `json:"started"`
	Finished    time.Time     `json:"finished"`
}

// Record is everything persisted at the end of a session. Records
// rebuilt from the journal carry no samples.
type Record struct {
	Meta    Metadata       `json:"session"`
	Results []trial.Result `json:"trials"`
	Samples []track.Sample `json:"samples,omitempty"`
}

// SampleLog is the per-frame tracking log of a session.
type SampleLog interface {
	trial.SampleTagger
	Samples() []track.Sample
}

// Announcer shows a message for a fixed time without waiting for input.
type Announcer interface {
	Show(ctx context.Context, p trial.Prompt, d time.Duration) error
}

// EyeTracker calibrates and validates gaze tracking.
type EyeTracker interface {
	Calibrate(ctx context.Context) error
	Validate(ctx context.Context, scheme string) (Quality, error)
}

// Intake collects participant metadata.
type Intake interface {
	RequestParticipant(ctx context.Context) (Participant, error)
}

// Sink persists a finished session.
type Sink interface {
	Save(ctx context.Context, rec Record) error
}

// Quitter shuts down the runtime once data is saved.
type Quitter interface {
	Quit(ctx context.Context) error
}

// Journal records trials as they complete so that an aborted session
// leaves its finished trials behind.
type Journal interface {
	PutSession(m Metadata) error
	AppendTrial(sessionID string, r trial.Result) error
	MarkStatus(sessionID string, status Status, reason string) error
}

// HeadHandle names the tracked head-mounted display.
const HeadHandle stimulus.Handle = "hmd"

// Fixed prompts of the session flow.
const (
	CalibrationPrompt = "Press trigger to start eye tracker calibration!"
	ClosingMessage    = "All done! Thank you!"
	ClosingDuration   = 3 * time.Second
)
