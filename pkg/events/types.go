package events

import "time"

// EventType identifies the kind of event emitted during a session.
type EventType string

const (
	EventSessionStart   EventType = "session.start"
	EventSessionEnd     EventType = "session.end"
	EventSessionAbort   EventType = "session.abort"
	EventParticipant    EventType = "session.participant"
	EventInstructions   EventType = "session.instructions"
	EventCalibration    EventType = "eyetracker.calibration"
	EventValidation     EventType = "eyetracker.validation"
	EventTrialStart     EventType = "trial.start"
	EventTrialState     EventType = "trial.state"
	EventTrialEnd       EventType = "trial.end"
	EventDataSaved      EventType = "data.saved"
	EventJournalWrite   EventType = "journal.write"
	EventPlanGenerated  EventType = "plan.generated"
	EventExperimentLoad EventType = "experiment.loaded"
	EventLinkRequest    EventType = "link.request"
	EventLinkResponse   EventType = "link.response"
)

// Event represents a single session event.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Trial     int       `json:"trial,omitempty"`
	Data      any       `json:"data"`
}

// NewEvent creates a new Event with the current timestamp.
func NewEvent(typ EventType, data any) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// ForTrial tags the event with a session id and a 1-based trial number.
func (e Event) ForTrial(sessionID string, trial int) Event {
	e.SessionID = sessionID
	e.Trial = trial
	return e
}
