// Package protocol defines the JSON-RPC 2.0 messages exchanged with the
// VR runtime over line-delimited stdio.
package protocol

import (
	"encoding/json"

	"github.com/cgast/vxcore/pkg/geom"
)

// Request is a JSON-RPC 2.0 request. A nil ID makes it a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Message is any line read from the peer: a request, a notification or
// a response. Result stays raw until the waiting caller decodes it.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsResponse reports whether m answers an earlier request.
func (m Message) IsResponse() bool {
	return m.Method == "" && len(m.ID) > 0
}

// IsNotification reports whether m is a request that expects no answer.
func (m Message) IsNotification() bool {
	return m.Method != "" && (len(m.ID) == 0 || string(m.ID) == "null")
}

// Request converts m into a Request for the Handler.
func (m Message) Request() Request {
	req := Request{JSONRPC: m.JSONRPC, Method: m.Method, Params: m.Params}
	if len(m.ID) > 0 && string(m.ID) != "null" {
		var id any
		if err := json.Unmarshal(m.ID, &id); err == nil {
			req.ID = id
		}
	}
	return req
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Runtime error codes.
const (
	CodeDeviceFailed       = -32000
	CodeCalibrationFailed  = -32001
	CodeValidationFailed   = -32002
	CodeUnknownHandle      = -32003
	CodeParticipantAborted = -32004
)

// Core to runtime.
const (
	MethodStimulusSet        = "stimulus.set"
	MethodControllerVisible  = "controller.visible"
	MethodPromptAwait        = "prompt.await"
	MethodPromptShow         = "prompt.show"
	MethodGazeAwaitNear      = "gaze.await_near"
	MethodGazeCalibrate      = "gaze.calibrate"
	MethodGazeValidate       = "gaze.validate"
	MethodParticipantRequest = "participant.request"
	MethodRuntimeQuit        = "runtime.quit"
)

// Runtime to core.
const (
	MethodTick          = "tick"
	MethodSessionStatus = "session.status"
)

// NewRequest creates a request. id nil makes a notification.
func NewRequest(id any, method string, params any) (Request, error) {
	req := Request{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return Request{}, err
		}
		req.Params = data
	}
	return req, nil
}

// NewResponse creates a successful response.
func NewResponse(id any, result any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id any, code int, message string, data any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// StimulusSetParams changes one rendered object. Nil fields are left
// unchanged.
type StimulusSetParams struct {
	Handle   string      `json:"handle"`
	Visible  *bool       `json:"visible,omitempty"`
	Position *geom.Vec3  `json:"position,omitempty"`
	Color    *geom.Color `json:"color,omitempty"`
}

// ControllerVisibleParams toggles the rendered hand controller model.
type ControllerVisibleParams struct {
	Visible bool `json:"visible"`
}

// PromptParams shows text in front of the participant. DurationMS is
// only used by prompt.show.
type PromptParams struct {
	Text       string     `json:"text"`
	Color      geom.Color `json:"color"`
	Distance   float64    `json:"distance"`
	DurationMS float64    `json:"duration_ms,omitempty"`
}

// GazeNearParams waits for gaze within Tolerance degrees of Target.
type GazeNearParams struct {
	Target    geom.Vec3 `json:"target"`
	Tolerance float64   `json:"tolerance_deg"`
}

// ValidateParams selects the validation target scheme.
type ValidateParams struct {
	Scheme string `json:"scheme"`
}

// ValidationResult is the answer to gaze.validate.
type ValidationResult struct {
	Scheme    string  `json:"scheme"`
	Accuracy  float64 `json:"accuracy_deg"`
	Precision float64 `json:"precision_deg"`
	Targets   int     `json:"targets"`
}

// ParticipantResult is the answer to participant.request.
type ParticipantResult struct {
	ID         string            `json:"id"`
	Age        int               `json:"age,omitempty"`
	Gender     string            `json:"gender,omitempty"`
	Handedness string            `json:"handedness,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// TickParams is sent by the runtime once per rendered frame.
type TickParams struct {
	TimeMS    float64           `json:"time_ms"`
	Inside    *bool             `json:"inside,omitempty"` // proximity sensor state
	Positions []TrackedPosition `json:"positions,omitempty"`
}

// TrackedPosition is one tracked object sample.
type TrackedPosition struct {
	Handle string     `json:"handle"`
	Frame  geom.Frame `json:"frame"`
	Pos    geom.Vec3  `json:"pos"`
}
