package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc serves one method the runtime calls on the core.
type HandlerFunc func(params json.RawMessage) (any, *Error)

// Handler routes runtime-initiated messages, such as ticks and status
// queries, to the function registered for their method.
type Handler struct {
	mu     sync.RWMutex
	routes map[string]HandlerFunc
}

func NewHandler() *Handler {
	return &Handler{routes: make(map[string]HandlerFunc)}
}

// Register sets fn for method, replacing an earlier registration.
func (h *Handler) Register(method string, fn HandlerFunc) {
	h.mu.Lock()
	h.routes[method] = fn
	h.mu.Unlock()
}

// Registered reports whether method has a handler.
func (h *Handler) Registered(method string) bool {
	_, ok := h.route(method)
	return ok
}

func (h *Handler) route(method string) (HandlerFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.routes[method]
	return fn, ok
}

// Handle runs the handler for req and builds its response. A panic in
// the handler is reported as CodeInternalError.
func (h *Handler) Handle(req Request) (resp Response) {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, CodeInvalidRequest,
			fmt.Sprintf("unsupported jsonrpc version %q", req.JSONRPC), nil)
	}
	fn, ok := h.route(req.Method)
	if !ok {
		return NewErrorResponse(req.ID, CodeMethodNotFound, "unknown method "+req.Method, nil)
	}

	defer func() {
		if r := recover(); r != nil {
			resp = NewErrorResponse(req.ID, CodeInternalError, fmt.Sprintf("%s: %v", req.Method, r), nil)
		}
	}()

	result, rpcErr := fn(req.Params)
	if rpcErr != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return NewResponse(req.ID, result)
}

// Dispatch handles a message that carries a method. Notifications are
// never answered, not even with an error, so it returns nil for them.
func (h *Handler) Dispatch(m Message) *Response {
	resp := h.Handle(m.Request())
	if m.IsNotification() {
		return nil
	}
	return &resp
}

// ParseParams decodes params into T. Absent or null params leave T at
// its zero value.
func ParseParams[T any](params json.RawMessage) (T, *Error) {
	var p T
	if len(params) == 0 || string(params) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return p, &Error{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return p, nil
}
