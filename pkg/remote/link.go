// Package remote connects the session core to an out-of-process VR
// runtime. The runtime renders, tracks and talks to the participant;
// the core sends it JSON-RPC requests over line-delimited stdio and the
// runtime drives the session clock and proximity sensor with tick
// notifications.
package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cgast/vxcore/internal/logging"
	"github.com/cgast/vxcore/pkg/clock"
	"github.com/cgast/vxcore/pkg/events"
	"github.com/cgast/vxcore/pkg/fault"
	"github.com/cgast/vxcore/pkg/geom"
	"github.com/cgast/vxcore/pkg/protocol"
	"github.com/cgast/vxcore/pkg/proximity"
	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/stimulus"
	"github.com/cgast/vxcore/pkg/track"
	"github.com/cgast/vxcore/pkg/trial"
)

// ErrClosed is returned by calls made after the runtime went away.
var ErrClosed = errors.New("runtime link closed")

const maxLine = 1024 * 1024

// Options configure a Link.
type Options struct {
	Logger *slog.Logger
	Trace  *logging.TraceFile // nil disables message tracing
	Bus    events.Publisher

	// Target is the tracked object the proximity sensor watches. Its
	// position on the entering tick becomes the reach sample. Defaults
	// to the first hand controller.
	Target stimulus.Handle
}

type posKey struct {
	handle stimulus.Handle
	frame  geom.Frame
}

// Link is the core side of the runtime connection. It implements every
// collaborator interface the session needs.
type Link struct {
	r io.Reader

	wmu sync.Mutex
	w   io.Writer

	mu      sync.Mutex
	pending map[string]chan protocol.Message
	closed  bool
	err     error
	done    chan struct{}

	posMu     sync.RWMutex
	positions map[posKey]geom.Vec3
	target    stimulus.Handle

	clock    *clock.Virtual
	detector *proximity.Detector
	samples  *track.Recorder
	handler  *protocol.Handler

	log   *slog.Logger
	trace *logging.TraceFile
	bus   events.Publisher
}

// New returns a link reading runtime messages from r and writing core
// messages to w. Nothing is read until Run is called.
func New(r io.Reader, w io.Writer, opts Options) *Link {
	if opts.Target == "" {
		opts.Target = trial.ControllerHandle(0)
	}
	l := &Link{
		r:         r,
		w:         w,
		pending:   make(map[string]chan protocol.Message),
		done:      make(chan struct{}),
		positions: make(map[posKey]geom.Vec3),
		target:    opts.Target,
		clock:     clock.NewVirtual(0),
		detector:  proximity.New(nil),
		samples:   track.NewRecorder(),
		handler:   protocol.NewHandler(),
		log:       logging.OrDiscard(opts.Logger),
		trace:     opts.Trace,
		bus:       opts.Bus,
	}
	l.handler.Register(protocol.MethodTick, l.handleTick)
	return l
}

// Handle registers fn for a method the runtime may call on the core.
func (l *Link) Handle(method string, fn protocol.HandlerFunc) {
	l.handler.Register(method, fn)
}

// Detector is the proximity detector fed by tick notifications.
func (l *Link) Detector() *proximity.Detector { return l.detector }

// Samples is the log of every tracked position the runtime reported.
func (l *Link) Samples() *track.Recorder { return l.samples }

// Err returns why the link closed, or nil while it is open.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Deps returns session collaborators backed by the link. The caller
// adds Sink, Journal, Bus and Logger.
func (l *Link) Deps(set stimulus.Set) (session.Deps, error) {
	stimuli, err := stimulus.New(l, set)
	if err != nil {
		return session.Deps{}, err
	}
	return session.Deps{
		Stimuli:    stimuli,
		Detector:   l.detector,
		Prompter:   l,
		Announcer:  l,
		Gaze:       l,
		EyeTracker: l,
		Tracker:    l,
		Clock:      l,
		Feedback:   l,
		Samples:    l.samples,
		Intake:     l,
		Quitter:    l,
	}, nil
}

// Run reads runtime messages until the reader is exhausted or ctx is
// done. Pending and later calls fail with ErrClosed afterwards.
func (l *Link) Run(ctx context.Context) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(l.r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			l.shutdown(ctx.Err())
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				var err error
				select {
				case err = <-scanErr:
				default:
				}
				if err != nil {
					l.shutdown(err)
					return fmt.Errorf("read runtime: %w", err)
				}
				l.shutdown(io.EOF)
				return nil
			}
			l.process(line)
		}
	}
}

func (l *Link) process(line []byte) {
	if len(line) == 0 {
		return
	}
	l.trace.Write("in", line)

	var m protocol.Message
	if err := json.Unmarshal(line, &m); err != nil {
		l.log.Warn("dropping malformed runtime message", "error", err)
		l.write(protocol.NewErrorResponse(nil, protocol.CodeParseError, "parse error: "+err.Error(), nil))
		return
	}

	if m.IsResponse() {
		l.resolve(m)
		return
	}
	if m.Method == "" {
		l.log.Warn("runtime message without method or id")
		return
	}
	if resp := l.handler.Dispatch(m); resp != nil {
		l.write(resp)
	}
}

func (l *Link) resolve(m protocol.Message) {
	var id string
	if err := json.Unmarshal(m.ID, &id); err != nil {
		l.log.Warn("response with non-string id", "id", string(m.ID))
		return
	}
	l.mu.Lock()
	ch, ok := l.pending[id]
	delete(l.pending, id)
	l.mu.Unlock()
	if !ok {
		l.log.Warn("response for unknown request", "id", id)
		return
	}
	ch <- m
}

func (l *Link) shutdown(cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.err = cause
	close(l.done)
	l.log.Debug("runtime link closed", "cause", cause, "pending", len(l.pending))
}

func (l *Link) handleTick(params json.RawMessage) (any, *protocol.Error) {
	p, rpcErr := protocol.ParseParams[protocol.TickParams](params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	// The clock never runs backwards; a stale tick counts as now.
	now := max(time.Duration(p.TimeMS*float64(time.Millisecond)), l.clock.Now())

	// Positions before the clock: a released sleeper may sample them.
	l.posMu.Lock()
	for _, tp := range p.Positions {
		frame := tp.Frame
		if frame == "" {
			frame = geom.FrameGlobal
		}
		l.positions[posKey{stimulus.Handle(tp.Handle), frame}] = tp.Pos
		l.samples.Record(now, stimulus.Handle(tp.Handle), frame, tp.Pos)
	}
	target, tracked := l.positions[posKey{l.target, geom.FrameGlobal}]
	l.posMu.Unlock()
	l.clock.AdvanceTo(now)

	// The waiter gets this tick's time and target position; the reader
	// may have moved on by the time the trial goroutine runs.
	if p.Inside != nil {
		l.detector.Observe(proximity.Observation{At: now, Inside: *p.Inside, Pos: target, HasPos: tracked})
	}
	return nil, nil
}

func (l *Link) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	l.trace.Write("out", data)

	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write: %w", fault.ErrDevice, err)
	}
	return nil
}

func (l *Link) closedErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil && !errors.Is(l.err, io.EOF) {
		return fmt.Errorf("%w: %w: %v", fault.ErrDevice, ErrClosed, l.err)
	}
	return fmt.Errorf("%w: %w", fault.ErrDevice, ErrClosed)
}

// notify sends a request that expects no answer.
func (l *Link) notify(method string, params any) error {
	select {
	case <-l.done:
		return l.closedErr()
	default:
	}
	req, err := protocol.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	return l.write(req)
}

// call sends a request and waits for its response. out, when non-nil,
// receives the decoded result.
func (l *Link) call(ctx context.Context, method string, params any, out any) error {
	id := uuid.NewString()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return err
	}

	ch := make(chan protocol.Message, 1)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return l.closedErr()
	}
	l.pending[id] = ch
	l.mu.Unlock()

	forget := func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}

	l.publish(events.EventLinkRequest, map[string]any{"id": id, "method": method})
	l.log.Debug("runtime call", "method", method, "id", id)
	if err := l.write(req); err != nil {
		forget()
		return err
	}

	select {
	case m := <-ch:
		l.publish(events.EventLinkResponse, map[string]any{"id": id, "method": method, "ok": m.Error == nil})
		if m.Error != nil {
			return fmt.Errorf("%w: %s: %s (code %d)", fault.ErrDevice, method, m.Error.Message, m.Error.Code)
		}
		if out != nil && len(m.Result) > 0 {
			if err := json.Unmarshal(m.Result, out); err != nil {
				return fmt.Errorf("%w: decode %s result: %w", fault.ErrDevice, method, err)
			}
		}
		return nil
	case <-ctx.Done():
		forget()
		return ctx.Err()
	case <-l.done:
		forget()
		return l.closedErr()
	}
}

func (l *Link) publish(typ events.EventType, data any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(events.NewEvent(typ, data))
}
