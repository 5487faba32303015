// Package sim is a stand-in for the VR runtime: a virtual clock, a
// recording renderer, a box proximity sensor and a simulated participant.
// It backs dry runs and end-to-end tests.
package sim

import (
	"context"
	"log/slog"
	"time"

	"github.com/cgast/vxcore/internal/config"
	"github.com/cgast/vxcore/internal/logging"
	"github.com/cgast/vxcore/pkg/clock"
	"github.com/cgast/vxcore/pkg/geom"
	"github.com/cgast/vxcore/pkg/proximity"
	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/stimulus"
	"github.com/cgast/vxcore/pkg/track"
	"github.com/cgast/vxcore/pkg/trial"
)

// DefaultTick is the headset refresh interval.
const DefaultTick = time.Second / 90

// Options control the tick loop.
type Options struct {
	Tick time.Duration

	// Realtime paces ticks with the wall clock. Otherwise the virtual
	// clock only advances while the session is blocked, which makes
	// runs fast and their timestamps reproducible.
	Realtime bool

	Logger *slog.Logger
}

// Runtime bundles the simulated collaborators.
type Runtime struct {
	Clock       *clock.Virtual
	Renderer    *Renderer
	Participant *Participant
	Detector    *proximity.Detector
	Samples     *track.Recorder

	set        stimulus.Set
	controller stimulus.Handle
	opts       Options
	log        *slog.Logger
}

// StimulusSet is the stimulus set the simulated scene provides.
func StimulusSet() stimulus.Set {
	return stimulus.Set{"left": "sim/left", "right": "sim/right", "fix": "sim/fix"}
}

// New builds a runtime for the given experiment config. The proximity
// sensor is a sensor_size box attached to the fixation stimulus.
func New(cfg config.Config, b Behavior, opts Options) *Runtime {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	set := StimulusSet()
	clk := clock.NewVirtual(0)
	r := NewRenderer()

	rt := &Runtime{
		Clock:       clk,
		Renderer:    r,
		Participant: newParticipant(clk, r, set, cfg.ProColor, b),
		Samples:     track.NewRecorder(),
		set:         set,
		controller:  trial.ControllerHandle(cfg.Controller),
		opts:        opts,
		log:         logging.OrDiscard(opts.Logger),
	}
	rt.Detector = proximity.New(proximity.BoxTest(cfg.SensorSize, rt.sensorCenter, rt.Participant.Hand))
	return rt
}

func (rt *Runtime) sensorCenter() (geom.Vec3, bool) {
	o, ok := rt.Renderer.Object(rt.set["fix"])
	return o.Pos, ok
}

// Deps returns session collaborators backed by the simulation. The
// caller adds Sink, Journal, Bus and Logger.
func (rt *Runtime) Deps() (session.Deps, error) {
	stimuli, err := stimulus.New(rt.Renderer, rt.set)
	if err != nil {
		return session.Deps{}, err
	}
	return session.Deps{
		Stimuli:    stimuli,
		Detector:   rt.Detector,
		Prompter:   rt.Participant,
		Announcer:  rt.Participant,
		Gaze:       rt.Participant,
		EyeTracker: rt.Participant,
		Tracker:    rt.Participant,
		Clock:      rt.Clock,
		Feedback:   rt.Renderer,
		Samples:    rt.Samples,
		Intake:     rt.Participant,
		Quitter:    rt.Participant,
	}, nil
}

// Run drives the tick loop until ctx is done.
func (rt *Runtime) Run(ctx context.Context) {
	rt.log.Debug("sim tick loop started", "tick", rt.opts.Tick, "realtime", rt.opts.Realtime)
	defer rt.log.Debug("sim tick loop stopped", "t", rt.Clock.Now())

	if rt.opts.Realtime {
		pace := time.NewTicker(rt.opts.Tick)
		defer pace.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pace.C:
			}
			rt.Step()
		}
	}

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	for rt.waitBlocked(ctx, poll) {
		rt.Step()
	}
}

// Step advances one tick: clock, participant, sample log, then
// proximity sensor.
func (rt *Runtime) Step() {
	now := rt.Clock.Advance(rt.opts.Tick)
	rt.Participant.tick(now, rt.Detector.Waiting() > 0)

	hand, _ := rt.Participant.Hand()
	rt.Samples.Record(now, rt.controller, geom.FrameGlobal, hand)
	head, _ := rt.Participant.CurrentPosition(session.HeadHandle, geom.FrameGlobal)
	rt.Samples.Record(now, session.HeadHandle, geom.FrameGlobal, head)

	rt.Detector.Tick(now)
}

// Start runs the tick loop in a goroutine and returns a function that
// stops it and waits for it to exit.
func (rt *Runtime) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// pollInterval is how often an idle tick loop checks whether the
// session blocked.
const pollInterval = 50 * time.Microsecond

// waitBlocked returns once the session is waiting on the clock or the
// sensor, or false when ctx is done. poll is the idle loop's ticker.
func (rt *Runtime) waitBlocked(ctx context.Context, poll *time.Ticker) bool {
	for !rt.blocked() {
		select {
		case <-ctx.Done():
			return false
		case <-poll.C:
		}
	}
	return true
}

func (rt *Runtime) blocked() bool {
	return rt.Clock.Sleepers() > 0 || rt.Detector.Waiting() > 0
}
