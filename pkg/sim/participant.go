package sim

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cgast/vxcore/pkg/clock"
	"github.com/cgast/vxcore/pkg/geom"
	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/stimulus"
	"github.com/cgast/vxcore/pkg/trial"
)

// ErrCalibrationFailed is returned by a simulated eye tracker set to fail.
var ErrCalibrationFailed = errors.New("simulated calibration failed")

// Behavior parameterizes the simulated participant and hardware.
type Behavior struct {
	Participant      session.Participant
	EyeHeight        float64       // meters
	AckDelay         time.Duration // prompt to trigger press
	ReactionTime     time.Duration // go to hand arriving in the sensor
	Jitter           time.Duration // uniform +/- on ReactionTime
	ErrorRate        float64       // probability of reaching to the wrong side
	GazeLatency      time.Duration
	CalibrationFails bool
	Quality          session.Quality
	Seed             uint64
}

// DefaultBehavior returns a cooperative participant with a 1.65 m eye height.
func DefaultBehavior() Behavior {
	return Behavior{
		Participant:  session.Participant{ID: "sim-001", Age: 30, Handedness: "right"},
		EyeHeight:    1.65,
		AckDelay:     400 * time.Millisecond,
		ReactionTime: 380 * time.Millisecond,
		Jitter:       80 * time.Millisecond,
		GazeLatency:  150 * time.Millisecond,
		Quality:      session.Quality{Accuracy: 0.6, Precision: 0.2, Targets: 5},
		Seed:         1,
	}
}

// Participant simulates the person in the headset together with the
// headset, hand controller and eye tracker they use.
type Participant struct {
	clock    *clock.Virtual
	renderer *Renderer
	set      stimulus.Set
	proColor geom.Color
	b        Behavior

	mu       sync.Mutex
	rng      *rand.Rand
	hand     geom.Vec3
	cue      cue
	reachAt  time.Duration
	reaching bool
	prompts  []trial.Prompt
	quit     bool
}

type cue struct {
	seen  bool
	right bool
	pro   bool
}

func newParticipant(clk *clock.Virtual, r *Renderer, set stimulus.Set, proColor geom.Color, b Behavior) *Participant {
	p := &Participant{
		clock:    clk,
		renderer: r,
		set:      set,
		proColor: proColor,
		b:        b,
		rng:      rand.New(rand.NewPCG(b.Seed, b.Seed^0x5eed)),
	}
	p.hand = p.rest()
	return p
}

// rest is the hand position between trials, well outside the sensor.
func (p *Participant) rest() geom.Vec3 {
	return geom.V(0.05, p.b.EyeHeight-0.6, 0.1)
}

// AwaitAcknowledgment lowers the hand, waits AckDelay and presses the trigger.
func (p *Participant) AwaitAcknowledgment(ctx context.Context, pr trial.Prompt) error {
	p.mu.Lock()
	p.prompts = append(p.prompts, pr)
	p.hand = p.rest()
	p.cue = cue{}
	p.reaching = false
	p.mu.Unlock()
	return p.clock.Sleep(ctx, p.b.AckDelay)
}

// Show displays a timed message.
func (p *Participant) Show(ctx context.Context, pr trial.Prompt, d time.Duration) error {
	p.mu.Lock()
	p.prompts = append(p.prompts, pr)
	p.mu.Unlock()
	return p.clock.Sleep(ctx, d)
}

// RequestParticipant returns the configured participant.
func (p *Participant) RequestParticipant(ctx context.Context) (session.Participant, error) {
	return p.b.Participant, ctx.Err()
}

// AwaitGazeNear fixates the target after GazeLatency.
func (p *Participant) AwaitGazeNear(ctx context.Context, target geom.Vec3, tolerance float64) error {
	return p.clock.Sleep(ctx, p.b.GazeLatency)
}

// Calibrate runs a simulated calibration.
func (p *Participant) Calibrate(ctx context.Context) error {
	if err := p.clock.Sleep(ctx, 2*time.Second); err != nil {
		return err
	}
	if p.b.CalibrationFails {
		return ErrCalibrationFailed
	}
	return nil
}

// Validate reports the configured quality.
func (p *Participant) Validate(ctx context.Context, scheme string) (session.Quality, error) {
	if err := p.clock.Sleep(ctx, time.Second); err != nil {
		return session.Quality{}, err
	}
	q := p.b.Quality
	q.Scheme = scheme
	return q, nil
}

// CurrentPosition reports the head or hand position.
func (p *Participant) CurrentPosition(h stimulus.Handle, frame geom.Frame) (geom.Vec3, error) {
	if h == session.HeadHandle {
		return geom.V(0, p.b.EyeHeight, 0), nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hand, nil
}

// Quit records that the runtime was asked to exit.
func (p *Participant) Quit(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quit = true
	return nil
}

// Quitted reports whether Quit was called.
func (p *Participant) Quitted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quit
}

// Prompts returns every prompt shown so far.
func (p *Participant) Prompts() []trial.Prompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]trial.Prompt(nil), p.prompts...)
}

// Hand returns the current hand position.
func (p *Participant) Hand() (geom.Vec3, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hand, true
}

// tick watches the display and moves the hand. waiting is true while the
// core waits for a reach.
func (p *Participant) tick(now time.Duration, waiting bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fix, _ := p.renderer.Object(p.set["fix"])
	if waiting && !p.cue.seen {
		// The last stimulus made visible before the go signal is the target.
		last := p.renderer.LastShown()
		p.cue = cue{
			seen:  last == p.set["left"] || last == p.set["right"],
			right: last == p.set["right"],
			pro:   fix.Color == p.proColor,
		}
	}

	if !waiting || !p.cue.seen {
		return
	}
	if !p.reaching {
		p.reaching = true
		p.reachAt = now + p.reactionTime()
		return
	}
	if now < p.reachAt {
		return
	}

	toRight := p.cue.right == p.cue.pro
	if p.b.ErrorRate > 0 && p.rng.Float64() < p.b.ErrorRate {
		toRight = !toRight
	}
	x := 0.22
	if !toRight {
		x = -x
	}
	anchor := fix.Pos
	p.hand = geom.V(x, anchor.Y()-0.05, anchor.Z())
}

func (p *Participant) reactionTime() time.Duration {
	rt := p.b.ReactionTime
	if p.b.Jitter > 0 {
		rt += time.Duration(p.rng.Int64N(int64(2*p.b.Jitter))) - p.b.Jitter
	}
	if rt < 0 {
		rt = 0
	}
	return rt
}
