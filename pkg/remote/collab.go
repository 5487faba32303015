package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/cgast/vxcore/pkg/fault"
	"github.com/cgast/vxcore/pkg/geom"
	"github.com/cgast/vxcore/pkg/protocol"
	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/stimulus"
	"github.com/cgast/vxcore/pkg/trial"
)

// SetVisible shows or hides a rendered object.
func (l *Link) SetVisible(h stimulus.Handle, visible bool) error {
	return l.notify(protocol.MethodStimulusSet, protocol.StimulusSetParams{Handle: string(h), Visible: &visible})
}

// SetPosition moves a rendered object.
func (l *Link) SetPosition(h stimulus.Handle, pos geom.Vec3) error {
	return l.notify(protocol.MethodStimulusSet, protocol.StimulusSetParams{Handle: string(h), Position: &pos})
}

// SetColor recolors a rendered object.
func (l *Link) SetColor(h stimulus.Handle, c geom.Color) error {
	return l.notify(protocol.MethodStimulusSet, protocol.StimulusSetParams{Handle: string(h), Color: &c})
}

// SetControllerVisible toggles the hand controller model.
func (l *Link) SetControllerVisible(visible bool) error {
	return l.notify(protocol.MethodControllerVisible, protocol.ControllerVisibleParams{Visible: visible})
}

// AwaitAcknowledgment shows p and returns on the participant's trigger press.
func (l *Link) AwaitAcknowledgment(ctx context.Context, p trial.Prompt) error {
	return l.call(ctx, protocol.MethodPromptAwait, promptParams(p, 0), nil)
}

// Show displays p for d. The runtime answers once the prompt is gone.
func (l *Link) Show(ctx context.Context, p trial.Prompt, d time.Duration) error {
	return l.call(ctx, protocol.MethodPromptShow, promptParams(p, d), nil)
}

func promptParams(p trial.Prompt, d time.Duration) protocol.PromptParams {
	return protocol.PromptParams{
		Text:       p.Text,
		Color:      p.Color,
		Distance:   p.Distance,
		DurationMS: float64(d) / float64(time.Millisecond),
	}
}

// AwaitGazeNear returns once gaze is within tolerance of target.
func (l *Link) AwaitGazeNear(ctx context.Context, target geom.Vec3, tolerance float64) error {
	return l.call(ctx, protocol.MethodGazeAwaitNear, protocol.GazeNearParams{Target: target, Tolerance: tolerance}, nil)
}

// Calibrate runs the eye tracker calibration.
func (l *Link) Calibrate(ctx context.Context) error {
	return l.call(ctx, protocol.MethodGazeCalibrate, nil, nil)
}

// Validate runs the eye tracker validation with scheme.
func (l *Link) Validate(ctx context.Context, scheme string) (session.Quality, error) {
	var res protocol.ValidationResult
	if err := l.call(ctx, protocol.MethodGazeValidate, protocol.ValidateParams{Scheme: scheme}, &res); err != nil {
		return session.Quality{}, err
	}
	if res.Scheme == "" {
		res.Scheme = scheme
	}
	return session.Quality{
		Scheme:    res.Scheme,
		Accuracy:  res.Accuracy,
		Precision: res.Precision,
		Targets:   res.Targets,
	}, nil
}

// RequestParticipant asks the runtime for the intake form result.
func (l *Link) RequestParticipant(ctx context.Context) (session.Participant, error) {
	var res protocol.ParticipantResult
	if err := l.call(ctx, protocol.MethodParticipantRequest, nil, &res); err != nil {
		return session.Participant{}, err
	}
	return session.Participant{
		ID:         res.ID,
		Age:        res.Age,
		Gender:     res.Gender,
		Handedness: res.Handedness,
		Extra:      res.Extra,
	}, nil
}

// Quit asks the runtime to shut down.
func (l *Link) Quit(ctx context.Context) error {
	return l.call(ctx, protocol.MethodRuntimeQuit, nil, nil)
}

// CurrentPosition returns the latest tick sample for h in frame.
func (l *Link) CurrentPosition(h stimulus.Handle, frame geom.Frame) (geom.Vec3, error) {
	l.posMu.RLock()
	defer l.posMu.RUnlock()
	pos, ok := l.positions[posKey{h, frame}]
	if !ok {
		return geom.Vec3{}, fmt.Errorf("%w: no %s sample for %s", fault.ErrDevice, frame, h)
	}
	return pos, nil
}

// Now returns the runtime time of the last tick.
func (l *Link) Now() time.Duration {
	return l.clock.Now()
}

// Sleep returns once ticks have advanced the clock by d.
func (l *Link) Sleep(ctx context.Context, d time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := l.clock.Sleep(ctx, d); err != nil {
		if l.Err() != nil {
			return l.closedErr()
		}
		return err
	}
	return nil
}
