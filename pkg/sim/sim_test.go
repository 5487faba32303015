package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgast/vxcore/internal/config"
	"github.com/cgast/vxcore/pkg/classify"
	"github.com/cgast/vxcore/pkg/design"
	"github.com/cgast/vxcore/pkg/events"
	"github.com/cgast/vxcore/pkg/fault"
	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/trial"
)

type memorySink struct {
	mu    sync.Mutex
	saved []session.Record
}

func (m *memorySink) Save(ctx context.Context, rec session.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, rec)
	return nil
}

func reachPlan(t *testing.T, repeat int) design.TrialList {
	t.Helper()
	list, err := design.FullFactorial([]design.Factor{
		{Name: "target", Levels: []any{"left", "right"}},
		{Name: "pro", Levels: []any{0, 1}},
		{Name: "feedback", Levels: []any{0, 1}},
	}, repeat)
	require.NoError(t, err)
	seed := int64(3)
	shuffled, _ := design.Randomize(list, &seed)
	return shuffled
}

func fastConfig() config.Config {
	cfg := config.Default()
	cfg.FixDelay = 0.3
	cfg.GoDelay = 0.2
	return cfg
}

type outcome struct {
	rec  session.Record
	err  error
	sink *memorySink
	rt   *Runtime
	bus  *events.MemoryBus
}

func runSession(t *testing.T, cfg config.Config, b Behavior, list design.TrialList) outcome {
	t.Helper()
	rt := New(cfg, b, Options{})
	deps, err := rt.Deps()
	require.NoError(t, err)

	sink := &memorySink{}
	bus := events.NewMemoryBus()
	deps.Sink = sink
	deps.Bus = bus

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	stop := rt.Start(ctx)
	defer stop()

	ctrl := session.New(session.Setup{
		Experiment:   "sim-test",
		Trials:       list,
		Seed:         3,
		Config:       cfg,
		Instructions: "Reach towards blue, away from red.",
	}, deps)
	rec, runErr := ctrl.Run(ctx)
	return outcome{rec: rec, err: runErr, sink: sink, rt: rt, bus: bus}
}

func TestSessionEndToEnd(t *testing.T) {
	list := reachPlan(t, 2)
	out := runSession(t, fastConfig(), DefaultBehavior(), list)
	require.NoError(t, out.err)
	rec, sink, rt, bus := out.rec, out.sink, out.rt, out.bus

	require.Len(t, sink.saved, 1)
	require.Len(t, rec.Results, 16)
	assert.Equal(t, session.StatusComplete, rec.Meta.Status)
	assert.Equal(t, "sim-001", rec.Meta.Participant.ID)
	assert.InDelta(t, 1.65, rec.Meta.Config.EyeHeight, 1e-9)
	assert.Equal(t, int64(3), rec.Meta.Seed)

	for i, r := range rec.Results {
		assert.Equal(t, i+1, r.Trial)
		assert.LessOrEqual(t, r.StartTime, r.FixOnsetTime)
		assert.LessOrEqual(t, r.FixOnsetTime, r.GoTime)
		assert.LessOrEqual(t, r.GoTime, r.ReachTime)
		assert.Equal(t, r.ReachTime-r.GoTime, r.RT)
		assert.True(t, r.Correct, "cooperative participant missed trial %d (%v)", r.Trial, r.Params)

		// Trials keep the randomized order.
		assert.Equal(t, list.Trials[i].Params(), r.Params)
	}

	// The sample log holds the entering tick of every reach.
	require.NotEmpty(t, rec.Samples)
	for _, r := range rec.Results {
		found := false
		for _, smp := range rec.Samples {
			if smp.Handle == trial.ControllerHandle(0) && smp.TimeMS == r.ReachTime {
				found = true
				assert.Equal(t, r.Trial, smp.Trial)
				assert.Equal(t, r.Hit, smp.Pos, "trial %d hit differs from the entering tick", r.Trial)
			}
		}
		assert.True(t, found, "no sample at the reach of trial %d", r.Trial)
	}

	assert.True(t, rt.Participant.Quitted())
	prompts := rt.Participant.Prompts()
	assert.Equal(t, "Reach towards blue, away from red.", prompts[0].Text)
	assert.Equal(t, session.ClosingMessage, prompts[len(prompts)-1].Text)
	assert.Equal(t, 1, bus.Count(events.EventSessionEnd))
	assert.Equal(t, 0, bus.Count(events.EventSessionAbort))
}

func TestSessionAntiErrors(t *testing.T) {
	b := DefaultBehavior()
	b.ErrorRate = 1
	out := runSession(t, fastConfig(), b, reachPlan(t, 1))
	require.NoError(t, out.err)
	rec := out.rec

	for _, r := range rec.Results {
		assert.False(t, r.Correct)
		cond, cerr := classify.ConditionFromSpec(design.NewTrialSpec(r.Params, 0))
		require.NoError(t, cerr)
		want := cond.Target
		if cond.Pro {
			want = want.Opposite()
		}
		assert.Equal(t, want, r.Hemifield)
	}
}

func TestSessionWithEyeTracker(t *testing.T) {
	cfg := fastConfig()
	cfg.UseEyetracker = true

	out := runSession(t, cfg, DefaultBehavior(), reachPlan(t, 1))
	require.NoError(t, out.err)
	rec, rt := out.rec, out.rt

	assert.True(t, rec.Meta.Calibrated)
	require.NotNil(t, rec.Meta.Validation)
	assert.Equal(t, "CR5", rec.Meta.Validation.Scheme)
	for _, r := range rec.Results {
		assert.InDelta(t, DefaultBehavior().GazeLatency.Seconds()*1000, r.FixOnsetTime-r.StartTime, 12)
	}
	assert.Equal(t, session.CalibrationPrompt, rt.Participant.Prompts()[1].Text)
}

func TestSessionCalibrationFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.UseEyetracker = true
	b := DefaultBehavior()
	b.CalibrationFails = true

	out := runSession(t, cfg, b, reachPlan(t, 1))
	require.Error(t, out.err)
	assert.ErrorIs(t, out.err, fault.ErrDevice)
	assert.True(t, errors.Is(out.err, ErrCalibrationFailed))

	assert.Empty(t, out.rec.Results)
	assert.Empty(t, out.sink.saved, "sink must not be called on abort")
	assert.Equal(t, 1, out.bus.Count(events.EventSessionAbort))
	assert.Equal(t, 0, out.bus.Count(events.EventTrialStart))
}

func TestIdleLoopAdvancesOnlyWhenBlocked(t *testing.T) {
	rt := New(fastConfig(), DefaultBehavior(), Options{})
	stop := rt.Start(context.Background())
	defer stop()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rt.Clock.Now(), "clock moved with nothing waiting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Clock.Sleep(ctx, 100*time.Millisecond))
	assert.GreaterOrEqual(t, rt.Clock.Now(), 100*time.Millisecond)
	ticks := int(rt.Clock.Now() / DefaultTick)
	require.Eventually(t, func() bool { return rt.Samples.Len() == 2*ticks }, time.Second, time.Millisecond,
		"want hand and head for each of %d ticks", ticks)
}

func TestRendererControllerModel(t *testing.T) {
	cfg := fastConfig()
	list := reachPlan(t, 1)
	out := runSession(t, cfg, DefaultBehavior(), list)
	require.NoError(t, out.err)
	rt := out.rt

	last := list.Trials[list.Len()-1]
	fb, _ := last.Get("feedback")
	assert.Equal(t, fb == 1, rt.Renderer.ControllerVisible())
	assert.Greater(t, rt.Renderer.Ops(), 0)
}
