// Package proximity turns a per-tick "is the target inside the sensor
// region" test into an awaitable enter event.
package proximity

import (
	"context"
	"sync"
	"time"

	"github.com/cgast/vxcore/pkg/geom"
)

// Observation is the region state on one tick.
type Observation struct {
	At     time.Duration // session clock time of the tick
	Inside bool
	Pos    geom.Vec3 // target position on the tick
	HasPos bool      // false when the target was not tracked
}

// Test evaluates the region for the current tick.
type Test func() (pos geom.Vec3, tracked, inside bool)

// Detector fires on outside-to-inside transitions. It starts out
// assuming the target is outside. A released waiter receives the
// observation of the tick that entered, so later ticks cannot shift the
// reach sample.
type Detector struct {
	test Test

	mu      sync.Mutex
	inside  bool
	waiters map[*Waiter]struct{}
	enters  int
}

// New returns a Detector. test is evaluated by Tick and may be nil when
// the driving loop calls Observe directly.
func New(test Test) *Detector {
	return &Detector{test: test, waiters: make(map[*Waiter]struct{})}
}

// Tick evaluates the region test for the tick at the given clock time.
func (d *Detector) Tick(at time.Duration) {
	if d.test == nil {
		return
	}
	pos, tracked, inside := d.test()
	d.Observe(Observation{At: at, Inside: inside, Pos: pos, HasPos: tracked})
}

// Observe records the region state of one tick and releases all armed
// waiters on an outside-to-inside transition.
func (d *Detector) Observe(o Observation) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entered := o.Inside && !d.inside
	d.inside = o.Inside
	if !entered {
		return
	}
	d.enters++
	for w := range d.waiters {
		w.ch <- o
		delete(d.waiters, w)
	}
}

// Waiter is one armed interest in the next enter.
type Waiter struct {
	d  *Detector
	ch chan Observation
}

// Arm registers for the next outside-to-inside transition. Enters that
// happen between Arm and Wait are kept. A target that is already inside
// does not count.
func (d *Detector) Arm() *Waiter {
	w := &Waiter{d: d, ch: make(chan Observation, 1)}
	d.mu.Lock()
	d.waiters[w] = struct{}{}
	d.mu.Unlock()
	return w
}

// Wait blocks until the armed enter happens and returns the observation
// of the entering tick.
func (w *Waiter) Wait(ctx context.Context) (Observation, error) {
	select {
	case o := <-w.ch:
		return o, nil
	case <-ctx.Done():
		w.Cancel()
		return Observation{}, ctx.Err()
	}
}

// Cancel unregisters w. It is a no-op once w fired.
func (w *Waiter) Cancel() {
	w.d.mu.Lock()
	delete(w.d.waiters, w)
	w.d.mu.Unlock()
}

// Waiting returns the number of armed waiters that have not fired.
func (d *Detector) Waiting() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

// Inside reports the last observed state.
func (d *Detector) Inside() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inside
}

// Enters returns how many transitions into the region have been observed.
func (d *Detector) Enters() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enters
}

// Box is an axis-aligned region given by its center and edge lengths.
type Box struct {
	Center geom.Vec3
	Size   geom.Vec3
}

// Contains reports whether p lies inside b, boundary included.
func (b Box) Contains(p geom.Vec3) bool {
	d := p.Sub(b.Center)
	for i := range d {
		if d[i] < -b.Size[i]/2 || d[i] > b.Size[i]/2 {
			return false
		}
	}
	return true
}

// BoxTest builds a region test for a box that follows an anchor, such as
// a sensor attached to the fixation stimulus. Either func may report
// !ok, in which case the target counts as outside.
func BoxTest(size geom.Vec3, anchor func() (geom.Vec3, bool), target func() (geom.Vec3, bool)) Test {
	return func() (geom.Vec3, bool, bool) {
		p, ok := target()
		if !ok {
			return geom.Vec3{}, false, false
		}
		c, ok := anchor()
		if !ok {
			return p, true, false
		}
		return p, true, Box{Center: c, Size: size}.Contains(p)
	}
}
