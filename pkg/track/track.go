// Package track keeps the per-frame log of tracked objects, such as the
// hand controller, the headset and the gaze point, tagged with the trial
// that was running when each frame arrived.
package track

import (
	"strconv"
	"sync"
	"time"

	"github.com/cgast/vxcore/pkg/geom"
	"github.com/cgast/vxcore/pkg/stimulus"
)

// GazeHandle names the gaze point when a runtime reports it alongside
// the tracked objects.
const GazeHandle stimulus.Handle = "gaze"

// Sample is one tracked position on one frame.
type Sample struct {
	Trial  int             `json:"trial"` // 0 outside trials
	TimeMS float64         `json:"time_ms"`
	Handle stimulus.Handle `json:"handle"`
	Frame  geom.Frame      `json:"frame"`
	Pos    geom.Vec3       `json:"pos"`
}

// Columns is the header of the sample table.
var Columns = []string{"trial", "time_ms", "handle", "frame", "x", "y", "z"}

// Row formats s in Columns order.
func (s Sample) Row() []string {
	return []string{
		strconv.Itoa(s.Trial),
		formatFloat(s.TimeMS),
		string(s.Handle),
		string(s.Frame),
		formatFloat(s.Pos.X()),
		formatFloat(s.Pos.Y()),
		formatFloat(s.Pos.Z()),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Recorder collects samples from the tick loop. It is safe for use by
// the tick goroutine and the trial goroutine at once.
type Recorder struct {
	only map[stimulus.Handle]bool // nil records every handle

	mu      sync.Mutex
	trial   int
	samples []Sample
}

// NewRecorder records the given handles, or every handle when none are
// given.
func NewRecorder(handles ...stimulus.Handle) *Recorder {
	r := &Recorder{}
	if len(handles) > 0 {
		r.only = make(map[stimulus.Handle]bool, len(handles))
		for _, h := range handles {
			r.only[h] = true
		}
	}
	return r
}

// BeginTrial tags the following samples with trial n.
func (r *Recorder) BeginTrial(n int) {
	r.mu.Lock()
	r.trial = n
	r.mu.Unlock()
}

// EndTrial tags the following samples as between trials.
func (r *Recorder) EndTrial() { r.BeginTrial(0) }

// Record appends the position of h at clock time at.
func (r *Recorder) Record(at time.Duration, h stimulus.Handle, frame geom.Frame, pos geom.Vec3) {
	if r.only != nil && !r.only[h] {
		return
	}
	if frame == "" {
		frame = geom.FrameGlobal
	}
	r.mu.Lock()
	r.samples = append(r.samples, Sample{
		Trial:  r.trial,
		TimeMS: float64(at) / float64(time.Millisecond),
		Handle: h,
		Frame:  frame,
		Pos:    pos,
	})
	r.mu.Unlock()
}

// Samples returns a copy of everything recorded so far.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

// Len returns the number of samples recorded.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}
