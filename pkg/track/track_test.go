package track

import (
	"sync"
	"testing"
	"time"

	"github.com/cgast/vxcore/pkg/geom"
)

func TestRecorderTagsTrials(t *testing.T) {
	r := NewRecorder()
	r.Record(5*time.Millisecond, "controller/0", "", geom.V(0, 1, 0))
	r.BeginTrial(3)
	r.Record(16*time.Millisecond, "controller/0", geom.FrameGlobal, geom.V(0.1, 1, 0.2))
	r.Record(16*time.Millisecond, GazeHandle, geom.FrameGlobal, geom.V(0, 1.6, 0.5))
	r.EndTrial()
	r.Record(27500*time.Microsecond, "controller/0", geom.FrameLocal, geom.V(0, 0, 0))

	got := r.Samples()
	if len(got) != 4 {
		t.Fatalf("Samples() = %d, want 4", len(got))
	}
	trials := []int{0, 3, 3, 0}
	for i, s := range got {
		if s.Trial != trials[i] {
			t.Errorf("sample %d trial = %d, want %d", i, s.Trial, trials[i])
		}
	}
	if got[0].Frame != geom.FrameGlobal {
		t.Errorf("empty frame recorded as %q, want global", got[0].Frame)
	}
	if got[3].TimeMS != 27.5 {
		t.Errorf("TimeMS = %v, want 27.5", got[3].TimeMS)
	}
}

func TestRecorderFiltersHandles(t *testing.T) {
	r := NewRecorder("controller/0")
	r.Record(0, "controller/0", geom.FrameGlobal, geom.Vec3{})
	r.Record(0, "hmd", geom.FrameGlobal, geom.Vec3{})
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want only the controller", r.Len())
	}
}

func TestRecorderConcurrent(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 500 {
			r.Record(time.Duration(i)*time.Millisecond, "controller/0", geom.FrameGlobal, geom.Vec3{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := range 50 {
			r.BeginTrial(i + 1)
			r.EndTrial()
		}
	}()
	wg.Wait()
	if r.Len() != 500 {
		t.Errorf("Len() = %d, want 500", r.Len())
	}
}

func TestSampleRow(t *testing.T) {
	s := Sample{Trial: 2, TimeMS: 1011.5, Handle: "controller/0", Frame: geom.FrameGlobal, Pos: geom.V(-0.25, 1.5, 0.5)}
	row := s.Row()
	want := []string{"2", "1011.5", "controller/0", "global", "-0.25", "1.5", "0.5"}
	if len(row) != len(Columns) {
		t.Fatalf("row has %d fields, header %d", len(row), len(Columns))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("Row()[%d] = %q, want %q", i, row[i], want[i])
		}
	}
}
