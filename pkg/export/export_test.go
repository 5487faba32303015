package export

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cgast/vxcore/internal/config"
	"github.com/cgast/vxcore/pkg/classify"
	"github.com/cgast/vxcore/pkg/events"
	"github.com/cgast/vxcore/pkg/geom"
	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/track"
	"github.com/cgast/vxcore/pkg/trial"
)

func testRecord() session.Record {
	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return session.Record{
		Meta: session.Metadata{
			ID:          "0b8a4c2e-1d3f-4e5a-9b7c-6d2e1f0a3b4c",
			Experiment:  "pro-anti reach",
			Participant: session.Participant{ID: "P01", Age: 31},
			Config:      config.Default(),
			Factors:     []string{"target", "pro"},
			TrialCount:  2,
			Seed:        42,
			Status:      session.StatusComplete,
			Started:     started,
			Finished:    started.Add(5 * time.Minute),
		},
		Results: []trial.Result{
			{
				Trial: 1, Repetition: 1,
				Params:    map[string]any{"target": "left", "pro": 1},
				StartTime: 1000, FixOnsetTime: 1400, GoTime: 2400, ReachTime: 2790, RT: 390,
				Hit:       geom.V(-0.22, 1.1, 0.5),
				Hemifield: classify.Left, Correct: true,
			},
			{
				Trial: 2, Repetition: 1,
				Params:    map[string]any{"target": "right", "pro": 0},
				StartTime: 3000, FixOnsetTime: 3400, GoTime: 4400, ReachTime: 4800.5, RT: 400.5,
				Hit:       geom.V(0.21, 1.1, 0.5),
				Hemifield: classify.Right, Correct: false,
			},
		},
	}
}

func withSamples(rec session.Record) session.Record {
	rec.Samples = []track.Sample{
		{Trial: 1, TimeMS: 2780, Handle: "controller/0", Frame: geom.FrameGlobal, Pos: geom.V(-0.1, 1.0, 0.4)},
		{Trial: 1, TimeMS: 2790, Handle: "controller/0", Frame: geom.FrameGlobal, Pos: geom.V(-0.22, 1.1, 0.5)},
		{Trial: 0, TimeMS: 2900.5, Handle: track.GazeHandle, Frame: geom.FrameGlobal, Pos: geom.V(0, 1.6, 0.5)},
	}
	return rec
}

func TestBaseName(t *testing.T) {
	got := BaseName(testRecord())
	want := "pro-anti-reach_P01_20260314-093000"
	if got != want {
		t.Errorf("BaseName = %q, want %q", got, want)
	}

	rec := testRecord()
	rec.Meta.Participant.ID = ""
	if got := BaseName(rec); !strings.Contains(got, "_unknown_") {
		t.Errorf("BaseName without participant = %q", got)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, testRecord()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	header := strings.Join(rows[0], ",")
	wantHeader := "target,pro,trial,repetition,start_time,fix_onset_time,go_time,reach_time,RT,hit_x,hit_y,hit_z,hemifield,correct"
	if header != wantHeader {
		t.Errorf("header = %s", header)
	}
	wantRow := "right,0,2,1,3000,3400,4400,4800.5,400.5,0.21,1.1,0.5,right,false"
	if got := strings.Join(rows[2], ","); got != wantRow {
		t.Errorf("row 2 = %s\nwant    %s", got, wantRow)
	}
}

func TestCSVAndJSONFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "2026-03-14")
	rec := testRecord()

	c := &CSV{Dir: dir}
	j := &JSON{Dir: dir}
	for _, s := range []Sink{c, j} {
		if err := s.Save(context.Background(), rec); err != nil {
			t.Fatalf("%s Save: %v", s.Format(), err)
		}
	}

	if _, err := os.Stat(c.Target(rec)); err != nil {
		t.Errorf("csv file: %v", err)
	}
	if _, err := os.Stat(c.SamplesTarget(rec)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("samples file written for a record without samples: %v", err)
	}

	data, err := os.ReadFile(j.Target(rec))
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var decoded struct {
		Session struct {
			ID          string         `json:"id"`
			Participant map[string]any `json:"participant"`
			Config      map[string]any `json:"config"`
		} `json:"session"`
		Trials []map[string]any `json:"trials"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Session.ID != rec.Meta.ID || decoded.Session.Participant["id"] != "P01" {
		t.Errorf("session = %+v", decoded.Session)
	}
	if decoded.Session.Config["tar_dist"] != 0.5 {
		t.Errorf("config tar_dist = %v", decoded.Session.Config["tar_dist"])
	}
	if len(decoded.Trials) != 2 || decoded.Trials[1]["RT"] != 400.5 {
		t.Errorf("trials = %v", decoded.Trials)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".vx-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestCSVSamplesFile(t *testing.T) {
	c := &CSV{Dir: t.TempDir()}
	rec := withSamples(testRecord())
	if err := c.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	want := filepath.Join(c.Dir, "pro-anti-reach_P01_20260314-093000_samples.csv")
	if got := c.SamplesTarget(rec); got != want {
		t.Errorf("SamplesTarget = %s, want %s", got, want)
	}
	f, err := os.Open(want)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if got := strings.Join(rows[0], ","); got != "trial,time_ms,handle,frame,x,y,z" {
		t.Errorf("header = %s", got)
	}
	if got := strings.Join(rows[2], ","); got != "1,2790,controller/0,global,-0.22,1.1,0.5" {
		t.Errorf("row 2 = %s", got)
	}
}

func TestJSONCarriesSamples(t *testing.T) {
	j := &JSON{Dir: t.TempDir()}
	rec := withSamples(testRecord())
	if err := j.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(j.Target(rec))
	if err != nil {
		t.Fatal(err)
	}
	var decoded session.Record
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Samples) != 3 || decoded.Samples[2].Handle != track.GazeHandle {
		t.Errorf("samples = %+v", decoded.Samples)
	}
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	rec := withSamples(testRecord())
	ctx := context.Background()
	// Saving twice replaces rather than duplicates.
	for i := 0; i < 2; i++ {
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save #%d: %v", i+1, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil || n != 1 {
		t.Errorf("sessions = %d, %v", n, err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM trials WHERE session_id = ?`, rec.Meta.ID).Scan(&n); err != nil || n != 2 {
		t.Errorf("trials = %d, %v", n, err)
	}

	var hemi string
	var rt float64
	var correct bool
	err = db.QueryRow(`SELECT hemifield, rt, correct FROM trials WHERE session_id = ? AND trial = 2`, rec.Meta.ID).
		Scan(&hemi, &rt, &correct)
	if err != nil {
		t.Fatal(err)
	}
	if hemi != "right" || rt != 400.5 || correct {
		t.Errorf("trial 2 = %s %v %v", hemi, rt, correct)
	}

	if err := db.QueryRow(`SELECT COUNT(*) FROM samples WHERE session_id = ?`, rec.Meta.ID).Scan(&n); err != nil || n != 3 {
		t.Errorf("samples = %d, %v", n, err)
	}
	var x float64
	if err := db.QueryRow(`SELECT x FROM samples WHERE session_id = ? AND trial = 1 ORDER BY seq DESC`, rec.Meta.ID).Scan(&x); err != nil || x != -0.22 {
		t.Errorf("last trial 1 sample x = %v, %v", x, err)
	}
}

func TestRows(t *testing.T) {
	srow, trows, err := rows(testRecord())
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if srow.Participant != "P01" || srow.Factors != "target,pro" || srow.Finished == nil {
		t.Errorf("session row = %+v", srow)
	}
	if len(trows) != 2 {
		t.Fatalf("got %d trial rows", len(trows))
	}
	if trows[0].ParamsJSON != `{"pro":1,"target":"left"}` {
		t.Errorf("params = %s", trows[0].ParamsJSON)
	}
	if trows[1].HitX != 0.21 || trows[1].Hemifield != "right" {
		t.Errorf("trial row = %+v", trows[1])
	}
}

func TestSampleRows(t *testing.T) {
	rec := withSamples(testRecord())
	got := sampleRows(rec)
	if len(got) != 3 {
		t.Fatalf("got %d sample rows", len(got))
	}
	for i, r := range got {
		if r.Seq != i || r.SessionID != rec.Meta.ID {
			t.Errorf("row %d = %+v", i, r)
		}
	}
	if got[2].Handle != "gaze" || got[2].TimeMS != 2900.5 || got[2].Y != 1.6 {
		t.Errorf("gaze row = %+v", got[2])
	}
}

type recordingSink struct {
	format string
	err    error
	calls  *[]string
}

func (r *recordingSink) Format() string                   { return r.format }
func (r *recordingSink) Target(rec session.Record) string { return r.format + ":test" }
func (r *recordingSink) Save(ctx context.Context, rec session.Record) error {
	*r.calls = append(*r.calls, r.format)
	return r.err
}

func TestMultiStopsAtFirstError(t *testing.T) {
	var calls []string
	boom := errors.New("disk full")
	m := NewMulti(nil,
		&recordingSink{format: "a", calls: &calls},
		&recordingSink{format: "b", err: boom, calls: &calls},
		&recordingSink{format: "c", calls: &calls},
	)

	err := m.Save(context.Background(), testRecord())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if strings.Join(calls, ",") != "a,b" {
		t.Errorf("calls = %v, want [a b]", calls)
	}
}

func TestOpenPublishesSaved(t *testing.T) {
	bus := events.NewMemoryBus()
	m, err := Open(Options{Dir: t.TempDir(), Formats: []string{"json", "sqlite", "csv"}, Bus: bus})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	if got := strings.Join(m.Formats(), ","); got != "json,sqlite,csv" {
		t.Errorf("Formats = %s", got)
	}
	if err := m.Save(context.Background(), testRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if n := bus.Count(events.EventDataSaved); n != 3 {
		t.Errorf("data.saved events = %d, want 3", n)
	}
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown format", Options{Dir: t.TempDir(), Formats: []string{"xlsx"}}},
		{"mysql without dsn", Options{Dir: t.TempDir(), Formats: []string{"mysql"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestOpenDefaults(t *testing.T) {
	m, err := Open(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(m.Formats(), ","); got != "csv,json" {
		t.Errorf("Formats = %s, want csv,json", got)
	}
}
