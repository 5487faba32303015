package stimulus

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cgast/vxcore/pkg/fault"
	"github.com/cgast/vxcore/pkg/geom"
)

type call struct {
	op string
	h  Handle
	v  string
}

type fakeRenderer struct {
	calls []call
	fail  bool
}

func (f *fakeRenderer) SetVisible(h Handle, v bool) error {
	if f.fail {
		return errors.New("link closed")
	}
	f.calls = append(f.calls, call{"visible", h, fmt.Sprint(v)})
	return nil
}

func (f *fakeRenderer) SetPosition(h Handle, p geom.Vec3) error {
	f.calls = append(f.calls, call{"position", h, p.String()})
	return nil
}

func (f *fakeRenderer) SetColor(h Handle, c geom.Color) error {
	f.calls = append(f.calls, call{"color", h, c.String()})
	return nil
}

func newTestController(t *testing.T) (*Controller, *fakeRenderer) {
	t.Helper()
	r := &fakeRenderer{}
	c, err := New(r, Set{"left": "h-left", "right": "h-right", "fix": "h-fix"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, r
}

func TestShowOnly(t *testing.T) {
	c, r := newTestController(t)

	pos := geom.V(0, 1.6, 0.5)
	if err := c.Show("left", nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := c.ShowOnly("fix", &pos, &geom.White); err != nil {
		t.Fatalf("ShowOnly: %v", err)
	}

	for _, k := range []string{"left", "right"} {
		s, _ := c.State(k)
		if s.Visible {
			t.Errorf("%s still visible after ShowOnly(fix)", k)
		}
	}
	s, _ := c.State("fix")
	if !s.Visible || s.Pos != pos || s.Color != geom.White {
		t.Errorf("fix state = %+v", s)
	}

	last := r.calls[len(r.calls)-1]
	if last.op != "visible" || last.h != "h-fix" || last.v != "true" {
		t.Errorf("last renderer call = %+v, want fix made visible", last)
	}
}

func TestShowKeepsUnsetProperties(t *testing.T) {
	c, _ := newTestController(t)

	pos := geom.V(-0.3, 1.5, 0.5)
	if err := c.Show("left", &pos, &geom.Red); err != nil {
		t.Fatal(err)
	}
	if err := c.Hide("left"); err != nil {
		t.Fatal(err)
	}
	if err := c.Show("left", nil, nil); err != nil {
		t.Fatal(err)
	}

	s, _ := c.State("left")
	if s.Pos != pos || s.Color != geom.Red {
		t.Errorf("state = %+v, want position and color kept", s)
	}
	if got, _ := c.Position("left"); got != pos {
		t.Errorf("Position = %v, want %v", got, pos)
	}
}

func TestSetColorKeepsVisibility(t *testing.T) {
	c, _ := newTestController(t)
	if err := c.SetColor("fix", geom.Blue); err != nil {
		t.Fatal(err)
	}
	s, _ := c.State("fix")
	if s.Visible {
		t.Error("SetColor made a hidden stimulus visible")
	}
	if s.Color != geom.Blue {
		t.Errorf("Color = %v", s.Color)
	}
}

func TestHideAll(t *testing.T) {
	c, _ := newTestController(t)
	for _, k := range c.Keys() {
		if err := c.Show(k, nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.HideAll(); err != nil {
		t.Fatal(err)
	}
	for _, k := range c.Keys() {
		if s, _ := c.State(k); s.Visible {
			t.Errorf("%s visible after HideAll", k)
		}
	}
}

func TestUnknownKey(t *testing.T) {
	c, _ := newTestController(t)

	checks := map[string]error{
		"Show":     c.Show("center", nil, nil),
		"ShowOnly": c.ShowOnly("center", nil, nil),
		"SetColor": c.SetColor("center", geom.Red),
		"Hide":     c.Hide("center"),
	}
	for name, err := range checks {
		if !errors.Is(err, fault.ErrLookup) {
			t.Errorf("%s err = %v, want ErrLookup", name, err)
		}
	}
	if _, err := c.Position("center"); !errors.Is(err, fault.ErrLookup) {
		t.Errorf("Position err = %v, want ErrLookup", err)
	}
}

func TestRequire(t *testing.T) {
	c, _ := newTestController(t)
	if err := c.Require("left", "right", "fix"); err != nil {
		t.Errorf("Require: %v", err)
	}
	if err := c.Require("fix", "center"); !errors.Is(err, fault.ErrLookup) {
		t.Errorf("Require(center) err = %v, want ErrLookup", err)
	}
}

func TestRendererFailure(t *testing.T) {
	c, r := newTestController(t)
	r.fail = true
	if err := c.HideAll(); err == nil {
		t.Error("expected renderer error to propagate")
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(nil, Set{"fix": "h"}); !errors.Is(err, fault.ErrDevice) {
		t.Errorf("nil renderer err = %v, want ErrDevice", err)
	}
	if _, err := New(&fakeRenderer{}, nil); !errors.Is(err, fault.ErrConfig) {
		t.Errorf("empty set err = %v, want ErrConfig", err)
	}
}
