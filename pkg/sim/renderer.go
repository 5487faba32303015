package sim

import (
	"sync"

	"github.com/cgast/vxcore/pkg/geom"
	"github.com/cgast/vxcore/pkg/stimulus"
)

// Object is the rendered state of one handle.
type Object struct {
	Visible bool
	Pos     geom.Vec3
	Color   geom.Color
}

// Renderer records every stimulus change instead of drawing it.
type Renderer struct {
	mu                sync.RWMutex
	objects           map[stimulus.Handle]Object
	controllerVisible bool
	lastShown         stimulus.Handle
	ops               int
}

// NewRenderer returns an empty Renderer.
func NewRenderer() *Renderer {
	return &Renderer{objects: make(map[stimulus.Handle]Object), controllerVisible: true}
}

func (r *Renderer) SetVisible(h stimulus.Handle, visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.objects[h]
	o.Visible = visible
	r.objects[h] = o
	if visible {
		r.lastShown = h
	}
	r.ops++
	return nil
}

func (r *Renderer) SetPosition(h stimulus.Handle, pos geom.Vec3) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.objects[h]
	o.Pos = pos
	r.objects[h] = o
	r.ops++
	return nil
}

func (r *Renderer) SetColor(h stimulus.Handle, c geom.Color) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.objects[h]
	o.Color = c
	r.objects[h] = o
	r.ops++
	return nil
}

// SetControllerVisible toggles the controller model.
func (r *Renderer) SetControllerVisible(visible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllerVisible = visible
	r.ops++
	return nil
}

// Object returns the rendered state of h.
func (r *Renderer) Object(h stimulus.Handle) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.objects[h]
	return o, ok
}

// ControllerVisible reports whether the controller model is shown.
func (r *Renderer) ControllerVisible() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controllerVisible
}

// Ops returns the number of render calls received.
func (r *Renderer) Ops() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ops
}

// LastShown returns the handle most recently made visible.
func (r *Renderer) LastShown() stimulus.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastShown
}
