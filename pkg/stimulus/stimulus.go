// Package stimulus tracks the visual stimuli of a trial and mirrors every
// change onto a Renderer.
package stimulus

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cgast/vxcore/pkg/fault"
	"github.com/cgast/vxcore/pkg/geom"
)

// Handle identifies a render object owned by the runtime.
type Handle string

// Renderer applies stimulus changes. Implementations live outside the
// core: the remote runtime link and the simulated runtime.
type Renderer interface {
	SetVisible(h Handle, visible bool) error
	SetPosition(h Handle, pos geom.Vec3) error
	SetColor(h Handle, c geom.Color) error
}

// Set maps a symbolic key ("left", "right", "fix") to its handle.
type Set map[string]Handle

// State is the last known appearance of a stimulus.
type State struct {
	Handle  Handle     `json:"handle"`
	Visible bool       `json:"visible"`
	Pos     geom.Vec3  `json:"position"`
	Color   geom.Color `json:"color"`
}

// Controller holds a fixed set of stimuli. Keys cannot be added or
// removed after New; only visibility, position and color change.
type Controller struct {
	r    Renderer
	keys []string

	mu    sync.RWMutex
	state map[string]*State
}

// New creates a Controller over set. Stimuli start hidden.
func New(r Renderer, set Set) (*Controller, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: stimulus renderer is nil", fault.ErrDevice)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: empty stimulus set", fault.ErrConfig)
	}

	c := &Controller{r: r, state: make(map[string]*State, len(set))}
	for k, h := range set {
		if k == "" || h == "" {
			return nil, fmt.Errorf("%w: stimulus %q has no key or handle", fault.ErrConfig, k)
		}
		c.keys = append(c.keys, k)
		c.state[k] = &State{Handle: h}
	}
	sort.Strings(c.keys)
	return c, nil
}

// Keys returns the stimulus keys in sorted order.
func (c *Controller) Keys() []string {
	return append([]string(nil), c.keys...)
}

// Require checks that every key exists. It is run before trial 1 so a
// typo aborts the session instead of a trial halfway through.
func (c *Controller) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := c.state[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: stimulus set lacks %v", fault.ErrLookup, missing)
	}
	return nil
}

// HideAll hides every stimulus.
func (c *Controller) HideAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.keys {
		if err := c.setVisible(k, false); err != nil {
			return err
		}
	}
	return nil
}

// Hide hides one stimulus.
func (c *Controller) Hide(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(key); err != nil {
		return err
	}
	return c.setVisible(key, false)
}

// Show makes key visible. A nil pos or color leaves that property as it was.
func (c *Controller) Show(key string, pos *geom.Vec3, color *geom.Color) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(key); err != nil {
		return err
	}
	return c.show(key, pos, color)
}

// ShowOnly hides every other stimulus, then shows key.
func (c *Controller) ShowOnly(key string, pos *geom.Vec3, color *geom.Color) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(key); err != nil {
		return err
	}
	for _, k := range c.keys {
		if k == key {
			continue
		}
		if err := c.setVisible(k, false); err != nil {
			return err
		}
	}
	return c.show(key, pos, color)
}

// SetColor recolors key without changing its visibility.
func (c *Controller) SetColor(key string, color geom.Color) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(key); err != nil {
		return err
	}
	return c.setColor(key, color)
}

// Position returns the last position set for key.
func (c *Controller) Position(key string) (geom.Vec3, error) {
	s, err := c.State(key)
	return s.Pos, err
}

// State returns a snapshot of key.
func (c *Controller) State(key string) (State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.check(key); err != nil {
		return State{}, err
	}
	return *c.state[key], nil
}

func (c *Controller) check(key string) error {
	if _, ok := c.state[key]; !ok {
		return fmt.Errorf("%w: unknown stimulus %q", fault.ErrLookup, key)
	}
	return nil
}

func (c *Controller) show(key string, pos *geom.Vec3, color *geom.Color) error {
	s := c.state[key]
	if pos != nil {
		if err := c.r.SetPosition(s.Handle, *pos); err != nil {
			return fmt.Errorf("position %s: %w", key, err)
		}
		s.Pos = *pos
	}
	if color != nil {
		if err := c.setColor(key, *color); err != nil {
			return err
		}
	}
	return c.setVisible(key, true)
}

func (c *Controller) setVisible(key string, v bool) error {
	s := c.state[key]
	if err := c.r.SetVisible(s.Handle, v); err != nil {
		return fmt.Errorf("visibility %s: %w", key, err)
	}
	s.Visible = v
	return nil
}

func (c *Controller) setColor(key string, color geom.Color) error {
	s := c.state[key]
	if err := c.r.SetColor(s.Handle, color); err != nil {
		return fmt.Errorf("color %s: %w", key, err)
	}
	s.Color = color
	return nil
}
