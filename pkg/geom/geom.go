package geom

import (
	"fmt"
	"math"
)

// Vec3 is a position in meters. It encodes as a three element array in
// YAML, JSON and TOML so config files can write [x, y, z].
type Vec3 [3]float64

// V constructs a Vec3.
func V(x, y, z float64) Vec3 {
	return Vec3{x, y, z}
}

func (v Vec3) X() float64 { return v[0] }
func (v Vec3) Y() float64 { return v[1] }
func (v Vec3) Z() float64 { return v[2] }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

// Len returns the Euclidean length of v.
func (v Vec3) Len() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func (v Vec3) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v[0], v[1], v[2])
}

// Color is an RGB triple with components in [0, 1].
type Color [3]float64

// Common colors.
var (
	White = Color{1, 1, 1}
	Red   = Color{1, 0, 0}
	Blue  = Color{0, 0, 1}
)

// Valid reports whether all components are within [0, 1].
func (c Color) Valid() bool {
	for _, x := range c {
		if x < 0 || x > 1 || math.IsNaN(x) {
			return false
		}
	}
	return true
}

func (c Color) String() string {
	return fmt.Sprintf("rgb(%.2f, %.2f, %.2f)", c[0], c[1], c[2])
}

// Frame selects the reference frame for a tracked position.
type Frame string

const (
	FrameGlobal Frame = "global"
	FrameLocal  Frame = "local"
)
