// Package classify scores a reach against the trial's pro/anti condition.
package classify

import (
	"fmt"

	"github.com/cgast/vxcore/pkg/design"
	"github.com/cgast/vxcore/pkg/fault"
	"github.com/cgast/vxcore/pkg/geom"
)

// Side is a hemifield.
type Side string

const (
	Left  Side = "left"
	Right Side = "right"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Left {
		return Right
	}
	return Left
}

// Condition is the typed view of the factors the classifier needs.
type Condition struct {
	Target Side `json:"target"`
	Pro    bool `json:"pro"`
}

// Verdict is the classifier output merged into a trial result.
type Verdict struct {
	Hemifield Side `json:"hemifield"`
	Correct   bool `json:"correct"`
}

// HemifieldOf returns Right for x >= 0 and Left otherwise.
func HemifieldOf(pos geom.Vec3) Side {
	if pos.X() >= 0 {
		return Right
	}
	return Left
}

// Classify scores a reach ending at pos. A pro trial is correct when the
// reach lands on the target's side, an anti trial when it lands opposite.
func Classify(cond Condition, pos geom.Vec3) Verdict {
	h := HemifieldOf(pos)
	want := cond.Target
	if !cond.Pro {
		want = want.Opposite()
	}
	return Verdict{Hemifield: h, Correct: h == want}
}

// ConditionFromSpec reads target and pro from a trial. target must be
// "left" or "right"; pro may be 0/1 or a bool.
func ConditionFromSpec(spec design.TrialSpec) (Condition, error) {
	t, err := spec.Get("target")
	if err != nil {
		return Condition{}, fmt.Errorf("%w: %w", fault.ErrConfig, err)
	}
	var cond Condition
	switch t {
	case "left":
		cond.Target = Left
	case "right":
		cond.Target = Right
	default:
		return Condition{}, fmt.Errorf("%w: target must be left or right, got %v", fault.ErrConfig, t)
	}

	p, err := spec.Get("pro")
	if err != nil {
		return Condition{}, fmt.Errorf("%w: %w", fault.ErrConfig, err)
	}
	if cond.Pro, err = flag("pro", p); err != nil {
		return Condition{}, err
	}
	return cond, nil
}

// flag interprets a 0/1 or boolean factor level.
func flag(name string, v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	case int64:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	case float64:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	}
	return false, fmt.Errorf("%w: %s must be 0, 1 or a bool, got %v", fault.ErrConfig, name, v)
}

// Flag reads an optional 0/1 factor such as feedback. ok is false when
// the trial does not define it.
func Flag(spec design.TrialSpec, name string) (on bool, ok bool, err error) {
	if !spec.Has(name) {
		return false, false, nil
	}
	v, _ := spec.Get(name)
	on, err = flag(name, v)
	return on, true, err
}
