package design

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cgast/vxcore/pkg/fault"
)

// Factor is a named experimental dimension with ordered discrete levels.
type Factor struct {
	Name   string `yaml:"name" json:"name"`
	Levels []any  `yaml:"levels" json:"levels"`
}

// TrialSpec is one trial's fixed combination of factor levels. It is
// immutable: params are only reachable through accessors that copy.
type TrialSpec struct {
	params     map[string]any
	repetition int
}

// NewTrialSpec builds a TrialSpec from a params map. The map is copied.
func NewTrialSpec(params map[string]any, repetition int) TrialSpec {
	cp := make(map[string]any, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return TrialSpec{params: cp, repetition: repetition}
}

// Repetition returns the 0-based repetition block this trial came from.
func (s TrialSpec) Repetition() int { return s.repetition }

// Has reports whether the trial defines the named factor.
func (s TrialSpec) Has(name string) bool {
	_, ok := s.params[name]
	return ok
}

// Get returns the level of the named factor. Unknown names are a lookup
// error rather than a zero value.
func (s TrialSpec) Get(name string) (any, error) {
	v, ok := s.params[name]
	if !ok {
		return nil, fmt.Errorf("%w: trial has no factor %q", fault.ErrLookup, name)
	}
	return v, nil
}

// Params returns a copy of the factor levels.
func (s TrialSpec) Params() map[string]any {
	cp := make(map[string]any, len(s.params))
	for k, v := range s.params {
		cp[k] = v
	}
	return cp
}

// Key renders the levels in schema order, e.g. "target=left|pro=1".
// Two specs with the same key are the same factor combination.
func (s TrialSpec) Key(schema []string) string {
	parts := make([]string, len(schema))
	for i, name := range schema {
		parts[i] = fmt.Sprintf("%s=%v", name, s.params[name])
	}
	return strings.Join(parts, "|")
}

func (s TrialSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Params     map[string]any `json:"params"`
		Repetition int            `json:"repetition"`
	}{s.params, s.repetition})
}

// TrialList is an ordered sequence of trials plus the factor schema.
type TrialList struct {
	Factors []string    `json:"factors"`
	Trials  []TrialSpec `json:"trials"`
}

// Len returns the number of trials.
func (l TrialList) Len() int { return len(l.Trials) }

// Counts returns how often each factor combination occurs, keyed by TrialSpec.Key.
func (l TrialList) Counts() map[string]int {
	counts := make(map[string]int)
	for _, t := range l.Trials {
		counts[t.Key(l.Factors)]++
	}
	return counts
}

// FullFactorial crosses all factor levels and repeats the product repeat
// times. The first factor varies slowest. The result is not shuffled.
func FullFactorial(factors []Factor, repeat int) (TrialList, error) {
	if repeat < 1 {
		return TrialList{}, fmt.Errorf("%w: repeat must be >= 1, got %d", fault.ErrConfig, repeat)
	}
	if len(factors) == 0 {
		return TrialList{}, fmt.Errorf("%w: design has no factors", fault.ErrConfig)
	}

	names := make([]string, len(factors))
	seen := make(map[string]bool, len(factors))
	for i, f := range factors {
		if f.Name == "" {
			return TrialList{}, fmt.Errorf("%w: factor %d has no name", fault.ErrConfig, i)
		}
		if seen[f.Name] {
			return TrialList{}, fmt.Errorf("%w: duplicate factor %q", fault.ErrConfig, f.Name)
		}
		seen[f.Name] = true
		if len(f.Levels) == 0 {
			return TrialList{}, fmt.Errorf("%w: factor %q has no levels", fault.ErrConfig, f.Name)
		}
		if err := checkLevels(f); err != nil {
			return TrialList{}, err
		}
		names[i] = f.Name
	}

	combos := cross(factors)
	trials := make([]TrialSpec, 0, len(combos)*repeat)
	for r := 0; r < repeat; r++ {
		for _, c := range combos {
			trials = append(trials, TrialSpec{params: c, repetition: r})
		}
	}
	return TrialList{Factors: names, Trials: trials}, nil
}

// cross returns the Cartesian product, last factor varying fastest.
func cross(factors []Factor) []map[string]any {
	combos := []map[string]any{{}}
	for _, f := range factors {
		next := make([]map[string]any, 0, len(combos)*len(f.Levels))
		for _, c := range combos {
			for _, lvl := range f.Levels {
				m := make(map[string]any, len(c)+1)
				for k, v := range c {
					m[k] = v
				}
				m[f.Name] = lvl
				next = append(next, m)
			}
		}
		combos = next
	}
	return combos
}

func checkLevels(f Factor) error {
	seen := make(map[string]bool, len(f.Levels))
	for i, lvl := range f.Levels {
		if !isScalar(lvl) {
			return fmt.Errorf("%w: factor %q level %d is not a scalar (%T)", fault.ErrConfig, f.Name, i, lvl)
		}
		k := fmt.Sprintf("%T:%v", lvl, lvl)
		if seen[k] {
			return fmt.Errorf("%w: factor %q repeats level %v", fault.ErrConfig, f.Name, lvl)
		}
		seen[k] = true
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int64, float64:
		return true
	}
	return false
}

// FromTable treats each row as one trial verbatim and repeats the table
// repeat times. Every row must have the same columns. Column order is
// alphabetical since maps carry no order; ReadCSV keeps header order.
func FromTable(rows []map[string]any, repeat int) (TrialList, error) {
	if len(rows) == 0 {
		return TrialList{}, fmt.Errorf("%w: trial table has no rows", fault.ErrParse)
	}
	columns := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return fromRows(columns, rows, repeat)
}

func fromRows(columns []string, rows []map[string]any, repeat int) (TrialList, error) {
	if repeat < 1 {
		return TrialList{}, fmt.Errorf("%w: repeat must be >= 1, got %d", fault.ErrConfig, repeat)
	}
	if len(columns) == 0 {
		return TrialList{}, fmt.Errorf("%w: trial table has no columns", fault.ErrParse)
	}
	if len(rows) == 0 {
		return TrialList{}, fmt.Errorf("%w: trial table has no rows", fault.ErrParse)
	}

	for i, row := range rows {
		if len(row) != len(columns) {
			return TrialList{}, fmt.Errorf("%w: row %d has %d columns, expected %d", fault.ErrParse, i+1, len(row), len(columns))
		}
		for _, col := range columns {
			v, ok := row[col]
			if !ok {
				return TrialList{}, fmt.Errorf("%w: row %d is missing column %q", fault.ErrParse, i+1, col)
			}
			if !isScalar(v) {
				return TrialList{}, fmt.Errorf("%w: row %d column %q is not a scalar (%T)", fault.ErrParse, i+1, col, v)
			}
		}
	}

	trials := make([]TrialSpec, 0, len(rows)*repeat)
	for r := 0; r < repeat; r++ {
		for _, row := range rows {
			trials = append(trials, NewTrialSpec(row, r))
		}
	}
	return TrialList{Factors: append([]string(nil), columns...), Trials: trials}, nil
}
