package trial

import (
	"strconv"
	"sync"

	"github.com/cgast/vxcore/pkg/classify"
	"github.com/cgast/vxcore/pkg/geom"
)

// Result is one frozen trial record. Times are milliseconds on the
// session clock.
type Result struct {
	Trial        int            `json:"trial"` // 1-based, execution order
	Repetition   int            `json:"repetition"`
	Params       map[string]any `json:"params"`
	StartTime    float64        `json:"start_time"`
	FixOnsetTime float64        `json:"fix_onset_time"`
	GoTime       float64        `json:"go_time"`
	ReachTime    float64        `json:"reach_time"`
	RT           float64        `json:"RT"`
	Hit          geom.Vec3      `json:"hit"`
	Hemifield    classify.Side  `json:"hemifield"`
	Correct      bool           `json:"correct"`
}

// ResultColumns follow the factor columns in exported tables.
var ResultColumns = []string{
	"trial", "repetition",
	"start_time", "fix_onset_time", "go_time", "reach_time", "RT",
	"hit_x", "hit_y", "hit_z",
	"hemifield", "correct",
}

// Columns returns the full table header for a factor schema.
func Columns(factors []string) []string {
	cols := make([]string, 0, len(factors)+len(ResultColumns))
	cols = append(cols, factors...)
	return append(cols, ResultColumns...)
}

// Row renders r in Columns(factors) order.
func (r Result) Row(factors []string) []string {
	row := make([]string, 0, len(factors)+len(ResultColumns))
	for _, f := range factors {
		row = append(row, formatValue(r.Params[f]))
	}
	return append(row,
		strconv.Itoa(r.Trial),
		strconv.Itoa(r.Repetition),
		formatFloat(r.StartTime),
		formatFloat(r.FixOnsetTime),
		formatFloat(r.GoTime),
		formatFloat(r.ReachTime),
		formatFloat(r.RT),
		formatFloat(r.Hit.X()),
		formatFloat(r.Hit.Y()),
		formatFloat(r.Hit.Z()),
		string(r.Hemifield),
		strconv.FormatBool(r.Correct),
	)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// Table is the append-only list of frozen results for one session. It
// is safe to read while a session is running.
type Table struct {
	factors []string

	mu   sync.RWMutex
	rows []Result
}

// NewTable creates an empty table for the given factor schema.
func NewTable(factors []string) *Table {
	return &Table{factors: append([]string(nil), factors...)}
}

// Factors returns the factor schema.
func (t *Table) Factors() []string {
	return append([]string(nil), t.factors...)
}

// Append adds a frozen result.
func (t *Table) Append(r Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, r)
}

// Len returns the number of results.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Results returns a copy of all results in execution order.
func (t *Table) Results() []Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Result(nil), t.rows...)
}
