package console

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cgast/vxcore/pkg/design"
	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/trial"
)

// Table lays out rows under a header with aligned columns.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	line := make([]string, len(header))
	for i, h := range header {
		line[i] = HeaderCellStyle.Width(widths[i] + 2).Render(h)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, line...))
	b.WriteString("\n")
	for _, row := range rows {
		for i := range header {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			line[i] = CellStyle.Width(widths[i] + 2).Render(cell)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, line...))
		b.WriteString("\n")
	}
	return b.String()
}

// Plan renders a generated trial list for review.
func Plan(p design.Plan) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(p.Experiment))
	b.WriteString("\n")
	b.WriteString(field("source", p.Source))
	b.WriteString(field("trials", fmt.Sprintf("%d (repeat %d, %d excluded)", p.Trials.Len(), p.Repeat, p.Excluded)))
	b.WriteString(field("seed", fmt.Sprintf("%d", p.Seed)))
	b.WriteString("\n")

	header := append([]string{"#", "rep"}, p.Trials.Factors...)
	rows := make([][]string, 0, p.Trials.Len())
	for i, t := range p.Trials.Trials {
		row := []string{fmt.Sprintf("%d", i+1), fmt.Sprintf("%d", t.Repetition())}
		params := t.Params()
		for _, f := range p.Trials.Factors {
			row = append(row, fmt.Sprint(params[f]))
		}
		rows = append(rows, row)
	}
	b.WriteString(Table(header, rows))
	return b.String()
}

// Stats summarizes performance per condition.
type Stats struct {
	Condition string
	Trials    int
	Correct   int
	MeanRT    float64
}

// Accuracy is the share of correct trials.
func (s Stats) Accuracy() float64 {
	if s.Trials == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Trials)
}

// Summarize groups results by the pro factor when present. The first
// entry is always the total.
func Summarize(results []trial.Result) []Stats {
	total := Stats{Condition: "all"}
	groups := map[string]*Stats{}
	var rtSum = map[string]float64{}

	for _, r := range results {
		total.Trials++
		rtSum["all"] += r.RT
		if r.Correct {
			total.Correct++
		}

		key := conditionName(r.Params)
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &Stats{Condition: key}
			groups[key] = g
		}
		g.Trials++
		rtSum[key] += r.RT
		if r.Correct {
			g.Correct++
		}
	}

	if total.Trials > 0 {
		total.MeanRT = rtSum["all"] / float64(total.Trials)
	}
	out := []Stats{total}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		g := groups[k]
		g.MeanRT = rtSum[k] / float64(g.Trials)
		out = append(out, *g)
	}
	return out
}

func conditionName(params map[string]any) string {
	v, ok := params["pro"]
	if !ok {
		return ""
	}
	switch fmt.Sprint(v) {
	case "1", "true":
		return "pro"
	case "0", "false":
		return "anti"
	}
	return ""
}

// Summary renders the end-of-session report shown to the operator.
func Summary(rec session.Record) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session " + rec.Meta.ID))
	b.WriteString("\n")
	b.WriteString(field("experiment", rec.Meta.Experiment))
	b.WriteString(field("participant", rec.Meta.Participant.ID))
	b.WriteString(field("status", statusText(rec.Meta.Status)))
	if rec.Meta.Error != "" {
		b.WriteString(field("error", ErrorStyle.Render(rec.Meta.Error)))
	}
	if q := rec.Meta.Validation; q != nil {
		b.WriteString(field("validation", fmt.Sprintf("%s accuracy %.2f° precision %.2f°", q.Scheme, q.Accuracy, q.Precision)))
	}
	b.WriteString(field("trials", fmt.Sprintf("%d/%d", len(rec.Results), rec.Meta.TrialCount)))
	b.WriteString("\n")

	stats := Summarize(rec.Results)
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		acc := fmt.Sprintf("%.0f%%", 100*s.Accuracy())
		if s.Trials > 0 && s.Accuracy() >= 0.75 {
			acc = GoodStyle.Render(acc)
		} else if s.Trials > 0 {
			acc = BadStyle.Render(acc)
		}
		rows = append(rows, []string{s.Condition, fmt.Sprintf("%d", s.Trials), acc, fmt.Sprintf("%.0f", s.MeanRT)})
	}
	b.WriteString(Table([]string{"condition", "trials", "correct", "mean RT (ms)"}, rows))
	return b.String()
}

// Sessions renders the journal listing.
func Sessions(list []session.Metadata) string {
	if len(list) == 0 {
		return DimStyle.Render("no journaled sessions") + "\n"
	}
	rows := make([][]string, 0, len(list))
	for _, m := range list {
		rows = append(rows, []string{
			m.ID,
			m.Experiment,
			m.Participant.ID,
			m.Started.Local().Format("2006-01-02 15:04"),
			statusText(m.Status),
			fmt.Sprintf("%d", m.TrialCount),
		})
	}
	return Table([]string{"id", "experiment", "participant", "started", "status", "planned"}, rows)
}

func statusText(s session.Status) string {
	switch s {
	case session.StatusComplete:
		return GoodStyle.Render(string(s))
	case session.StatusAborted:
		return BadStyle.Render(string(s))
	}
	return ValueStyle.Render(string(s))
}

func field(label, value string) string {
	return LabelStyle.Render(fmt.Sprintf("%-12s", label)) + " " + ValueStyle.Render(value) + "\n"
}
