// Package console renders operator-facing terminal output: the trial
// plan, session summaries and the participant intake form.
package console

import "github.com/charmbracelet/lipgloss"

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	LabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	ValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	GoodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	BadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	DimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	HeaderCellStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("250")).PaddingRight(2)
	CellStyle       = lipgloss.NewStyle().PaddingRight(2)

	FocusedLabelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	BoxStyle          = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)
