package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/cgast/vxcore/pkg/session"
)

// ErrIntakeCanceled is returned when the operator leaves the form.
var ErrIntakeCanceled = errors.New("participant intake canceled")

const (
	fieldID = iota
	fieldAge
	fieldGender
	fieldHandedness
)

var intakeLabels = []string{"Participant ID", "Age", "Gender", "Handedness"}

// IntakeForm is the bubbletea model of the participant intake form.
type IntakeForm struct {
	inputs   []textinput.Model
	focus    int
	err      error
	done     bool
	canceled bool
	result   session.Participant
}

// NewIntakeForm returns a form with the ID field focused.
func NewIntakeForm() IntakeForm {
	placeholders := []string{"e.g. P01", "years", "optional", "left, right or ambidextrous"}
	inputs := make([]textinput.Model, len(intakeLabels))
	for i := range inputs {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = 64
		ti.Width = 32
		inputs[i] = ti
	}
	inputs[fieldAge].CharLimit = 3
	inputs[fieldID].Focus()
	return IntakeForm{inputs: inputs}
}

func (m IntakeForm) Init() tea.Cmd {
	return textinput.Blink
}

func (m IntakeForm) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc":
			m.canceled = true
			return m, tea.Quit
		case "tab", "down":
			cmd := m.move(1)
			return m, cmd
		case "shift+tab", "up":
			cmd := m.move(-1)
			return m, cmd
		case "enter":
			if m.focus < len(m.inputs)-1 {
				cmd := m.move(1)
				return m, cmd
			}
			p, err := m.submit()
			if err != nil {
				m.err = err
				return m, nil
			}
			m.result = p
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

// move shifts focus by delta, wrapping around.
func (m *IntakeForm) move(delta int) tea.Cmd {
	m.inputs[m.focus].Blur()
	m.focus = (m.focus + delta + len(m.inputs)) % len(m.inputs)
	return m.inputs[m.focus].Focus()
}

func (m IntakeForm) submit() (session.Participant, error) {
	value := func(i int) string { return strings.TrimSpace(m.inputs[i].Value()) }

	p := session.Participant{
		ID:     value(fieldID),
		Gender: value(fieldGender),
	}
	if p.ID == "" {
		return p, errors.New("participant ID is required")
	}
	if s := value(fieldAge); s != "" {
		age, err := strconv.Atoi(s)
		if err != nil || age <= 0 || age > 120 {
			return p, fmt.Errorf("age must be a number between 1 and 120, got %q", s)
		}
		p.Age = age
	}
	switch h := strings.ToLower(value(fieldHandedness)); h {
	case "", "left", "right", "ambidextrous":
		p.Handedness = h
	case "l":
		p.Handedness = "left"
	case "r":
		p.Handedness = "right"
	default:
		return p, fmt.Errorf("handedness must be left, right or ambidextrous, got %q", h)
	}
	return p, nil
}

func (m IntakeForm) View() string {
	if m.done || m.canceled {
		return ""
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Participant intake"))
	b.WriteString("\n\n")
	for i, in := range m.inputs {
		label := LabelStyle.Render(fmt.Sprintf("%-15s", intakeLabels[i]))
		if i == m.focus {
			label = FocusedLabelStyle.Render(fmt.Sprintf("%-15s", intakeLabels[i]))
		}
		b.WriteString(label + " " + in.View() + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + ErrorStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n" + DimStyle.Render("tab: next field  enter: confirm  esc: cancel"))
	return BoxStyle.Render(b.String())
}

// Participant returns the submitted data. ok is false unless the form
// was completed.
func (m IntakeForm) Participant() (session.Participant, bool) {
	return m.result, m.done
}

// Intake collects participant data on a terminal. It implements
// session.Intake.
type Intake struct {
	In  io.Reader
	Out io.Writer
}

func (t Intake) RequestParticipant(ctx context.Context) (session.Participant, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if t.In != nil {
		opts = append(opts, tea.WithInput(t.In))
	}
	if t.Out != nil {
		opts = append(opts, tea.WithOutput(t.Out))
	}

	final, err := tea.NewProgram(NewIntakeForm(), opts...).Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return session.Participant{}, ctxErr
	}
	if err != nil {
		return session.Participant{}, fmt.Errorf("intake form: %w", err)
	}
	form, ok := final.(IntakeForm)
	if !ok {
		return session.Participant{}, fmt.Errorf("intake form: unexpected model %T", final)
	}
	p, done := form.Participant()
	if !done {
		return session.Participant{}, ErrIntakeCanceled
	}
	return p, nil
}
