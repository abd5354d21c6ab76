package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/drawbridge/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateSelectRoutine modelState = iota
	stateInputArgs
	stateShowResult
)

type interactiveModel struct {
	err      error
	sess     *session.Session
	lib      *session.Library
	opts     options
	repr     string
	result   string
	exports  []session.Export
	inputs   []textinput.Model
	selected int
	focusIdx int
	state    modelState
}

type loadedMsg struct {
	err     error
	sess    *session.Session
	lib     *session.Library
	repr    string
	exports []session.Export
}

type callResultMsg struct {
	err    error
	result string
}

func newInteractiveModel(o options) *interactiveModel {
	return &interactiveModel{opts: o, state: stateSelectRoutine}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	ctx := context.Background()
	sess, lib, err := open(ctx, m.opts)
	if err != nil {
		return loadedMsg{err: err}
	}
	exports, err := lib.Exports(ctx)
	if err != nil {
		sess.Close(ctx)
		return loadedMsg{err: err}
	}
	repr, err := lib.Repr(ctx)
	if err != nil {
		repr = lib.Name()
	}
	return loadedMsg{sess: sess, lib: lib, repr: repr, exports: exports}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == stateInputArgs && msg.String() == "q" {
				break
			}
			if m.sess != nil {
				m.sess.Close(context.Background())
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == stateSelectRoutine && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectRoutine && m.selected < len(m.exports)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectRoutine:
				if len(m.exports) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callRoutine
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callRoutine

			case stateShowResult:
				m.state = stateSelectRoutine
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectRoutine
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectRoutine
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.sess = msg.sess
		m.lib = msg.lib
		m.repr = msg.repr
		m.exports = msg.exports

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	e := m.exports[m.selected]
	m.inputs = make([]textinput.Model, len(e.Args))
	for i, a := range e.Args {
		ti := textinput.New()
		ti.Placeholder = typeStr(a)
		ti.Prompt = fmt.Sprintf("arg%d: ", i+1)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callRoutine() tea.Msg {
	e := m.exports[m.selected]
	raw := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		raw[i] = input.Value()
	}
	result, err := call(context.Background(), m.lib, e.Name, e, raw)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: fmt.Sprintf("%v", result)}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.lib == nil {
		return "Loading library..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("drawbridge"))
	b.WriteString(" ")
	b.WriteString(m.repr)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectRoutine:
		if len(m.exports) == 0 {
			b.WriteString("The library exports no routines.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a routine to call:\n\n")
		for i, e := range m.exports {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + m.formatExport(e)))
			} else {
				b.WriteString("  " + m.formatExport(e))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputArgs:
		e := m.exports[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(e.Name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(typeStr(e.Args[i])))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		e := m.exports[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(e.Name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatExport(e session.Export) string {
	if !e.Declared {
		return funcStyle.Render(e.Name) + "(" + typeStyle.Render("?") + ")"
	}
	params := make([]string, len(e.Args))
	for i, a := range e.Args {
		params[i] = typeStyle.Render(typeStr(a))
	}
	return funcStyle.Render(e.Name) + "(" + strings.Join(params, ", ") + ") -> " + typeStyle.Render(typeStr(e.Result))
}

func runInteractive(o options) error {
	p := tea.NewProgram(newInteractiveModel(o), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
