package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/lua-threads/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxEntries bounds the transcript kept on screen.
const maxEntries = 50

type entry struct {
	err    error
	input  string
	output string
	result string
}

type interactiveModel struct {
	ctx      context.Context
	rt       *runtime.Runtime
	out      *syncBuffer
	input    textinput.Model
	entries  []entry
	history  []string
	histIdx  int
	busy     bool
	quitting bool
}

type evalResultMsg struct {
	err    error
	input  string
	result string
}

func newInteractiveModel(ctx context.Context, rt *runtime.Runtime, out *syncBuffer) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "lua chunk or expression"
	ti.Width = 72
	ti.Focus()

	return &interactiveModel{
		ctx:   ctx,
		rt:    rt,
		out:   out,
		input: ti,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			m.quitting = true
			return m, tea.Quit

		case "up":
			if len(m.history) > 0 && m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			return m, nil

		case "esc":
			m.input.SetValue("")
			return m, nil

		case "enter":
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.SetValue("")
			m.history = append(m.history, line)
			m.histIdx = len(m.history)

			if cmd, ok := m.command(line); ok {
				return m, cmd
			}
			m.busy = true
			return m, m.eval(line)
		}

	case evalResultMsg:
		m.busy = false
		m.push(entry{
			input:  msg.input,
			output: m.out.Take(),
			result: msg.result,
			err:    msg.err,
		})
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// command handles REPL meta commands.
func (m *interactiveModel) command(line string) (tea.Cmd, bool) {
	switch line {
	case ":quit", ":q":
		m.quitting = true
		return tea.Quit, true
	case ":threads":
		m.push(entry{input: line, result: fmt.Sprintf("%d running", m.rt.Threads())})
		return nil, true
	case ":metrics":
		var buf bytes.Buffer
		if err := m.rt.WriteMetrics(&buf); err != nil {
			m.push(entry{input: line, err: err})
		} else if buf.Len() == 0 {
			m.push(entry{input: line, result: "metrics disabled"})
		} else {
			m.push(entry{input: line, output: buf.String()})
		}
		return nil, true
	case ":clear":
		m.entries = nil
		return nil, true
	}
	return nil, false
}

func (m *interactiveModel) eval(line string) tea.Cmd {
	return func() tea.Msg {
		vals, err := m.rt.Eval(m.ctx, line)
		if err != nil {
			return evalResultMsg{input: line, err: describe(err)}
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = formatValue(v)
		}
		return evalResultMsg{input: line, result: strings.Join(parts, "\t")}
	}
}

func (m *interactiveModel) push(e entry) {
	m.entries = append(m.entries, e)
	if len(m.entries) > maxEntries {
		m.entries = m.entries[len(m.entries)-maxEntries:]
	}
}

func (m *interactiveModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Lua Threads"))
	b.WriteString(" ")
	b.WriteString(m.rt.Session().ID())
	b.WriteString("\n\n")

	for _, e := range m.entries {
		b.WriteString(promptStyle.Render("> " + e.input))
		b.WriteString("\n")
		if e.output != "" {
			b.WriteString(outputStyle.Render(strings.TrimRight(e.output, "\n")))
			b.WriteString("\n")
		}
		if e.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", e.err)))
			b.WriteString("\n")
		} else if e.result != "" {
			b.WriteString(resultStyle.Render(e.result))
			b.WriteString("\n")
		}
	}

	if m.busy {
		b.WriteString(helpStyle.Render("running..."))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter run • ↑/↓ history • :threads • :metrics • :clear • ctrl+d quit"))

	return b.String()
}

func runInteractive(ctx context.Context, rt *runtime.Runtime, out *syncBuffer) error {
	p := tea.NewProgram(newInteractiveModel(ctx, rt, out), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
