// Package statusui is an optional terminal view of the bridge: engine and
// client state, the position under analysis, its best lines and a tail of
// the log.
package statusui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jacokyle01/analysis-bridge/internal/models"
	"github.com/jacokyle01/analysis-bridge/internal/pubsub"
)

const maxLogLines = 200

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(10)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	scoreStyle = lipgloss.NewStyle().Bold(true).Width(7).Align(lipgloss.Right)
	logStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

type statusMsg models.Status

type logMsg string

// Model is the bubbletea model.
type Model struct {
	addr   string
	status models.Status
	logs   []string
	width  int
	height int

	statusEvents <-chan pubsub.Event[models.Status]
	logEvents    <-chan pubsub.Event[string]
}

// New returns a model showing initial until the first status event.
func New(addr string, initial models.Status, statusEvents <-chan pubsub.Event[models.Status], logEvents <-chan pubsub.Event[string]) Model {
	return Model{
		addr:         addr,
		status:       initial,
		statusEvents: statusEvents,
		logEvents:    logEvents,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitStatus(m.statusEvents), waitLog(m.logEvents))
}

func waitStatus(ch <-chan pubsub.Event[models.Status]) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return statusMsg(ev.Payload)
	}
}

func waitLog(ch <-chan pubsub.Event[string]) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(ev.Payload)
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		m.status = models.Status(msg)
		return m, waitStatus(m.statusEvents)
	case logMsg:
		m.logs = append(m.logs, string(msg))
		if len(m.logs) > maxLogLines {
			m.logs = m.logs[len(m.logs)-maxLogLines:]
		}
		return m, waitLog(m.logEvents)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("analysis-bridge"))
	b.WriteString("\n\n")
	b.WriteString(row("listen", m.addr))
	b.WriteString(row("engine", engineState(m.status.Engine)))
	b.WriteString(row("phase", m.status.Phase))
	client := m.status.Client
	if client == "" {
		client = warnStyle.Render("waiting for a client")
	}
	b.WriteString(row("client", client))
	if m.status.Position != "" {
		b.WriteString(row("position", m.status.Position))
	}

	if len(m.status.Lines) > 0 {
		b.WriteString("\n")
		for i, l := range m.status.Lines {
			moves := l.SAN
			if moves == "" {
				moves = l.UCIMoves
			}
			fmt.Fprintf(&b, "%d. %s  d%-3d %s\n", i+1, scoreStyle.Render(l.Score), l.Depth, truncate(moves, m.lineWidth()))
		}
	}

	if tail := m.logTail(); len(tail) > 0 {
		b.WriteString("\n")
		for _, l := range tail {
			b.WriteString(logStyle.Render(truncate(l, m.lineWidth())))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(logStyle.Render("q quit"))
	return boxStyle.Render(b.String())
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

func engineState(s string) string {
	switch s {
	case models.EngineReady:
		return okStyle.Render(s)
	case models.EngineTerminated:
		return errStyle.Render(s)
	default:
		return warnStyle.Render(s)
	}
}

func (m Model) lineWidth() int {
	if m.width <= 0 {
		return 100
	}
	return max(m.width-20, 20)
}

// logTail returns as many recent log lines as fit under the status block.
func (m Model) logTail() []string {
	n := 8
	if m.height > 0 {
		n = max(m.height-12-len(m.status.Lines), 3)
	}
	if len(m.logs) <= n {
		return m.logs
	}
	return m.logs[len(m.logs)-n:]
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// Run shows the view until the user quits or ctx is cancelled. A user quit
// returns nil; callers treat it as a shutdown request.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("status display: %w", err)
	}
	return nil
}
