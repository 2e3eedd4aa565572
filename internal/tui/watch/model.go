package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/dispatcher/internal/history"
	"github.com/mattjoyce/dispatcher/internal/status"
)

const runsShown = 10

// RunLister reads the run history ledger.
type RunLister interface {
	List(ctx context.Context, jobID string, limit int) ([]history.Run, error)
}

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	name     string
	dir      string
	runs     RunLister
	interval time.Duration

	width  int
	height int

	rec      status.Record
	recent   []history.Run
	runTable table.Model
	spinner  spinner.Model
	theme    Theme
	now      func() time.Time

	notice    string
	lastError string
}

type (
	snapshotMsg status.Record
	runsMsg     []history.Run
	pollMsg     time.Time
	abortedMsg  struct{}
	errMsg      struct{ error }
)

// New creates a watch model for the project directory dir. runs may be nil
// when no history ledger is configured.
func New(name, dir string, runs RunLister, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))

	return Model{
		name:     name,
		dir:      dir,
		runs:     runs,
		interval: interval,
		runTable: newRunsTable(),
		spinner:  sp,
		theme:    NewDefaultTheme(),
		now:      time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchSnapshot,
		m.fetchRuns,
		m.spinner.Tick,
		tea.Tick(m.interval, func(t time.Time) tea.Msg { return pollMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "a":
			if m.rec.State != status.StateRunning {
				m.notice = "nothing to abort"
				return m, nil
			}
			return m, m.requestAbort
		case "r":
			return m, tea.Batch(m.fetchSnapshot, m.fetchRuns)
		}
		var cmd tea.Cmd
		m.runTable, cmd = m.runTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case pollMsg:
		return m, tea.Batch(
			m.fetchSnapshot,
			tea.Tick(m.interval, func(t time.Time) tea.Msg { return pollMsg(t) }),
		)

	case snapshotMsg:
		prev := m.rec
		m.rec = status.Record(msg)
		m.lastError = ""
		// A run just finished: its ledger row is now available.
		if prev.State != status.StateDone && m.rec.State == status.StateDone {
			return m, m.fetchRuns
		}

	case runsMsg:
		m.recent = msg
		m.runTable.SetRows(runRows(m.recent))

	case abortedMsg:
		m.notice = "abort requested"
		return m, m.fetchSnapshot

	case errMsg:
		m.lastError = msg.Error()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	parts := []string{
		renderHeader(m.name, m.rec, m.spinner.View(), m.theme, m.width, m.now()),
	}
	if m.runs != nil {
		parts = append(parts, renderRuns(m.runTable, len(m.recent), m.theme, m.width))
	}
	if m.notice != "" {
		parts = append(parts, m.theme.Highlight.Render(" "+m.notice))
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [a] Abort • [r] Refresh • [↑/↓] Runs"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) fetchSnapshot() tea.Msg {
	rec, err := status.Snapshot(m.dir)
	if err != nil {
		return errMsg{err}
	}
	return snapshotMsg(rec)
}

func (m Model) fetchRuns() tea.Msg {
	if m.runs == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runs, err := m.runs.List(ctx, m.name, runsShown)
	if err != nil {
		return errMsg{fmt.Errorf("history: %w", err)}
	}
	return runsMsg(runs)
}

func (m Model) requestAbort() tea.Msg {
	if err := status.RequestAbort(m.dir); err != nil {
		return errMsg{err}
	}
	return abortedMsg{}
}
