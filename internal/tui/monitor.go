// Package tui holds the remote monitor: a live view of every job a
// `dispatcher serve` instance observes, fed by its /events stream.
package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/dispatcher/internal/api"
	"github.com/mattjoyce/dispatcher/internal/status"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusIdle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

const maxEventLog = 200

// --- Types ---

// logLine is one entry of the monitor's event log.
type logLine struct {
	At    time.Time
	Name  string
	State status.State
	Code  int
	Pid   int
}

type Model struct {
	apiURL string
	apiKey string
	client *http.Client

	width  int
	height int

	jobs      map[string]status.Record
	eventLog  []logLine
	hubEvents chan api.JobEvent
	connected bool
	lastError string

	health api.HealthzResponse

	jobTable table.Model
	viewport viewport.Model
}

type (
	eventMsg        api.JobEvent
	healthMsg       api.HealthzResponse
	disconnectedMsg struct{ err error }
	reconnectMsg    struct{}
	errMsg          struct{ error }
)

// --- Init ---

func NewMonitor(apiURL, apiKey string) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Job", Width: 20},
			{Title: "State", Width: 10},
			{Title: "PID", Width: 8},
			{Title: "Code", Width: 5},
			{Title: "Running", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		apiURL:    strings.TrimRight(apiURL, "/"),
		apiKey:    apiKey,
		client:    &http.Client{},
		jobs:      make(map[string]status.Record),
		hubEvents: make(chan api.JobEvent, 100),
		jobTable:  t,
		viewport:  viewport.New(80, 8),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribeToEvents(),
		m.receiveNextEvent(),
		m.fetchHealth,
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "pgup", "pgdown":
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobTable.SetWidth(m.width - 6)
		m.viewport.Width = m.width - 6
		m.viewport.Height = m.height / 3

	case eventMsg:
		m.handleEvent(api.JobEvent(msg), time.Now())
		m.connected = true
		m.lastError = ""
		return m, m.receiveNextEvent()

	case healthMsg:
		m.health = api.HealthzResponse(msg)
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.fetchHealth()
		})

	case disconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.subscribeToEvents()

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return m.fetchHealth()
		})
	}

	m.jobTable, cmd = m.jobTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e api.JobEvent, at time.Time) {
	m.jobs[e.Name] = e.Status

	m.eventLog = append([]logLine{{
		At:    at,
		Name:  e.Name,
		State: e.Status.State,
		Code:  e.Status.Code,
		Pid:   e.Status.Pid,
	}}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	m.jobTable.SetRows(m.rows(at))
	m.viewport.SetContent(m.renderEvents())
}

func (m *Model) rows(now time.Time) []table.Row {
	names := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		rec := m.jobs[name]
		pid, code, running := "-", "-", "-"
		if rec.HasPid {
			pid = strconv.Itoa(rec.Pid)
			if !rec.RunningSince.IsZero() {
				running = now.Sub(rec.RunningSince).Round(time.Second).String()
			}
		}
		if rec.HasDone {
			code = strconv.Itoa(rec.Code)
		}
		rows = append(rows, table.Row{stateSymbol(rec), name, string(rec.State), pid, code, running})
	}
	return rows
}

func stateSymbol(rec status.Record) string {
	switch rec.State {
	case status.StateRunning:
		return statusRunning.Render("◉")
	case status.StateAborting:
		return statusRunning.Render("◑")
	case status.StateStale:
		return statusFailed.Render("◔")
	case status.StateDone:
		if rec.Code == 0 {
			return statusOK.Render("●")
		}
		return statusFailed.Render("∅")
	default:
		return statusIdle.Render("○")
	}
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	jobsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Jobs"),
			m.jobTable.View(),
		),
	)
	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("State Changes"),
			m.viewport.View(),
		),
	)

	parts := []string{m.renderHeader(), jobsView, eventsView}
	if m.lastError != "" {
		parts = append(parts, statusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Jobs • [PgUp/PgDn] Events"))

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	conn := statusOK.Render("CONNECTED")
	if !m.connected {
		conn = statusFailed.Render("CONNECTING")
	}
	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	history := "off"
	if m.health.History {
		history = "on"
	}

	items := []string{
		fmt.Sprintf("Stream: %s", conn),
		fmt.Sprintf("Uptime: %s", uptime),
		fmt.Sprintf("Jobs: %d", m.health.Jobs),
		fmt.Sprintf("History: %s", history),
	}
	cell := lipgloss.NewStyle().Width((m.width - 4) / len(items))
	cells := make([]string, 0, len(items))
	for _, it := range items {
		cells = append(cells, cell.Render(it))
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m Model) renderEvents() string {
	if len(m.eventLog) == 0 {
		return "  No state changes yet..."
	}
	lines := make([]string, 0, len(m.eventLog))
	for _, e := range m.eventLog {
		line := fmt.Sprintf("%s | %-20s | %-9s", e.At.Format("15:04:05"), e.Name, e.State)
		switch e.State {
		case status.StateDone:
			line += fmt.Sprintf(" | code %d", e.Code)
		case status.StateRunning, status.StateAborting:
			line += fmt.Sprintf(" | pid %d", e.Pid)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// --- Commands ---

func (m Model) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.apiURL+path, nil)
	if err != nil {
		return nil, err
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	return req, nil
}

// subscribeToEvents streams job.state events into hubEvents until the
// connection drops.
func (m Model) subscribeToEvents() tea.Cmd {
	return func() tea.Msg {
		req, err := m.newRequest(context.Background(), "/events")
		if err != nil {
			return errMsg{err}
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return disconnectedMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return disconnectedMsg{err: fmt.Errorf("GET /events: %s", resp.Status)}
		}
		return disconnectedMsg{err: readEvents(resp.Body, m.hubEvents)}
	}
}

// readEvents parses an SSE stream and forwards job.state payloads.
func readEvents(r io.Reader, out chan<- api.JobEvent) error {
	scanner := bufio.NewScanner(r)
	eventType := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventType = ""
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if eventType != api.EventJobState {
				continue
			}
			var ev api.JobEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err == nil {
				out <- ev
			}
		}
	}
	return scanner.Err()
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.hubEvents)
	}
}

func (m Model) fetchHealth() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := m.newRequest(ctx, "/healthz")
	if err != nil {
		return errMsg{err}
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return errMsg{err}
	}
	defer resp.Body.Close()

	var h api.HealthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg{err}
	}
	return healthMsg(h)
}
