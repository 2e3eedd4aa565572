// Package watch implements the dispatcher watch TUI: a live view of one
// project directory's status files and its recent runs.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/dispatcher/internal/status"
)

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	// Status colors
	StatusOK       lipgloss.Style
	StatusRunning  lipgloss.Style
	StatusAborting lipgloss.Style
	StatusFailed   lipgloss.Style
	StatusIdle     lipgloss.Style

	// UI elements
	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:       lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusAborting: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500")),
		StatusFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusIdle:     lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}

// StateStyle picks the color for a status record. A finished job is green
// only when its code is 0.
func (t Theme) StateStyle(rec status.Record) lipgloss.Style {
	switch rec.State {
	case status.StateRunning:
		return t.StatusRunning
	case status.StateAborting:
		return t.StatusAborting
	case status.StateStale:
		return t.StatusFailed
	case status.StateDone:
		if rec.Code == 0 {
			return t.StatusOK
		}
		return t.StatusFailed
	default:
		return t.StatusIdle
	}
}
