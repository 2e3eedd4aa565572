package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/dispatcher/internal/status"
)

func renderHeader(name string, rec status.Record, spin string, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := fmt.Sprintf(" DISPATCHER WATCH %s", theme.Highlight.Render(name))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	indicator := " "
	if rec.State == status.StateRunning || rec.State == status.StateAborting {
		indicator = spin
	}
	stateLine := fmt.Sprintf(" %s %s", indicator, theme.StateStyle(rec).Render(stateLabel(rec)))

	var details []string
	if rec.HasPid {
		details = append(details, fmt.Sprintf("pid %d", rec.Pid))
		details = append(details, "⏱ "+formatDuration(elapsed(rec, now)))
	}
	if rec.Supervised {
		details = append(details, "locked")
	}
	if !rec.FinishedAt.IsZero() {
		details = append(details, "finished "+rec.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
	detailLine := " " + theme.Dim.Render(strings.Join(details, "  "))

	dirLine := " " + theme.Dim.Render(rec.Dir)

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		stateLine,
		detailLine,
		dirLine,
	)
	return theme.Border.Width(innerWidth).Render(content)
}
