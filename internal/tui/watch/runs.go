package watch

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/dispatcher/internal/history"
)

func newRunsTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Started", Width: 19},
			{Title: "State", Width: 18},
			{Title: "Code", Width: 5},
			{Title: "Elapsed", Width: 9},
			{Title: "Peak RSS", Width: 10},
			{Title: "Command", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
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
	return t
}

func runRows(runs []history.Run) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		rss := "-"
		if r.PeakRSSKB > 0 {
			rss = fmt.Sprintf("%d KB", r.PeakRSSKB)
		}
		rows = append(rows, table.Row{
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			string(r.State),
			strconv.Itoa(r.Code),
			formatDuration(r.Elapsed),
			rss,
			r.Command,
		})
	}
	return rows
}

func renderRuns(t table.Model, count int, theme Theme, width int) string {
	title := theme.Header.Render(fmt.Sprintf(" RECENT RUNS (%d)", count))
	if count == 0 {
		return theme.Border.Width(width - 4).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render(" no runs recorded")))
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, t.View()))
}
