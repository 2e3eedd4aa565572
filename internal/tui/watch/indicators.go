package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/dispatcher/internal/status"
)

// Meaning of the dispatcher-detected .done codes. Any other code is the
// job's own exit status.
var codeMeaning = map[int]string{
	0: "success",
	1: "failed / aborted / lost",
	2: "memory ceiling exceeded",
	3: "wall-clock limit exceeded",
}

// stateLabel renders the coarse state with its detail, e.g.
// "DONE (3: wall-clock limit exceeded)".
func stateLabel(rec status.Record) string {
	label := strings.ToUpper(string(rec.State))
	switch rec.State {
	case status.StateDone:
		meaning, ok := codeMeaning[rec.Code]
		if !ok {
			meaning = "job exit status"
		}
		label = fmt.Sprintf("%s (%d: %s)", label, rec.Code, meaning)
		if rec.Aborted {
			label += " aborted"
		}
	case status.StateAborting:
		label += " (abort requested)"
	case status.StateStale:
		label += " (dispatcher gone, .pid left behind)"
	}
	return label
}

// elapsed returns how long the job has been, or was, running.
func elapsed(rec status.Record, now time.Time) time.Duration {
	if rec.RunningSince.IsZero() {
		return 0
	}
	end := now
	if !rec.FinishedAt.IsZero() {
		end = rec.FinishedAt
	}
	if end.Before(rec.RunningSince) {
		return 0
	}
	return end.Sub(rec.RunningSince)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
