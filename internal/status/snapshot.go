package status

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/dispatcher/internal/lock"
)

// State is the coarse job state derived from the sentinel files.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateAborting State = "aborting"
	StateDone     State = "done"

	// StateStale means .pid is present but no dispatcher holds the lock, so
	// the supervisor died without cleaning up.
	StateStale State = "stale"
)

// Record is a point-in-time read of a project directory.
// Readers may observe transient combinations (neither .pid nor .done) while
// the supervisor is between steps; poll again rather than assume atomicity.
type Record struct {
	Dir          string    `json:"dir"`
	State        State     `json:"state"`
	Pid          int       `json:"pid,omitempty"`
	HasPid       bool      `json:"has_pid"`
	Code         int       `json:"code"`
	HasDone      bool      `json:"has_done"`
	AbortPending bool      `json:"abort_pending"`
	Aborted      bool      `json:"aborted"`
	Supervised   bool      `json:"supervised"`
	RunningSince time.Time `json:"running_since,omitempty"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
}

// Snapshot reads the sentinel files in dir.
func Snapshot(dir string) (Record, error) {
	rec := Record{Dir: dir, ObservedAt: time.Now().UTC()}

	info, err := os.Stat(dir)
	if err != nil {
		return rec, fmt.Errorf("project directory: %w", err)
	}
	if !info.IsDir() {
		return rec, fmt.Errorf("project directory %s is not a directory", dir)
	}

	pid, hasPid, err := readInt(filepath.Join(dir, PidFile))
	if err != nil {
		return rec, err
	}
	rec.Pid, rec.HasPid = pid, hasPid
	if hasPid {
		if fi, err := os.Stat(filepath.Join(dir, PidFile)); err == nil {
			rec.RunningSince = fi.ModTime().UTC()
		}
	}

	code, hasDone, err := readInt(filepath.Join(dir, DoneFile))
	if err != nil {
		return rec, err
	}
	rec.Code, rec.HasDone = code, hasDone
	if hasDone {
		if fi, err := os.Stat(filepath.Join(dir, DoneFile)); err == nil {
			rec.FinishedAt = fi.ModTime().UTC()
		}
	}

	rec.AbortPending = exists(filepath.Join(dir, AbortFile))
	rec.Aborted = exists(filepath.Join(dir, AbortedFile))

	lockPath := filepath.Join(dir, LockFile)
	rec.Supervised = lock.Held(lockPath)
	orphaned := rec.HasPid && !rec.Supervised && exists(lockPath)

	switch {
	case rec.HasDone:
		rec.State = StateDone
	case orphaned:
		rec.State = StateStale
	case rec.HasPid && rec.AbortPending:
		rec.State = StateAborting
	case rec.HasPid:
		rec.State = StateRunning
	default:
		rec.State = StateIdle
	}
	return rec, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
