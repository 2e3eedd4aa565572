package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/mattjoyce/dispatcher/internal/process"
)

// Status codes persisted to .done for dispatcher-detected outcomes. A child
// that exits on its own has its raw exit code persisted instead.
const (
	CodeSuccess = 0
	CodeFailure = 1
	CodeMemory  = 2
	CodeTimeout = 3
)

// ErrNoCommand is returned for a job without a command line.
var ErrNoCommand = errors.New("no command given")

// State is a position in the supervision state machine.
type State string

const (
	StateStarting         State = "starting"
	StateRunning          State = "running"
	StateCompleted        State = "completed"
	StateAborting         State = "aborting"
	StateAborted          State = "aborted"
	StateResourceExceeded State = "resource_exceeded"
	StateTimedOut         State = "timed_out"
	StateLost             State = "lost"
	StateFailed           State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateAborted, StateResourceExceeded, StateTimedOut, StateLost, StateFailed:
		return true
	}
	return false
}

// Job is one supervised invocation.
type Job struct {
	ID      string
	Command string
	// WorkingDirectory is where the command runs. Empty means the current
	// directory.
	WorkingDirectory string
}

// Result describes how a run ended.
type Result struct {
	JobID   string
	State   State
	Code    int // persisted to .done
	Pid     int
	Elapsed time.Duration

	// ChildCode is the child's own exit code when it was reaped, -1 otherwise.
	ChildCode int
	StartedAt time.Time
	EndedAt   time.Time
	Idle      time.Duration
	PeakRSSKB int64
	Err       error
}

// ExitCode is the dispatcher's own exit status: 0 for success, 1 for a job
// that failed on its own, and the synthetic codes for dispatcher-detected
// conditions.
func (r Result) ExitCode() int {
	switch r.State {
	case StateCompleted:
		if r.Code == 0 {
			return CodeSuccess
		}
		return CodeFailure
	case StateResourceExceeded:
		return CodeMemory
	case StateTimedOut:
		return CodeTimeout
	default:
		return CodeFailure
	}
}

//go:generate mockgen -destination=mocks/mock_process.go -package=mocks github.com/mattjoyce/dispatcher/internal/supervisor Process

// Process is the supervisor's view of a spawned child.
type Process interface {
	Pid() int
	PollNoHang() process.Status
	SampleResidentMemoryKB() (int64, error)
	Terminate(graceful bool, grace time.Duration) error
}

// Spawner starts a command in a working directory.
type Spawner func(command, workDir string) (Process, error)

// Recorder is told about every finished run.
type Recorder interface {
	Record(ctx context.Context, job Job, res Result) error
}

// Clock abstracts time so the control loop can be driven in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func spawnProcess(command, workDir string) (Process, error) {
	h, err := process.Spawn(command, workDir)
	if err != nil {
		return nil, err
	}
	return h, nil
}
