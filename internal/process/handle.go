// Package process owns a single supervised OS child process.
//
// A Handle starts a shell command in its own process group, answers
// non-blocking liveness polls, samples the group's resident memory and
// terminates it, gracefully or not. Graceful termination arms a detached
// Deathtrap first so the group is SIGKILLed even if this process dies while
// waiting.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Shell is the interpreter used to run job command lines.
const Shell = "/bin/sh"

// ErrSpawn marks a command that could not be launched at all.
var ErrSpawn = errors.New("spawn failed")

// LostCode is reported when the OS no longer knows the child.
const LostCode = 1

// Phase is the coarse liveness of a child.
type Phase int

const (
	Running Phase = iota
	Exited
	Lost
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Exited:
		return "exited"
	case Lost:
		return "lost"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Status is the result of a liveness poll. Code is only meaningful once the
// child is no longer Running.
type Status struct {
	Phase Phase
	Code  int
	Err   error
}

// Handle is one spawned child. It is not safe for concurrent use except that
// the internal reaper goroutine runs alongside the owner.
type Handle struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	done    chan struct{}
	state   *os.ProcessState
	waitErr error
}

// Spawn starts command through Shell in workDir (the current directory when
// empty). The child gets its own process group so that signals reach any
// grandchildren the shell forks.
func Spawn(command, workDir string) (*Handle, error) {
	if command == "" {
		return nil, fmt.Errorf("%w: empty command", ErrSpawn)
	}

	cmd := exec.Command(Shell, "-c", command)
	cmd.Dir = workDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	h := &Handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.waitErr = err
	h.state = h.cmd.ProcessState
	close(h.done)
}

// Pid returns the OS pid of the child, which is also its process group id.
func (h *Handle) Pid() int { return h.pid }

// StartedAt is the moment the child was spawned.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed once the child has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// PollNoHang reports the child's status without blocking.
func (h *Handle) PollNoHang() Status {
	select {
	case <-h.done:
		return h.exitStatus()
	default:
		return Status{Phase: Running}
	}
}

func (h *Handle) exitStatus() Status {
	var exitErr *exec.ExitError
	if h.waitErr != nil && !errors.As(h.waitErr, &exitErr) {
		return Status{Phase: Lost, Code: LostCode, Err: h.waitErr}
	}
	if h.state == nil {
		return Status{Phase: Lost, Code: LostCode, Err: errors.New("no process state")}
	}
	return Status{Phase: Exited, Code: ExitCode(h.state)}
}

// ExitCode maps a process state onto a shell-style exit code: the raw exit
// status, or 128+N when the process was killed by signal N.
func ExitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

// Terminate stops the child's process group and blocks until the group is
// empty.
//
// With graceful set, a detached Deathtrap is armed for grace before SIGTERM
// is sent. Members still alive when grace runs out, including ones that
// outlived the reaped leader, are SIGKILLed; the trap is disarmed only after
// that. Without graceful the group is SIGKILLed straight away.
func (h *Handle) Terminate(graceful bool, grace time.Duration) error {
	if h.exited() && !h.groupAlive() {
		return nil
	}

	if !graceful {
		if err := h.signalGroup(unix.SIGKILL); err != nil {
			return err
		}
		<-h.done
		h.waitGroupGone(time.Now().Add(reapWait))
		return nil
	}

	trap, trapErr := ArmDeathtrap(h.pid, grace)
	if err := h.signalGroup(unix.SIGTERM); err != nil {
		if trap != nil {
			trap.Disarm()
		}
		return err
	}
	deadline := time.Now().Add(grace)

	// The detached trap is the real safety net. The local timer only covers
	// the case where the helper could not be started.
	fallback := time.NewTimer(grace + time.Second)
	defer fallback.Stop()

	select {
	case <-h.done:
	case <-fallback.C:
		_ = h.signalGroup(unix.SIGKILL)
		<-h.done
	}

	// The leader is reaped; other members may still ignore SIGTERM.
	if !h.waitGroupGone(deadline) {
		_ = h.signalGroup(unix.SIGKILL)
		h.waitGroupGone(time.Now().Add(reapWait))
	}

	if trap != nil {
		trap.Disarm()
	}
	if trapErr != nil {
		return fmt.Errorf("terminated without deathtrap: %w", trapErr)
	}
	return nil
}

// reapWait bounds how long Terminate waits for SIGKILLed members to be
// reaped by their new parent.
const reapWait = time.Second

const groupPollInterval = 20 * time.Millisecond

func (h *Handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// groupAlive reports whether any process is left in the child's group.
func (h *Handle) groupAlive() bool {
	err := unix.Kill(-h.pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// waitGroupGone polls until the group is empty or deadline passes. It
// reports whether the group emptied.
func (h *Handle) waitGroupGone(deadline time.Time) bool {
	for h.groupAlive() {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(groupPollInterval)
	}
	return true
}

func (h *Handle) signalGroup(sig unix.Signal) error {
	err := unix.Kill(-h.pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal %v to process group %d: %w", sig, h.pid, err)
}
