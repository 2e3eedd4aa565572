package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Deathtrap is a detached helper process that SIGKILLs a process group after
// a delay. It runs in its own session, so it still fires if the dispatcher
// is killed before the group exits.
type Deathtrap struct {
	pgid int
	cmd  *exec.Cmd
	done chan struct{}
}

// ArmDeathtrap schedules SIGKILL for process group pgid after delay.
func ArmDeathtrap(pgid int, delay time.Duration) (*Deathtrap, error) {
	if pgid <= 1 {
		return nil, fmt.Errorf("refusing to arm deathtrap for process group %d", pgid)
	}
	secs := strconv.FormatFloat(delay.Seconds(), 'f', -1, 64)
	script := fmt.Sprintf("sleep %s; kill -s KILL -- -%d 2>/dev/null", secs, pgid)

	cmd := exec.Command(Shell, "-c", script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start deathtrap: %w", err)
	}

	t := &Deathtrap{pgid: pgid, cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(t.done)
	}()
	return t, nil
}

// Pid returns the helper's pid.
func (t *Deathtrap) Pid() int { return t.cmd.Process.Pid }

// Fired is closed once the helper has exited, either by firing or by Disarm.
func (t *Deathtrap) Fired() <-chan struct{} { return t.done }

// Disarm kills the helper's session so the pending SIGKILL never happens.
func (t *Deathtrap) Disarm() {
	select {
	case <-t.done:
		return
	default:
	}
	_ = unix.Kill(-t.cmd.Process.Pid, unix.SIGKILL)
	<-t.done
}
