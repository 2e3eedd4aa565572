package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dispatcher/internal/log"
	"github.com/mattjoyce/dispatcher/internal/policy"
	"github.com/mattjoyce/dispatcher/internal/status"
)

func realSupervisor(t *testing.T, p policy.Policy) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := status.NewFileStore(dir, log.Discard())
	require.NoError(t, err)
	return New(p, store, WithLogger(log.Discard())), dir
}

func doneCode(t *testing.T, dir string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, status.DoneFile))
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}

func fastPolicy() policy.Policy {
	p := policy.Default()
	p.KillGrace = time.Second
	return p
}

func TestSupervisedExitZero(t *testing.T) {
	sup, dir := realSupervisor(t, fastPolicy())

	res := sup.Run(context.Background(), Job{ID: "ok", Command: "exit 0", WorkingDirectory: dir})

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 0, res.ExitCode())
	assert.Equal(t, "0", doneCode(t, dir))
	assert.NoFileExists(t, filepath.Join(dir, status.PidFile))
}

func TestSupervisedExitCodePassThrough(t *testing.T) {
	sup, dir := realSupervisor(t, fastPolicy())

	res := sup.Run(context.Background(), Job{ID: "nineteen", Command: "exit 19", WorkingDirectory: dir})

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "19", doneCode(t, dir))
	assert.Equal(t, CodeFailure, res.ExitCode())
}

func TestSupervisedPidFileWhileRunning(t *testing.T) {
	sup, dir := realSupervisor(t, fastPolicy())

	done := make(chan Result, 1)
	go func() {
		done <- sup.Run(context.Background(), Job{ID: "pid", Command: "sleep 1", WorkingDirectory: dir})
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, status.PidFile))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	assert.NoFileExists(t, filepath.Join(dir, status.DoneFile))

	res := <-done
	assert.Equal(t, StateCompleted, res.State)
	assert.NoFileExists(t, filepath.Join(dir, status.PidFile))
	assert.Equal(t, "0", doneCode(t, dir))
}

func TestSupervisedTimeout(t *testing.T) {
	p := fastPolicy()
	p.MaxWallClock = time.Second
	sup, dir := realSupervisor(t, p)

	start := time.Now()
	res := sup.Run(context.Background(), Job{ID: "slow", Command: "sleep 30", WorkingDirectory: dir})

	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, "3", doneCode(t, dir))
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.NoFileExists(t, filepath.Join(dir, status.PidFile))
}

func TestSupervisedAbort(t *testing.T) {
	sup, dir := realSupervisor(t, fastPolicy())

	go func() {
		time.Sleep(300 * time.Millisecond)
		_ = status.RequestAbort(dir)
	}()

	start := time.Now()
	res := sup.Run(context.Background(), Job{ID: "abort", Command: "sleep 30", WorkingDirectory: dir})

	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, "1", doneCode(t, dir))
	assert.FileExists(t, filepath.Join(dir, status.AbortedFile))
	assert.NoFileExists(t, filepath.Join(dir, status.AbortFile))
	assert.Less(t, time.Since(start), 5*time.Second)
}

// lateAbortStore never sees the abort request, like a request filed after
// the last abort check of a job that then exits on its own.
type lateAbortStore struct {
	*status.FileStore
}

func (lateAbortStore) AbortRequested() bool { return false }

func TestSupervisedCompletionDropsUnseenAbort(t *testing.T) {
	dir := t.TempDir()
	fs, err := status.NewFileStore(dir, log.Discard())
	require.NoError(t, err)
	require.NoError(t, status.RequestAbort(dir))
	sup := New(fastPolicy(), lateAbortStore{fs}, WithLogger(log.Discard()))

	res := sup.Run(context.Background(), Job{ID: "late", Command: "exit 0", WorkingDirectory: dir})

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, "0", doneCode(t, dir))
	assert.NoFileExists(t, filepath.Join(dir, status.AbortFile))
	assert.NoFileExists(t, filepath.Join(dir, status.AbortedFile))
}

func TestSupervisedMemoryLimit(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("group sampling uses /proc")
	}
	p := fastPolicy()
	p.PollInterval = 100 * time.Millisecond
	p.MaxResidentMemoryKB = 1
	sup, dir := realSupervisor(t, p)

	res := sup.Run(context.Background(), Job{ID: "hog", Command: "sleep 30", WorkingDirectory: dir})

	assert.Equal(t, StateResourceExceeded, res.State)
	assert.Equal(t, "2", doneCode(t, dir))
	assert.Greater(t, res.PeakRSSKB, int64(1))
}

func TestSupervisedSpawnFailure(t *testing.T) {
	sup, dir := realSupervisor(t, fastPolicy())

	res := sup.Run(context.Background(), Job{ID: "bad", Command: "true", WorkingDirectory: filepath.Join(dir, "missing")})

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "1", doneCode(t, dir))
}
