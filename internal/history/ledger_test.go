package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dispatcher/internal/config"
	"github.com/mattjoyce/dispatcher/internal/storage"
	"github.com/mattjoyce/dispatcher/internal/supervisor"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func finished(state supervisor.State, code int, started time.Time) supervisor.Result {
	return supervisor.Result{
		JobID:     "nightly",
		State:     state,
		Code:      code,
		ChildCode: -1,
		Pid:       4242,
		StartedAt: started,
		EndedAt:   started.Add(1500 * time.Millisecond),
		Elapsed:   1500 * time.Millisecond,
		Idle:      1200 * time.Millisecond,
		PeakRSSKB: 2048,
	}
}

func TestRecordAndList(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()
	job := supervisor.Job{ID: "nightly", Command: "make report", WorkingDirectory: "/srv/proj"}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	res := finished(supervisor.StateCompleted, 19, base)
	res.ChildCode = 19
	require.NoError(t, l.Record(ctx, job, res))
	require.NoError(t, l.Record(ctx, job, finished(supervisor.StateTimedOut, 3, base.Add(time.Hour))))

	runs, err := l.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	newest := runs[0]
	assert.Equal(t, supervisor.StateTimedOut, newest.State)
	assert.Equal(t, 3, newest.Code)
	assert.Equal(t, supervisor.CodeTimeout, newest.ExitCode)
	assert.NotEmpty(t, newest.ID)

	older := runs[1]
	assert.Equal(t, supervisor.StateCompleted, older.State)
	assert.Equal(t, 19, older.Code)
	assert.Equal(t, 19, older.ChildCode)
	assert.Equal(t, supervisor.CodeFailure, older.ExitCode)
	assert.Equal(t, "make report", older.Command)
	assert.Equal(t, config.DigestBytes([]byte("make report")), older.CommandDigest)
	assert.Equal(t, "/srv/proj", older.ProjectDir)
	assert.Equal(t, 4242, older.Pid)
	assert.Equal(t, os.Getpid(), older.DispatcherPid)
	assert.True(t, base.Equal(older.StartedAt))
	assert.Equal(t, 1500*time.Millisecond, older.Elapsed)
	assert.Equal(t, 1200*time.Millisecond, older.Idle)
	assert.Equal(t, int64(2048), older.PeakRSSKB)
	assert.NotEqual(t, newest.ID, older.ID)
}

func TestListFiltersByJobAndLimits(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(ctx,
			supervisor.Job{ID: "a", Command: "true"},
			finished(supervisor.StateCompleted, 0, base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, l.Record(ctx,
		supervisor.Job{ID: "b", Command: "true"},
		finished(supervisor.StateAborted, 1, base)))

	runs, err := l.List(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, "a", r.JobID)
	}
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))

	last, err := l.Last(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, supervisor.StateAborted, last.State)

	none, err := l.Last(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRecordKeepsError(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	res := finished(supervisor.StateFailed, 1, time.Time{})
	res.EndedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res.Err = errors.New("spawn: no such file or directory")
	require.NoError(t, l.Record(ctx, supervisor.Job{ID: "bad", Command: "nope"}, res))

	last, err := l.Last(ctx, "bad")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "spawn: no such file or directory", last.LastError)
	assert.True(t, last.StartedAt.Equal(last.EndedAt))
}

func TestRecordRejectsUnfinishedRun(t *testing.T) {
	l := openLedger(t)

	err := l.Record(context.Background(),
		supervisor.Job{ID: "x", Command: "true"},
		supervisor.Result{State: supervisor.StateRunning})
	assert.Error(t, err)
}

func TestOpenReportsLedgerPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open history ledger")
	assert.Contains(t, err.Error(), "history_db")
	assert.False(t, errors.Is(err, storage.ErrNetworkFilesystem))

	// A file where the ledger directory should be.
	blocker := filepath.Join(t.TempDir(), "ledger")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	_, err = Open(context.Background(), filepath.Join(blocker, "history.db"))
	assert.Error(t, err)
}
