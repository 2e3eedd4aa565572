package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dispatcher/internal/history"
	"github.com/mattjoyce/dispatcher/internal/lock"
	"github.com/mattjoyce/dispatcher/internal/status"
	"github.com/mattjoyce/dispatcher/internal/supervisor"
)

const fastSettings = "DISPATCHER_POLLINTERVAL: 1\nDISPATCHER_KILLGRACE: 1\nlog_level: error\n"

func writeSettingsFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readDone(t *testing.T, dir string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, status.DoneFile))
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}

func TestParseInvocation(t *testing.T) {
	settingsDir := t.TempDir()
	settingsFile := writeSettingsFile(t, settingsDir, "prod.yaml", "")
	project := t.TempDir()

	t.Run("basic", func(t *testing.T) {
		inv, err := parseInvocation([]string{"prod", project, "make", "report"})
		require.NoError(t, err)
		assert.Nil(t, inv.SearchPath)
		assert.Equal(t, "prod", inv.Settings)
		assert.Equal(t, project, inv.ProjectDir)
		assert.Equal(t, "make report", inv.Command)
		assert.Equal(t, filepath.Base(project), inv.JobID())
	})

	t.Run("search path", func(t *testing.T) {
		inv, err := parseInvocation([]string{settingsDir + ":/opt/other", "prod", "NONE", "true"})
		require.NoError(t, err)
		assert.Equal(t, []string{settingsDir, "/opt/other"}, inv.SearchPath)
		assert.Equal(t, "", inv.ProjectDir)
		assert.Equal(t, actionJobID, inv.JobID())
	})

	t.Run("settings path is not a search path", func(t *testing.T) {
		inv, err := parseInvocation([]string{settingsFile, "NONE", "true"})
		require.NoError(t, err)
		assert.Nil(t, inv.SearchPath)
		assert.Equal(t, settingsFile, inv.Settings)
	})

	t.Run("too few args", func(t *testing.T) {
		_, err := parseInvocation([]string{"prod"})
		assert.ErrorIs(t, err, errUsage)
	})

	t.Run("no command keeps project dir", func(t *testing.T) {
		inv, err := parseInvocation([]string{"prod", project})
		assert.ErrorIs(t, err, supervisor.ErrNoCommand)
		assert.Equal(t, project, inv.ProjectDir)
	})

	t.Run("blank command", func(t *testing.T) {
		_, err := parseInvocation([]string{"prod", project, "  "})
		assert.ErrorIs(t, err, supervisor.ErrNoCommand)
	})
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "/tmp/a-b_c.txt", want: "/tmp/a-b_c.txt"},
		{in: "", want: "''"},
		{in: "two words", want: "'two words'"},
		{in: "it's", want: `'it'\''s'`},
		{in: "$HOME", want: "'$HOME'"},
		{in: "a;rm -rf /", want: "'a;rm -rf /'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shellQuote(tt.in), "input %q", tt.in)
	}
}

func TestBuildCommand(t *testing.T) {
	line, err := buildCommand("grep -c", []string{"it's", "my file.txt"})
	require.NoError(t, err)
	assert.Equal(t, `grep -c 'it'\''s' 'my file.txt'`, line)

	_, err = buildCommand(`echo "unterminated`, []string{"x"})
	assert.Error(t, err)

	_, err = buildCommand("", nil)
	assert.ErrorIs(t, err, supervisor.ErrNoCommand)
}

func TestRunJobPassesChildCode(t *testing.T) {
	settingsDir := t.TempDir()
	settings := writeSettingsFile(t, settingsDir, "s.yaml", fastSettings)
	project := t.TempDir()

	var stderr bytes.Buffer
	code := runJobContext(context.Background(), []string{settings, project, "exit", "7"}, &stderr)

	assert.Equal(t, supervisor.CodeFailure, code)
	assert.Equal(t, "7", readDone(t, project))
	assert.NoFileExists(t, filepath.Join(project, status.PidFile))
}

func TestRunJobQuotedArgumentsReachTheChild(t *testing.T) {
	settings := writeSettingsFile(t, t.TempDir(), "s.yaml", fastSettings)
	project := t.TempDir()

	code := runJobContext(context.Background(),
		[]string{settings, project, "test", "it's a $HOME", "=", "it's a $HOME"}, &bytes.Buffer{})

	assert.Equal(t, supervisor.CodeSuccess, code)
	assert.Equal(t, "0", readDone(t, project))
}

func TestRunJobRunsInProjectDir(t *testing.T) {
	settings := writeSettingsFile(t, t.TempDir(), "s.yaml", fastSettings)
	project := t.TempDir()

	code := runJobContext(context.Background(), []string{settings, project, "touch", "marker"}, &bytes.Buffer{})

	assert.Equal(t, supervisor.CodeSuccess, code)
	assert.FileExists(t, filepath.Join(project, "marker"))
}

func TestRunJobActionWritesNothing(t *testing.T) {
	settingsDir := t.TempDir()
	writeSettingsFile(t, settingsDir, "quiet.yml", fastSettings)

	code := runJobContext(context.Background(), []string{settingsDir + "/", "quiet", "NONE", "true"}, &bytes.Buffer{})
	assert.Equal(t, supervisor.CodeSuccess, code)
}

func TestRunJobIgnoresAbortLeftByPreviousRun(t *testing.T) {
	settings := writeSettingsFile(t, t.TempDir(), "s.yaml", fastSettings)
	project := t.TempDir()
	require.NoError(t, status.RequestAbort(project))

	code := runJobContext(context.Background(), []string{settings, project, "sleep 1; exit 0"}, &bytes.Buffer{})

	assert.Equal(t, supervisor.CodeSuccess, code)
	assert.Equal(t, "0", readDone(t, project))
	assert.NoFileExists(t, filepath.Join(project, status.AbortFile))
	assert.NoFileExists(t, filepath.Join(project, status.AbortedFile))
}

func TestRunJobTimeout(t *testing.T) {
	settings := writeSettingsFile(t, t.TempDir(), "s.yaml", fastSettings+"DISPATCHER_MAXTIME: 1\n")
	project := t.TempDir()

	code := runJobContext(context.Background(), []string{settings, project, "sleep", "30"}, &bytes.Buffer{})

	assert.Equal(t, supervisor.CodeTimeout, code)
	assert.Equal(t, "3", readDone(t, project))
}

func TestRunJobMissingSettingsRecordsFailure(t *testing.T) {
	project := t.TempDir()
	var stderr bytes.Buffer

	code := runJobContext(context.Background(), []string{"does-not-exist", project, "true"}, &stderr)

	assert.Equal(t, supervisor.CodeFailure, code)
	assert.Equal(t, "1", readDone(t, project))
	assert.Contains(t, stderr.String(), "settings not found")
}

func TestRunJobNoCommandRecordsFailure(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, status.DoneFile), []byte("0"), 0o644))

	code := runJobContext(context.Background(), []string{"whatever", project}, &bytes.Buffer{})

	assert.Equal(t, supervisor.CodeFailure, code)
	assert.Equal(t, "1", readDone(t, project))
}

func TestRunJobMissingProjectDir(t *testing.T) {
	settings := writeSettingsFile(t, t.TempDir(), "s.yaml", fastSettings)
	missing := filepath.Join(t.TempDir(), "gone")
	var stderr bytes.Buffer

	code := runJobContext(context.Background(), []string{settings, missing, "true"}, &stderr)

	assert.Equal(t, supervisor.CodeFailure, code)
	assert.NoDirExists(t, missing)
	assert.Contains(t, stderr.String(), "does not exist")
}

func TestRunJobRefusesLockedProjectDir(t *testing.T) {
	settings := writeSettingsFile(t, t.TempDir(), "s.yaml", fastSettings)
	project := t.TempDir()

	held, err := lock.AcquirePIDLock(filepath.Join(project, status.LockFile))
	require.NoError(t, err)
	defer held.Release()

	code := runJobContext(context.Background(), []string{settings, project, "touch", "marker"}, &bytes.Buffer{})

	assert.Equal(t, supervisor.CodeFailure, code)
	assert.NoFileExists(t, filepath.Join(project, "marker"))
	assert.NoFileExists(t, filepath.Join(project, status.DoneFile))
}

func TestRunJobDigestPin(t *testing.T) {
	settings := writeSettingsFile(t, t.TempDir(), "s.yaml", fastSettings)
	project := t.TempDir()
	t.Setenv(settingsDigestEnv, "blake3:0000")

	code := runJobContext(context.Background(), []string{settings, project, "true"}, &bytes.Buffer{})

	assert.Equal(t, supervisor.CodeFailure, code)
	assert.Equal(t, "1", readDone(t, project))
}

func TestRunJobRecordsHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	settings := writeSettingsFile(t, t.TempDir(), "s.yaml", fastSettings+"history_db: "+dbPath+"\n")
	project := t.TempDir()

	code := runJobContext(context.Background(), []string{settings, project, "exit", "4"}, &bytes.Buffer{})
	require.Equal(t, supervisor.CodeFailure, code)

	ledger, err := history.Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer ledger.Close()

	last, err := ledger.Last(context.Background(), filepath.Base(project))
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, supervisor.StateCompleted, last.State)
	assert.Equal(t, 4, last.Code)
	assert.Equal(t, "exit 4", last.Command)

	var stdout bytes.Buffer
	require.Equal(t, 0, historyCommand([]string{"--db", dbPath}, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "exit 4")
	assert.Contains(t, stdout.String(), "completed")
}

func TestStatusCommand(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, status.DoneFile), []byte("2"), 0o644))

	var stdout bytes.Buffer
	require.Equal(t, 0, statusCommand([]string{project}, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "done")
	assert.Contains(t, stdout.String(), "Code:")

	stdout.Reset()
	require.Equal(t, 0, statusCommand([]string{"--json", project}, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), `"code": 2`)

	assert.Equal(t, 1, statusCommand(nil, &bytes.Buffer{}, &bytes.Buffer{}))
}

func TestAbortCommand(t *testing.T) {
	project := t.TempDir()
	var stderr bytes.Buffer

	assert.Equal(t, 1, abortCommand([]string{project}, &bytes.Buffer{}, &stderr))
	assert.Contains(t, stderr.String(), "not running")

	require.NoError(t, os.WriteFile(filepath.Join(project, status.PidFile), []byte("31337"), 0o644))
	var stdout bytes.Buffer
	assert.Equal(t, 0, abortCommand([]string{project}, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "31337")
	assert.FileExists(t, filepath.Join(project, status.AbortFile))
}

func TestAbortCommandEndsRealRun(t *testing.T) {
	settings := writeSettingsFile(t, t.TempDir(), "s.yaml", fastSettings)
	project := t.TempDir()

	done := make(chan int, 1)
	go func() {
		done <- runJobContext(context.Background(), []string{settings, project, "sleep", "30"}, &bytes.Buffer{})
	}()

	require.Eventually(t, func() bool {
		rec, err := status.Snapshot(project)
		return err == nil && rec.State == status.StateRunning
	}, 5*time.Second, 20*time.Millisecond)

	var stdout bytes.Buffer
	require.Equal(t, 0, abortCommand([]string{"--wait", "10s", project}, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "aborted: true")
	assert.Equal(t, supervisor.CodeFailure, <-done)
}

func TestParseJobArgs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	jobs, err := parseJobArgs([]string{a, "nightly=" + b})
	require.NoError(t, err)
	assert.Equal(t, a, jobs[filepath.Base(a)])
	assert.Equal(t, b, jobs["nightly"])

	_, err = parseJobArgs([]string{"x=" + a, "x=" + b})
	assert.Error(t, err)

	_, err = parseJobArgs([]string{filepath.Join(a, "missing")})
	assert.Error(t, err)
}

func TestDoctorCommand(t *testing.T) {
	settings := writeSettingsFile(t, t.TempDir(), "s.yaml", "DISPATCHER_MAXTIME: 3600\n")
	project := t.TempDir()

	var stdout bytes.Buffer
	require.Equal(t, 0, doctorCommand([]string{settings, project}, &stdout, &bytes.Buffer{}))
	assert.Contains(t, stdout.String(), "Configuration valid")

	// No api auth on loopback is only a warning.
	assert.Equal(t, 2, doctorCommand([]string{"--strict", settings}, &bytes.Buffer{}, &bytes.Buffer{}))

	stdout.Reset()
	require.Equal(t, 0, doctorCommand([]string{"--digest", settings}, &stdout, &bytes.Buffer{}))
	digest := strings.TrimSpace(stdout.String())
	assert.True(t, strings.HasPrefix(digest, "blake3:"))

	t.Setenv(settingsDigestEnv, digest)
	assert.Equal(t, supervisor.CodeSuccess,
		runJobContext(context.Background(), []string{settings, project, "true"}, &bytes.Buffer{}))

	assert.Equal(t, 1, doctorCommand([]string{settings, filepath.Join(project, "missing")}, &bytes.Buffer{}, &bytes.Buffer{}))
}
