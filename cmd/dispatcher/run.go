package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/google/shlex"

	"github.com/mattjoyce/dispatcher/internal/config"
	"github.com/mattjoyce/dispatcher/internal/history"
	"github.com/mattjoyce/dispatcher/internal/lock"
	"github.com/mattjoyce/dispatcher/internal/log"
	"github.com/mattjoyce/dispatcher/internal/policy"
	"github.com/mattjoyce/dispatcher/internal/status"
	"github.com/mattjoyce/dispatcher/internal/supervisor"
)

// noProjectDir disables status files for fire-and-forget actions.
const noProjectDir = "NONE"

// actionJobID names jobs that run without a project directory.
const actionJobID = "action"

// settingsDigestEnv pins the settings file content when set.
const settingsDigestEnv = "DISPATCHER_SETTINGS_DIGEST"

var errUsage = errors.New("usage: dispatcher [searchpath] <settings> <projectdir|NONE> <cmd> [arg ...]")

// invocation is a parsed positional command line.
type invocation struct {
	SearchPath []string
	Settings   string
	// ProjectDir is empty for NONE.
	ProjectDir string
	Command    string
}

// JobID names the job in logs, the history ledger and the observer API.
func (inv invocation) JobID() string {
	if inv.ProjectDir == "" {
		return actionJobID
	}
	return filepath.Base(inv.ProjectDir)
}

// parseInvocation splits the positional form. On error the returned
// invocation still carries the project directory when it was given, so the
// caller can record the failure there.
func parseInvocation(args []string) (invocation, error) {
	var inv invocation
	if len(args) > 0 && looksLikeSearchPath(args[0]) {
		inv.SearchPath = config.SplitSearchPath(args[0])
		args = args[1:]
	}
	if len(args) < 2 {
		return inv, errUsage
	}

	inv.Settings = args[0]
	if args[1] != noProjectDir {
		dir, err := filepath.Abs(args[1])
		if err != nil {
			return inv, fmt.Errorf("project directory %q: %w", args[1], err)
		}
		inv.ProjectDir = dir
	}

	if len(args) < 3 {
		return inv, supervisor.ErrNoCommand
	}
	command, err := buildCommand(args[2], args[3:])
	if err != nil {
		return inv, err
	}
	inv.Command = command
	return inv, nil
}

// looksLikeSearchPath reports whether the first argument is a search path
// rather than a settings path: it contains a slash but names no settings
// file.
func looksLikeSearchPath(arg string) bool {
	if !strings.Contains(arg, "/") {
		return false
	}
	_, err := config.Find(arg, nil)
	return err != nil
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// shellQuote quotes s for /bin/sh so it reaches the program as one word.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// buildCommand joins the command with its quoted arguments and checks that
// the result tokenizes back into the same arguments.
func buildCommand(cmd string, args []string) (string, error) {
	if strings.TrimSpace(cmd) == "" {
		return "", supervisor.ErrNoCommand
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, cmd)
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	line := strings.Join(parts, " ")

	words, err := shlex.Split(line)
	if err != nil {
		return "", fmt.Errorf("command %q does not parse: %w", line, err)
	}
	if len(words) < len(args)+1 {
		return "", fmt.Errorf("command %q does not parse into its arguments", line)
	}
	tail := words[len(words)-len(args):]
	for i, a := range args {
		if tail[i] != a {
			return "", fmt.Errorf("argument %d (%q) does not survive quoting", i+1, a)
		}
	}
	return line, nil
}

// runJob is the dispatcher proper: load settings, supervise the command,
// and exit with the supervision code.
func runJob(args []string) int {
	return runJobContext(context.Background(), args, os.Stderr)
}

func runJobContext(parent context.Context, args []string, stderr io.Writer) int {
	inv, err := parseInvocation(args)
	if err != nil {
		return configFailure(inv, stderr, err)
	}

	if inv.ProjectDir != "" {
		if info, err := os.Stat(inv.ProjectDir); err != nil || !info.IsDir() {
			fmt.Fprintf(stderr, "dispatcher: project directory %s does not exist\n", inv.ProjectDir)
			return supervisor.CodeFailure
		}
	}

	settingsPath, err := config.Find(inv.Settings, inv.SearchPath)
	if err != nil {
		return configFailure(inv, stderr, err)
	}
	settings, err := config.Load(settingsPath)
	if err != nil {
		return configFailure(inv, stderr, err)
	}
	if want := os.Getenv(settingsDigestEnv); want != "" {
		if err := config.VerifyDigest(settings.Path, want); err != nil {
			return configFailure(inv, stderr, fmt.Errorf("%s: %w", settingsDigestEnv, err))
		}
	}
	p, err := policy.Resolve(settings)
	if err != nil {
		return configFailure(inv, stderr, err)
	}

	log.Setup(settings.LogLevel, settings.LogFormat)
	logger := log.WithJob(inv.JobID()).With("component", "dispatcher")
	logger.Info("dispatcher starting",
		"version", version,
		"settings", settings.Path,
		"settings_digest", settings.Digest,
		"project_dir", inv.ProjectDir,
	)

	var store status.Store = status.NopStore{}
	if inv.ProjectDir != "" {
		lockPath := filepath.Join(inv.ProjectDir, status.LockFile)
		pidLock, err := lock.AcquirePIDLock(lockPath)
		if err != nil {
			// The status files belong to whoever holds the lock; leave them alone.
			logger.Error("failed to acquire project lock (another dispatcher may be running)", "path", lockPath, "error", err)
			return supervisor.CodeFailure
		}
		defer pidLock.Release()

		fs, err := status.NewFileStore(inv.ProjectDir, log.WithComponent("status"))
		if err != nil {
			logger.Error("failed to open status directory", "error", err)
			return supervisor.CodeFailure
		}
		fs.Reset()
		store = fs
	}

	opts := []supervisor.Option{supervisor.WithLogger(logger)}
	if settings.HistoryDB != "" {
		ledger, err := history.Open(parent, settings.HistoryDB)
		if err != nil {
			logger.Warn("run history disabled", "path", settings.HistoryDB, "error", err)
		} else {
			defer ledger.Close()
			opts = append(opts, supervisor.WithRecorder(ledger))
		}
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	sup := supervisor.New(p, store, opts...)
	res := sup.Run(ctx, supervisor.Job{
		ID:               inv.JobID(),
		Command:          inv.Command,
		WorkingDirectory: inv.ProjectDir,
	})
	return res.ExitCode()
}

// configFailure reports a configuration error and, when the project
// directory is known, records status 1 there.
func configFailure(inv invocation, stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "dispatcher: %v\n", err)
	if errors.Is(err, errUsage) {
		fmt.Fprintln(stderr, "Run 'dispatcher run --help' for details.")
	}
	if inv.ProjectDir == "" {
		return supervisor.CodeFailure
	}
	if lock.Held(filepath.Join(inv.ProjectDir, status.LockFile)) {
		return supervisor.CodeFailure
	}
	store, serr := status.NewFileStore(inv.ProjectDir, log.Discard())
	if serr != nil {
		return supervisor.CodeFailure
	}
	store.Reset()
	store.WriteDone(supervisor.CodeFailure)
	return supervisor.CodeFailure
}
