package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/dispatcher/internal/api"
	"github.com/mattjoyce/dispatcher/internal/auth"
	"github.com/mattjoyce/dispatcher/internal/config"
	"github.com/mattjoyce/dispatcher/internal/history"
	"github.com/mattjoyce/dispatcher/internal/log"
	"github.com/mattjoyce/dispatcher/internal/status"
	"github.com/mattjoyce/dispatcher/internal/tui"
	"github.com/mattjoyce/dispatcher/internal/tui/watch"
)

// loadSettingsForTool loads settings when a name is given and falls back to
// defaults otherwise.
func loadSettingsForTool(name string) (*config.Settings, error) {
	if name == "" {
		return config.Defaults(), nil
	}
	path, err := config.Find(name, nil)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func newFlagSet(name string, w io.Writer, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(w)
	fs.Usage = func() {
		fmt.Fprintf(w, "Usage: dispatcher %s\n\nFlags:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

// parseFlags returns (exit code, done). done is true when the caller should
// return the code immediately.
func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, true
		}
		return 1, true
	}
	return 0, false
}

// --- status ---

func runStatus(args []string) int {
	return statusCommand(args, os.Stdout, os.Stderr)
}

func statusCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("status", stderr, "status [--json] <projectdir>")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if code, done := parseFlags(fs, args); done {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}

	rec, err := status.Snapshot(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Directory:\t%s\n", rec.Dir)
	fmt.Fprintf(tw, "State:\t%s\n", rec.State)
	if rec.HasPid {
		fmt.Fprintf(tw, "PID:\t%d\n", rec.Pid)
		if !rec.RunningSince.IsZero() {
			fmt.Fprintf(tw, "Running since:\t%s\n", rec.RunningSince.Local().Format(time.RFC3339))
		}
	}
	if rec.HasDone {
		fmt.Fprintf(tw, "Code:\t%d\n", rec.Code)
		fmt.Fprintf(tw, "Finished:\t%s\n", rec.FinishedAt.Local().Format(time.RFC3339))
	}
	if rec.AbortPending {
		fmt.Fprintf(tw, "Abort:\trequested\n")
	}
	if rec.Aborted {
		fmt.Fprintf(tw, "Abort:\tcarried out\n")
	}
	fmt.Fprintf(tw, "Supervised:\t%t\n", rec.Supervised)
	_ = tw.Flush()
	return 0
}

// --- abort ---

func runAbort(args []string) int {
	return abortCommand(args, os.Stdout, os.Stderr)
}

func abortCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("abort", stderr, "abort [--wait DURATION] <projectdir>")
	wait := fs.Duration("wait", 0, "Wait up to this long for the job to finish and print its code")
	if code, done := parseFlags(fs, args); done {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	dir := fs.Arg(0)

	rec, err := status.Snapshot(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	switch rec.State {
	case status.StateRunning:
		if err := status.RequestAbort(dir); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Abort requested for pid %d\n", rec.Pid)
	case status.StateAborting:
		fmt.Fprintln(stdout, "Abort already requested")
	default:
		fmt.Fprintf(stderr, "Job is not running (state %s)\n", rec.State)
		return 1
	}

	if *wait <= 0 {
		return 0
	}
	deadline := time.Now().Add(*wait)
	for time.Now().Before(deadline) {
		rec, err = status.Snapshot(dir)
		if err == nil && rec.HasDone {
			fmt.Fprintf(stdout, "Finished with code %d (aborted: %t)\n", rec.Code, rec.Aborted)
			return 0
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Fprintf(stderr, "Job still running after %s\n", *wait)
	return 1
}

// --- history ---

func runHistory(args []string) int {
	return historyCommand(args, os.Stdout, os.Stderr)
}

func historyCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("history", stderr, "history [--db PATH | --settings NAME] [--job NAME] [--limit N] [--json]")
	dbPath := fs.String("db", "", "Path to the history database")
	settingsName := fs.String("settings", "", "Settings file providing history_db")
	jobID := fs.String("job", "", "Only show runs of this job")
	limit := fs.Int("limit", history.DefaultLimit, "Maximum number of runs")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if code, done := parseFlags(fs, args); done {
		return code
	}

	if *dbPath == "" {
		settings, err := loadSettingsForTool(*settingsName)
		if err != nil {
			fmt.Fprintf(stderr, "Load error: %v\n", err)
			return 1
		}
		*dbPath = settings.HistoryDB
	}
	if *dbPath == "" {
		fmt.Fprintln(stderr, "Error: no history database (use --db or a settings file with history_db)")
		return 1
	}

	ctx := context.Background()
	ledger, err := history.Open(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer ledger.Close()

	runs, err := ledger.List(ctx, *jobID, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		if runs == nil {
			runs = []history.Run{}
		}
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	if len(runs) == 0 {
		fmt.Fprintln(stdout, "No runs recorded")
		return 0
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tJOB\tSTATE\tCODE\tELAPSED\tPEAK RSS KB\tCOMMAND")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.JobID, r.State, r.Code,
			r.Elapsed.Round(time.Millisecond), r.PeakRSSKB,
			r.Command,
		)
	}
	_ = tw.Flush()
	return 0
}

// --- serve ---

// parseJobArgs maps "[name=]dir" arguments to job names.
func parseJobArgs(args []string) (map[string]string, error) {
	jobs := make(map[string]string, len(args))
	for _, arg := range args {
		name, dir, ok := strings.Cut(arg, "=")
		if !ok {
			dir = arg
			name = ""
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", abs)
		}
		if name == "" {
			name = filepath.Base(abs)
		}
		if _, dup := jobs[name]; dup {
			return nil, fmt.Errorf("job name %q given twice", name)
		}
		jobs[name] = abs
	}
	return jobs, nil
}

func runServe(args []string) int {
	fs := newFlagSet("serve", os.Stderr, "serve [--settings NAME] [--listen ADDR] [--interval D] <[name=]projectdir>...")
	settingsName := fs.String("settings", "", "Settings file providing api, history_db and logging")
	listen := fs.String("listen", "", "Listen address (overrides api.listen)")
	interval := fs.Duration("interval", time.Second, "How often project directories are polled for events")
	if code, done := parseFlags(fs, args); done {
		return code
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 1
	}

	settings, err := loadSettingsForTool(*settingsName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	jobs, err := parseJobArgs(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log.Setup(settings.LogLevel, settings.LogFormat)
	logger := log.WithComponent("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runs api.RunLister
	if settings.HistoryDB != "" {
		ledger, err := history.Open(ctx, settings.HistoryDB)
		if err != nil {
			logger.Warn("run history unavailable", "path", settings.HistoryDB, "error", err)
		} else {
			defer ledger.Close()
			runs = ledger
		}
	}

	cfg := api.Config{
		Listen:        settings.API.Listen,
		APIKey:        settings.API.APIKey,
		Jobs:          jobs,
		WatchInterval: *interval,
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	for _, t := range settings.API.Tokens {
		cfg.Tokens = append(cfg.Tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	if cfg.APIKey == "" && len(cfg.Tokens) == 0 {
		logger.Warn("no api_key or tokens configured; the API is open to anyone who can reach it", "listen", cfg.Listen)
	}

	if err := api.New(cfg, runs, logger).Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("API server failed", "error", err)
		return 1
	}
	return 0
}

// --- watch / monitor ---

func runWatch(args []string) int {
	fs := newFlagSet("watch", os.Stderr, "watch [--settings NAME | --db PATH] [--interval D] <projectdir>")
	settingsName := fs.String("settings", "", "Settings file providing history_db")
	dbPath := fs.String("db", "", "Path to the history database")
	interval := fs.Duration("interval", time.Second, "Refresh interval")
	if code, done := parseFlags(fs, args); done {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	dir, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := status.Snapshot(dir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *dbPath == "" && *settingsName != "" {
		settings, err := loadSettingsForTool(*settingsName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
			return 1
		}
		*dbPath = settings.HistoryDB
	}

	var runs watch.RunLister
	if *dbPath != "" {
		ledger, err := history.Open(context.Background(), *dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer ledger.Close()
		runs = ledger
	}

	p := tea.NewProgram(watch.New(filepath.Base(dir), dir, runs, *interval))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runMonitor(args []string) int {
	fs := newFlagSet("monitor", os.Stderr, "monitor [--url URL] [--token TOKEN]")
	url := fs.String("url", "http://"+config.DefaultListen, "Base URL of a 'dispatcher serve' instance")
	token := fs.String("token", os.Getenv("DISPATCHER_API_TOKEN"), "Bearer token (default $DISPATCHER_API_TOKEN)")
	if code, done := parseFlags(fs, args); done {
		return code
	}

	p := tea.NewProgram(tui.NewMonitor(*url, *token))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
