// Package history keeps a SQLite ledger with one row per supervised run.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/dispatcher/internal/config"
	"github.com/mattjoyce/dispatcher/internal/storage"
	"github.com/mattjoyce/dispatcher/internal/supervisor"
)

const maxErrorBytes = 4 * 1024

// DefaultLimit bounds List when the caller passes no limit.
const DefaultLimit = 20

// Run is one ledger row.
type Run struct {
	ID            string           `json:"id"`
	JobID         string           `json:"job_id"`
	Command       string           `json:"command"`
	CommandDigest string           `json:"command_digest"`
	ProjectDir    string           `json:"project_dir,omitempty"`
	State         supervisor.State `json:"state"`
	Code          int              `json:"code"`
	ExitCode      int              `json:"exit_code"`
	ChildCode     int              `json:"child_code"`
	Pid           int              `json:"pid"`
	DispatcherPid int              `json:"dispatcher_pid"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       time.Time        `json:"ended_at"`
	Elapsed       time.Duration    `json:"elapsed"`
	Idle          time.Duration    `json:"idle"`
	PeakRSSKB     int64            `json:"peak_rss_kb"`
	LastError     string           `json:"last_error,omitempty"`
}

// Ledger records finished runs. It implements supervisor.Recorder.
type Ledger struct {
	db *sql.DB
}

var _ supervisor.Recorder = (*Ledger)(nil)

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Open opens the ledger database at path, creating it if needed.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open history ledger: %w", err)
	}
	return New(db), nil
}

func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record appends a row for a finished run.
func (l *Ledger) Record(ctx context.Context, job supervisor.Job, res supervisor.Result) error {
	if job.Command == "" && res.State != supervisor.StateFailed {
		return fmt.Errorf("command is empty")
	}
	if !res.State.Terminal() {
		return fmt.Errorf("run is not finished: %q", res.State)
	}

	started := res.StartedAt
	if started.IsZero() {
		started = res.EndedAt
	}
	ended := res.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}

	var lastError any
	if res.Err != nil {
		msg := res.Err.Error()
		if len(msg) > maxErrorBytes {
			msg = msg[:maxErrorBytes]
		}
		lastError = msg
	}

	jobID := job.ID
	if jobID == "" {
		jobID = res.JobID
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO runs(
  id, job_id, command, command_digest, project_dir, state, code, exit_code, child_code,
  pid, dispatcher_pid, started_at, ended_at, elapsed_ms, idle_ms, peak_rss_kb, last_error
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		uuid.NewString(), jobID, job.Command, config.DigestBytes([]byte(job.Command)), job.WorkingDirectory,
		string(res.State), res.Code, res.ExitCode(), res.ChildCode,
		res.Pid, os.Getpid(),
		started.UTC().Format(time.RFC3339Nano), ended.UTC().Format(time.RFC3339Nano),
		res.Elapsed.Milliseconds(), res.Idle.Milliseconds(), res.PeakRSSKB, lastError,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// List returns the most recent runs, newest first. A non-empty jobID
// restricts the result to that job.
func (l *Ledger) List(ctx context.Context, jobID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `
SELECT id, job_id, command, command_digest, project_dir, state, code, exit_code, child_code,
       pid, dispatcher_pid, started_at, ended_at, elapsed_ms, idle_ms, peak_rss_kb, last_error
FROM runs`
	args := []any{}
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Last returns the newest run of jobID, or (nil, nil) when there is none.
func (l *Ledger) Last(ctx context.Context, jobID string) (*Run, error) {
	runs, err := l.List(ctx, jobID, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r          Run
		state      string
		projectDir sql.NullString
		startedAt  string
		endedAt    string
		elapsedMS  int64
		idleMS     int64
		lastError  sql.NullString
	)
	if err := s.Scan(
		&r.ID, &r.JobID, &r.Command, &r.CommandDigest, &projectDir, &state, &r.Code, &r.ExitCode, &r.ChildCode,
		&r.Pid, &r.DispatcherPid, &startedAt, &endedAt, &elapsedMS, &idleMS, &r.PeakRSSKB, &lastError,
	); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if r.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
		return Run{}, fmt.Errorf("parse ended_at: %w", err)
	}
	r.State = supervisor.State(state)
	r.ProjectDir = projectDir.String
	r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	r.Idle = time.Duration(idleMS) * time.Millisecond
	r.LastError = lastError.String
	return r, nil
}
