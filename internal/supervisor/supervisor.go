// Package supervisor drives a single child process from spawn to a terminal
// state while enforcing the limits of a policy.Policy.
//
// The loop is single-threaded and cooperative. Each iteration checks, in
// this order: child exit, wall-clock timeout, resident memory (at its own
// cadence), abort request (at its own cadence), context cancellation. The
// first condition that fires decides the terminal state. Every terminal
// state converges on the same teardown: clear .pid, then write .done.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/dispatcher/internal/log"
	"github.com/mattjoyce/dispatcher/internal/policy"
	"github.com/mattjoyce/dispatcher/internal/process"
	"github.com/mattjoyce/dispatcher/internal/status"
)

// Supervisor runs jobs under a fixed policy. A Supervisor is not reentrant:
// run one job at a time.
type Supervisor struct {
	policy   policy.Policy
	store    status.Store
	logger   *slog.Logger
	clock    Clock
	spawn    Spawner
	recorder Recorder
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithSpawner overrides how children are started.
func WithSpawner(sp Spawner) Option {
	return func(s *Supervisor) { s.spawn = sp }
}

// WithRecorder registers a run recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Supervisor) { s.recorder = r }
}

// New creates a Supervisor. A nil store persists nothing.
func New(p policy.Policy, store status.Store, opts ...Option) *Supervisor {
	if store == nil {
		store = status.NopStore{}
	}
	s := &Supervisor{
		policy: p,
		store:  store,
		logger: log.WithComponent("supervisor"),
		clock:  realClock{},
		spawn:  spawnProcess,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run holds the mutable state of one supervision pass.
type run struct {
	job    Job
	proc   Process
	logger *slog.Logger

	start          time.Time
	lastMemCheck   time.Time
	nextAbortCheck time.Time
	idle           time.Duration
	peakRSS        int64
}

// Run supervises job until it reaches a terminal state. It always writes the
// final status to the store exactly once.
func (s *Supervisor) Run(ctx context.Context, job Job) Result {
	logger := s.logger.With("job_id", job.ID)
	res := Result{JobID: job.ID, State: StateStarting, ChildCode: -1, StartedAt: s.clock.Now()}

	if strings.TrimSpace(job.Command) == "" {
		logger.Error("refusing to start job", "error", ErrNoCommand)
		return s.finish(ctx, job, res, StateFailed, CodeFailure, ErrNoCommand, logger)
	}

	logger.Info("starting job", append([]any{"command", job.Command, "work_dir", job.WorkingDirectory}, s.policy.LogAttrs()...)...)
	proc, err := s.spawn(job.Command, job.WorkingDirectory)
	if err != nil {
		logger.Error("failed to spawn job", "error", err)
		return s.finish(ctx, job, res, StateFailed, CodeFailure, err, logger)
	}

	res.Pid = proc.Pid()
	res.StartedAt = s.clock.Now()
	s.store.WritePid(res.Pid)
	logger = logger.With("pid", res.Pid)
	logger.Info("job running")

	r := &run{
		job:            job,
		proc:           proc,
		logger:         logger,
		start:          res.StartedAt,
		lastMemCheck:   res.StartedAt,
		nextAbortCheck: res.StartedAt,
	}
	state, code, err := s.loop(ctx, r)
	res.Idle = r.idle
	res.PeakRSSKB = r.peakRSS
	if st := proc.PollNoHang(); st.Phase == process.Exited {
		res.ChildCode = st.Code
	}
	return s.finish(ctx, job, res, state, code, err, logger)
}

func (s *Supervisor) loop(ctx context.Context, r *run) (State, int, error) {
	for {
		now := s.clock.Now()
		elapsed := now.Sub(r.start)

		st := r.proc.PollNoHang()
		switch st.Phase {
		case process.Exited:
			r.logger.Info("job exited", "code", st.Code, "elapsed", elapsed)
			return StateCompleted, st.Code, nil
		case process.Lost:
			r.logger.Error("lost track of job process", "error", st.Err)
			return StateLost, CodeFailure, st.Err
		}

		if s.policy.TimeLimited() && elapsed > s.policy.MaxWallClock {
			r.logger.Warn("job exceeded wall-clock limit, terminating",
				"elapsed", elapsed, "max_wall_clock", s.policy.MaxWallClock)
			s.terminate(r)
			return StateTimedOut, CodeTimeout, fmt.Errorf("wall-clock limit %v exceeded", s.policy.MaxWallClock)
		}

		if s.policy.MemoryLimited() && now.Sub(r.lastMemCheck) >= s.policy.PollInterval {
			r.lastMemCheck = now
			rss, err := r.proc.SampleResidentMemoryKB()
			if err != nil {
				r.logger.Warn("failed to sample resident memory", "error", err)
			} else {
				if rss > r.peakRSS {
					r.peakRSS = rss
				}
				r.logger.Debug("sampled resident memory", "rss_kb", rss)
				if rss > s.policy.MaxResidentMemoryKB {
					r.logger.Warn("job exceeded memory limit, terminating",
						"rss_kb", rss, "max_resident_memory_kb", s.policy.MaxResidentMemoryKB)
					s.terminate(r)
					return StateResourceExceeded, CodeMemory,
						fmt.Errorf("resident memory %d KB exceeds limit %d KB", rss, s.policy.MaxResidentMemoryKB)
				}
			}
		}

		if !now.Before(r.nextAbortCheck) {
			r.nextAbortCheck = now.Add(s.policy.NextAbortCheckDelay(elapsed))
			if s.store.AbortRequested() {
				r.logger.Info("abort requested, terminating job", "state", StateAborting)
				s.terminate(r)
				s.store.AcknowledgeAbort()
				return StateAborted, CodeFailure, fmt.Errorf("aborted on request")
			}
		}

		if err := ctx.Err(); err != nil {
			r.logger.Warn("supervisor cancelled, terminating job", "error", err)
			s.terminate(r)
			return StateAborted, CodeFailure, err
		}

		d := s.policy.PollDelay(elapsed)
		s.clock.Sleep(ctx, d)
		r.idle += d
	}
}

func (s *Supervisor) terminate(r *run) {
	if err := r.proc.Terminate(true, s.policy.KillGrace); err != nil {
		r.logger.Warn("terminate reported an error", "error", err)
	}
}

// finish runs the unified teardown: drop any unconsumed abort request, clear
// the pid marker, then persist the final status, then record the run.
func (s *Supervisor) finish(ctx context.Context, job Job, res Result, state State, code int, err error, logger *slog.Logger) Result {
	res.State = state
	res.Code = code
	res.Err = err
	res.EndedAt = s.clock.Now()
	res.Elapsed = res.EndedAt.Sub(res.StartedAt)

	s.store.DiscardAbort()
	s.store.ClearPid()
	s.store.WriteDone(code)

	attrs := []any{
		"state", res.State,
		"code", res.Code,
		"exit_code", res.ExitCode(),
		"elapsed", res.Elapsed,
		"idle", res.Idle,
	}
	if res.PeakRSSKB > 0 {
		attrs = append(attrs, "peak_rss_kb", res.PeakRSSKB)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	logger.Info("job finished", attrs...)

	if s.recorder != nil {
		// The run is over even if the caller's context was cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := s.recorder.Record(rctx, job, res); rerr != nil {
			logger.Error("failed to record run", "error", rerr)
		}
	}
	return res
}
