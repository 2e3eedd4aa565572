package api

import (
	"context"
	"time"

	"github.com/mattjoyce/dispatcher/internal/status"
)

// jobSignature is the part of a status record whose change is worth an event.
type jobSignature struct {
	state        status.State
	pid          int
	code         int
	abortPending bool
	aborted      bool
	supervised   bool
}

func signatureOf(rec status.Record) jobSignature {
	return jobSignature{
		state:        rec.State,
		pid:          rec.Pid,
		code:         rec.Code,
		abortPending: rec.AbortPending,
		aborted:      rec.Aborted,
		supervised:   rec.Supervised,
	}
}

// watch polls every configured project directory and publishes a job.state
// event whenever one changes.
func (s *Server) watch(ctx context.Context) {
	last := make(map[string]jobSignature, len(s.names))
	s.scan(last)

	ticker := time.NewTicker(s.config.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(last)
		}
	}
}

// scan publishes events for jobs whose signature differs from last and
// returns how many were published.
func (s *Server) scan(last map[string]jobSignature) int {
	published := 0
	for _, name := range s.names {
		rec, err := status.Snapshot(s.config.Jobs[name])
		if err != nil {
			s.logger.Debug("status snapshot failed", "job", name, "error", err)
			continue
		}
		sig := signatureOf(rec)
		if prev, ok := last[name]; ok && prev == sig {
			continue
		}
		last[name] = sig
		s.events.Publish(EventJobState, JobEvent{Name: name, Status: rec})
		published++
	}
	return published
}
