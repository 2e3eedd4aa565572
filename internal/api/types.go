package api

import (
	"github.com/mattjoyce/dispatcher/internal/history"
	"github.com/mattjoyce/dispatcher/internal/status"
)

// JobResponse is returned by GET /jobs/{name}.
type JobResponse struct {
	Name    string        `json:"name"`
	Status  status.Record `json:"status"`
	LastRun *history.Run  `json:"last_run,omitempty"`
}

// JobListResponse is returned by GET /jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// AbortResponse is returned when an abort request was filed.
type AbortResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// RunsResponse is returned by GET /jobs/{name}/runs.
type RunsResponse struct {
	Name string        `json:"name"`
	Runs []history.Run `json:"runs"`
}

// JobEvent is the payload of a job.state event.
type JobEvent struct {
	Name   string        `json:"name"`
	Status status.Record `json:"status"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Jobs          int    `json:"jobs"`
	History       bool   `json:"history"`
}
