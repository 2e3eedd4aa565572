// Package doctor validates dispatcher settings and project directories
// before a job is scheduled against them.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mattjoyce/dispatcher/internal/auth"
	"github.com/mattjoyce/dispatcher/internal/config"
	"github.com/mattjoyce/dispatcher/internal/policy"
	"github.com/mattjoyce/dispatcher/internal/status"
	"github.com/mattjoyce/dispatcher/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var knownKeys = map[string]bool{
	policy.KeyPollInterval: true,
	policy.KeyMaxResMem:    true,
	policy.KeyMaxTime:      true,
	policy.KeyAbortCheck:   true,
	policy.KeyKillGrace:    true,
}

// Doctor validates settings and the project directories they will serve.
type Doctor struct {
	settings    *config.Settings
	projectDirs []string
	// fsCheck is swapped in tests.
	fsCheck func(string) error
}

// New creates a Doctor for loaded settings and zero or more project dirs.
func New(settings *config.Settings, projectDirs []string) *Doctor {
	return &Doctor{settings: settings, projectDirs: projectDirs, fsCheck: storage.CheckFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validatePolicy(r)
	d.warnUnknownKeys(r)
	d.validateHistory(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateProjectDirs(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validatePolicy checks that the thresholds resolve and make sense together.
func (d *Doctor) validatePolicy(r *Result) {
	p, err := policy.Resolve(d.settings)
	if err != nil {
		d.addError(r, "policy", "", err.Error())
		return
	}
	if p.TimeLimited() && p.MaxWallClock < p.PollInterval {
		d.addWarning(r, "policy", policy.KeyMaxTime,
			fmt.Sprintf("limit %s is shorter than the poll interval %s; the timeout may fire late", p.MaxWallClock, p.PollInterval))
	}
	if p.TimeLimited() && p.KillGrace >= p.MaxWallClock {
		d.addWarning(r, "policy", policy.KeyKillGrace,
			fmt.Sprintf("grace %s is not shorter than the limit %s", p.KillGrace, p.MaxWallClock))
	}
	if p.MemoryLimited() && runtime.GOOS != "linux" {
		d.addWarning(r, "policy", policy.KeyMaxResMem,
			fmt.Sprintf("memory sampling is not supported on %s; the ceiling is never enforced", runtime.GOOS))
	}
}

// warnUnknownKeys flags DISPATCHER_* keys nothing reads, which are usually typos.
func (d *Doctor) warnUnknownKeys(r *Result) {
	for _, k := range d.settings.DispatcherKeys() {
		if !knownKeys[k] {
			d.addWarning(r, "settings", k, "unknown DISPATCHER_ key is ignored")
		}
	}
}

// validateHistory checks that the ledger can live where it is configured.
func (d *Doctor) validateHistory(r *Result) {
	path := d.settings.HistoryDB
	if path == "" {
		return
	}
	if !filepath.IsAbs(path) {
		d.addWarning(r, "history", "history_db",
			fmt.Sprintf("relative path %q resolves against the directory the dispatcher starts in", path))
	}
	switch err := d.fsCheck(path); {
	case errors.Is(err, storage.ErrNetworkFilesystem):
		d.addError(r, "history", "history_db", err.Error())
	case err != nil:
		d.addWarning(r, "history", "history_db", fmt.Sprintf("could not inspect filesystem: %v", err))
	}
}

// validateAPIConfig checks observer API settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	api := d.settings.API
	host, _, err := net.SplitHostPort(api.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", api.Listen, err))
		return
	}

	open := api.APIKey == "" && len(api.Tokens) == 0
	if open && !isLoopback(host) {
		d.addError(r, "api", "api.listen",
			fmt.Sprintf("listening on %q without api_key or tokens exposes abort to the network", api.Listen))
	} else if open {
		d.addWarning(r, "api", "api", "no authentication configured; any local user can abort jobs")
	}

	if api.APIKey != "" && len(api.Tokens) > 0 {
		d.addWarning(r, "api", "api.api_key",
			"both api_key and tokens configured; api_key grants full access")
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// validateTokenScopes checks that scopes name a resource the API serves.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.settings.API.Tokens {
		for j, scope := range token.Scopes {
			field := fmt.Sprintf("api.tokens[%d].scopes[%d]", i, j)
			d.validateSingleScope(r, scope, field)
		}
	}
}

func (d *Doctor) validateSingleScope(r *Result, scope, field string) {
	if scope == auth.ScopeAll {
		return
	}
	resource, access, ok := strings.Cut(scope, ":")
	if !ok {
		d.addError(r, "token_scopes", field,
			fmt.Sprintf("invalid scope %q (expected format: resource:access)", scope))
		return
	}
	if resource != "jobs" && resource != "events" {
		d.addError(r, "token_scopes", field,
			fmt.Sprintf("scope %q references unknown resource %q", scope, resource))
		return
	}
	if access != "ro" && access != "rw" {
		d.addError(r, "token_scopes", field,
			fmt.Sprintf("scope %q: invalid access type %q (expected ro or rw)", scope, access))
	}
}

// validateProjectDirs checks each directory can hold status files.
func (d *Doctor) validateProjectDirs(r *Result) {
	for _, dir := range d.projectDirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			d.addError(r, "project", dir, "directory does not exist")
			continue
		}
		f, err := os.CreateTemp(dir, ".doctor-*")
		if err != nil {
			d.addError(r, "project", dir, fmt.Sprintf("not writable: %v", err))
			continue
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)

		rec, err := status.Snapshot(dir)
		if err != nil {
			d.addError(r, "project", dir, err.Error())
			continue
		}
		switch rec.State {
		case status.StateStale:
			d.addWarning(r, "project", dir,
				fmt.Sprintf("stale %s for pid %d; the previous dispatcher died without cleaning up", status.PidFile, rec.Pid))
		case status.StateRunning, status.StateAborting:
			d.addWarning(r, "project", dir,
				fmt.Sprintf("a job is running (pid %d); a new run will be refused", rec.Pid))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
