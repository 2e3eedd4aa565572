// Package policy holds the tunable thresholds that drive a supervision loop.
//
// A Policy is resolved once at startup from a named-settings source and then
// passed by value; nothing in it changes while a job runs. Every threshold is
// non-negative and 0 means "disabled".
package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Setting names understood by Resolve.
const (
	KeyPollInterval  = "DISPATCHER_POLLINTERVAL"
	KeyMaxResMem     = "DISPATCHER_MAXRESMEM"
	KeyMaxTime       = "DISPATCHER_MAXTIME"
	KeyAbortCheck    = "DISPATCHER_ABORTCHECK"
	KeyKillGrace     = "DISPATCHER_KILLGRACE"
	defaultPollSecs  = 30
	defaultAbortSecs = 10
	defaultGraceSecs = 30
)

// ErrInvalidPolicy is returned when a setting is present but unusable.
var ErrInvalidPolicy = errors.New("invalid supervision policy")

// Source looks up a named setting. Missing names are not an error.
type Source interface {
	Lookup(name string) (string, bool)
}

// MapSource is a Source backed by a plain map.
type MapSource map[string]string

func (m MapSource) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Policy is the immutable per-job supervision configuration.
type Policy struct {
	// PollInterval is the memory sampling cadence.
	PollInterval time.Duration
	// MaxResidentMemoryKB is the RSS ceiling in KB, 0 for unlimited.
	MaxResidentMemoryKB int64
	// MaxWallClock is the wall-clock budget, 0 for unlimited.
	MaxWallClock time.Duration
	// AbortCheckCeiling caps the delay between abort-request checks.
	AbortCheckCeiling time.Duration
	// KillGrace is how long the deathtrap waits before SIGKILL.
	KillGrace time.Duration
}

// Default returns the policy used when no settings are given.
func Default() Policy {
	return Policy{
		PollInterval:      defaultPollSecs * time.Second,
		AbortCheckCeiling: defaultAbortSecs * time.Second,
		KillGrace:         defaultGraceSecs * time.Second,
	}
}

// Resolve reads the DISPATCHER_* settings from src on top of Default.
func Resolve(src Source) (Policy, error) {
	p := Default()
	if src == nil {
		return p, nil
	}

	secs, err := lookupSeconds(src, KeyPollInterval)
	if err != nil {
		return Policy{}, err
	}
	if secs != nil {
		if *secs == 0 {
			return Policy{}, fmt.Errorf("%w: %s must be positive", ErrInvalidPolicy, KeyPollInterval)
		}
		p.PollInterval = *secs
	}

	if raw, ok := src.Lookup(KeyMaxResMem); ok && strings.TrimSpace(raw) != "" {
		kb, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Policy{}, fmt.Errorf("%w: %s=%q: %v", ErrInvalidPolicy, KeyMaxResMem, raw, err)
		}
		if kb < 0 {
			return Policy{}, fmt.Errorf("%w: %s must not be negative", ErrInvalidPolicy, KeyMaxResMem)
		}
		p.MaxResidentMemoryKB = kb
	}

	if secs, err = lookupSeconds(src, KeyMaxTime); err != nil {
		return Policy{}, err
	} else if secs != nil {
		p.MaxWallClock = *secs
	}

	if secs, err = lookupSeconds(src, KeyAbortCheck); err != nil {
		return Policy{}, err
	} else if secs != nil && *secs > 0 {
		p.AbortCheckCeiling = *secs
	}

	if secs, err = lookupSeconds(src, KeyKillGrace); err != nil {
		return Policy{}, err
	} else if secs != nil && *secs > 0 {
		p.KillGrace = *secs
	}

	return p, nil
}

// lookupSeconds parses a non-negative number of seconds. Fractions are allowed.
func lookupSeconds(src Source, key string) (*time.Duration, error) {
	raw, ok := src.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q: %v", ErrInvalidPolicy, key, raw, err)
	}
	if f < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative", ErrInvalidPolicy, key)
	}
	d := time.Duration(f * float64(time.Second))
	return &d, nil
}

// MemoryLimited reports whether a resident memory ceiling is enforced.
func (p Policy) MemoryLimited() bool { return p.MaxResidentMemoryKB > 0 }

// TimeLimited reports whether a wall-clock budget is enforced.
func (p Policy) TimeLimited() bool { return p.MaxWallClock > 0 }

// NextAbortCheckDelay returns min(ceiling, elapsed/2): abort requests are
// noticed quickly early in a job's life and at least every ceiling afterwards.
func (p Policy) NextAbortCheckDelay(elapsed time.Duration) time.Duration {
	half := elapsed / 2
	if half > p.AbortCheckCeiling {
		return p.AbortCheckCeiling
	}
	return half
}

// PollDelay is the supervisor's own backoff between liveness polls.
func (p Policy) PollDelay(elapsed time.Duration) time.Duration {
	switch {
	case elapsed <= time.Second:
		return 50 * time.Millisecond
	case elapsed <= 2*time.Second:
		return 200 * time.Millisecond
	case elapsed <= 10*time.Second:
		return 500 * time.Millisecond
	default:
		return time.Second
	}
}

// LogAttrs returns the policy as slog key/value pairs.
func (p Policy) LogAttrs() []any {
	return []any{
		"poll_interval", p.PollInterval,
		"max_resident_memory_kb", p.MaxResidentMemoryKB,
		"max_wall_clock", p.MaxWallClock,
		"abort_check_ceiling", p.AbortCheckCeiling,
		"kill_grace", p.KillGrace,
	}
}
