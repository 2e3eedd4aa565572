// Package status persists the externally observable state of a supervised job.
//
// The default transport is a directory of sentinel files, read by observers
// that poll rather than subscribe:
//
//   - .pid      present while the child is alive, holds its pid
//   - .done     written once at the end, holds the final status code
//   - .abort    created by an outside actor to request an abort
//   - .aborted  created by the supervisor once an abort was carried out
//
// Writes are best-effort. A failed write is logged and supervision carries on.
package status

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mattjoyce/dispatcher/internal/log"
)

const (
	PidFile     = ".pid"
	DoneFile    = ".done"
	AbortFile   = ".abort"
	AbortedFile = ".aborted"
	LockFile    = ".lock"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/dispatcher/internal/status Store

// Store is the supervisor's view of the status transport.
type Store interface {
	WritePid(pid int)
	ClearPid()
	WriteDone(code int)
	AbortRequested() bool
	AcknowledgeAbort()
	// DiscardAbort drops an abort request that was never acted on.
	DiscardAbort()
}

// FileStore implements Store on top of a project directory.
type FileStore struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	done bool
}

// NewFileStore returns a store rooted at dir. The directory must exist.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project directory %s is not a directory", dir)
	}
	if logger == nil {
		logger = log.WithComponent("status")
	}
	return &FileStore{dir: dir, logger: logger.With("project_dir", dir)}, nil
}

// Dir returns the project directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(name string) string { return filepath.Join(s.dir, name) }

// Reset removes sentinels left behind by a previous run.
func (s *FileStore) Reset() {
	for _, name := range []string{DoneFile, AbortFile, AbortedFile} {
		s.remove(name)
	}
}

func (s *FileStore) WritePid(pid int) {
	if err := writeAtomic(s.path(PidFile), strconv.Itoa(pid)); err != nil {
		s.logger.Error("failed to write pid file", "pid", pid, "error", err)
	}
}

func (s *FileStore) ClearPid() {
	s.remove(PidFile)
}

// WriteDone records the final status. Only the first call has any effect.
func (s *FileStore) WriteDone(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		s.logger.Warn("done file already written, ignoring", "code", code)
		return
	}
	s.done = true
	if err := writeAtomic(s.path(DoneFile), strconv.Itoa(code)); err != nil {
		s.logger.Error("failed to write done file", "code", code, "error", err)
	}
}

func (s *FileStore) AbortRequested() bool {
	_, err := os.Stat(s.path(AbortFile))
	return err == nil
}

// AcknowledgeAbort consumes the abort request and leaves an acknowledgement.
func (s *FileStore) AcknowledgeAbort() {
	s.remove(AbortFile)
	if err := writeAtomic(s.path(AbortedFile), ""); err != nil {
		s.logger.Error("failed to write aborted marker", "error", err)
	}
}

func (s *FileStore) DiscardAbort() {
	if s.AbortRequested() {
		s.logger.Info("discarding abort request filed after the job ended")
	}
	s.remove(AbortFile)
}

func (s *FileStore) remove(name string) {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		s.logger.Error("failed to remove status file", "file", name, "error", err)
	}
}

// writeAtomic writes content through a temp file and rename so readers never
// see a half-written sentinel.
func writeAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// NopStore is used for actionless jobs, which persist nothing.
type NopStore struct{}

func (NopStore) WritePid(int)         {}
func (NopStore) ClearPid()            {}
func (NopStore) WriteDone(int)        {}
func (NopStore) AbortRequested() bool { return false }
func (NopStore) AcknowledgeAbort()    {}
func (NopStore) DiscardAbort()        {}

// RequestAbort is the observer side of the protocol: it asks the supervisor
// of dir to abort its job.
func RequestAbort(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("project directory: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, AbortFile), ""); err != nil {
		return fmt.Errorf("request abort: %w", err)
	}
	return nil
}

func readInt(path string) (int, bool, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, true, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return n, true, nil
}
