package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when a history ledger path lies on a
// network mount. SQLite file locks do not hold across the hosts sharing such
// a mount, so concurrent dispatchers could corrupt the ledger.
var ErrNetworkFilesystem = errors.New("history ledger needs a local filesystem")

// LedgerMount describes the filesystem a ledger file lives on, or will live
// on once created.
type LedgerMount struct {
	// Inspected is the ledger path or its nearest existing ancestor.
	Inspected string
	// FSType is the platform's filesystem name; empty when unknown.
	FSType  string
	Network bool
}

var networkFilesystems = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// statMount is swapped in tests.
var statMount = detectFilesystemType

// InspectLedgerPath reports the mount a ledger at path would use. The file
// and its directories need not exist yet.
func InspectLedgerPath(path string) (LedgerMount, error) {
	if path == "" {
		return LedgerMount{}, fmt.Errorf("history_db path is empty")
	}
	anchor, err := existingAncestor(path)
	if err != nil {
		return LedgerMount{}, fmt.Errorf("resolve history_db %q: %w", path, err)
	}
	fsType, err := statMount(anchor)
	if err != nil {
		return LedgerMount{}, fmt.Errorf("detect filesystem for %q: %w", anchor, err)
	}
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	return LedgerMount{Inspected: anchor, FSType: fsType, Network: networkFilesystems[fsType]}, nil
}

// CheckFilesystem refuses ledger paths on network mounts. The error wraps
// ErrNetworkFilesystem in that case.
func CheckFilesystem(path string) error {
	m, err := InspectLedgerPath(path)
	if err != nil {
		return err
	}
	if m.Network {
		return fmt.Errorf("%w: %q is on %s; point history_db (or --db) at a local file", ErrNetworkFilesystem, path, m.FSType)
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing ancestor")
		}
		candidate = parent
	}
}
