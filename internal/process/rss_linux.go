//go:build linux

package process

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// SampleResidentMemoryKB sums the resident set size of every process in the
// child's process group, in KB.
func (h *Handle) SampleResidentMemoryKB() (int64, error) {
	return groupRSSKB(procfs.DefaultMountPoint, h.pid)
}

func groupRSSKB(mountPoint string, pgid int) (int64, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return 0, fmt.Errorf("open procfs: %w", err)
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	var total int64
	found := false
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			// Processes come and go between listing and reading.
			continue
		}
		if st.PGRP != pgid {
			continue
		}
		found = true
		total += int64(st.ResidentMemory())
	}
	if !found {
		return 0, fmt.Errorf("no processes in group %d", pgid)
	}
	return total / 1024, nil
}
