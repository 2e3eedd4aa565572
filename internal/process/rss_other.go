//go:build !linux

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SampleResidentMemoryKB asks ps(1) for the child's resident set size in KB.
// Only the group leader is sampled on these platforms.
func (h *Handle) SampleResidentMemoryKB() (int64, error) {
	out, err := exec.Command("ps", "-o", "rss=", "-p", strconv.Itoa(h.pid)).Output()
	if err != nil {
		return 0, fmt.Errorf("ps: %w", err)
	}
	kb, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ps output %q: %w", out, err)
	}
	return kb, nil
}
