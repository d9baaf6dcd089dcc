//go:build !windows

package procmgr

import (
	"os/exec"
	"strconv"
	"strings"
)

// psStat shells out to `ps -p <pid> -o stat=` for platforms without a
// /proc filesystem (non-Linux Unix). Matches process_manager.py's status().
func psStat(pid int) string {
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "stat=").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
