//go:build !windows

package procmgr

import (
	"errors"
	"syscall"
)

// signal sends sig via kill(2), translating errno into the tri-state
// Result. ESRCH means the process is gone; EPERM means it exists but this
// process cannot signal it (permission denied).
func (m *Manager) signal(sig syscall.Signal) Result {
	if m.pid == nil {
		return NoSuchProcess
	}
	err := syscall.Kill(*m.pid, sig)
	if err == nil {
		return Sent
	}
	if errors.Is(err, syscall.ESRCH) {
		return NoSuchProcess
	}
	if errors.Is(err, syscall.EPERM) {
		return AccessDenied
	}
	return NoSuchProcess
}
