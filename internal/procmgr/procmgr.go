// Package procmgr implements ProcessManager (spec.md §4.A): aliveness and
// signal delivery for a possibly-absent PID, with zombie detection.
//
// Grounded on internal/process/process.go's isZombieLinux fast path and
// the original process_manager.py's os.kill(pid, 0)-based existence probe.
package procmgr

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"syscall"
)

// Result is the tri-state outcome of a signal-delivery attempt: the signal
// was Sent, the process does not exist (NoSuchProcess), or the OS denied
// access (AccessDenied) — in which case the process may still be alive,
// just unreachable by this user.
type Result int

const (
	Sent Result = iota
	NoSuchProcess
	AccessDenied
)

// Manager wraps a possibly-absent PID (nil means "no process was ever
// recorded", which short-circuits every probe to NoSuchProcess/false).
type Manager struct {
	pid *int
}

// New returns a Manager for pid. Pass nil for "no PID known".
func New(pid *int) *Manager { return &Manager{pid: pid} }

// FromInt is a convenience constructor for a known, non-zero PID.
func FromInt(pid int) *Manager {
	p := pid
	return &Manager{pid: &p}
}

// Exists sends signal 0. Returns true if delivered, false on "no such
// process", and nil (via the ok bool being false) when the OS reports
// permission denied — the process exists but is unreachable.
func (m *Manager) Exists() (alive bool, known bool) {
	switch m.signal(0) {
	case Sent:
		return true, true
	case NoSuchProcess:
		return false, true
	default: // AccessDenied
		return false, false
	}
}

// Status reads the process state code from /proc on Linux, falling back to
// the `ps -o stat=` shape used by the original implementation elsewhere
// (most callers only need the zombie bit, exposed by Alive).
func (m *Manager) Status() string {
	if m.pid == nil {
		return ""
	}
	if runtime.GOOS == "linux" {
		b, err := os.ReadFile("/proc/" + strconv.Itoa(*m.pid) + "/status")
		if err != nil {
			return ""
		}
		if bytes.Contains(b, []byte("State:\tZ")) {
			return "Z"
		}
		return ""
	}
	return psStat(*m.pid)
}

// Alive reports Exists() && !zombie. A zombie process is logged by the
// caller (internal/worker, internal/fleet) and treated as dead. It
// collapses "unknown" (permission denied) to false — callers that must
// distinguish "confirmed dead" from "can't tell" (e.g. workerfile's
// self-healing delete) should use AliveKnown instead.
func (m *Manager) Alive() bool {
	alive, known := m.AliveKnown()
	return known && alive
}

// AliveKnown is Alive with the tri-state preserved: known is false when the
// OS denied access to probe the PID, in which case alive is meaningless and
// must not be treated as "confirmed dead" by a caller.
func (m *Manager) AliveKnown() (alive bool, known bool) {
	alive, known = m.Exists()
	if !known || !alive {
		return false, known
	}
	if m.Status() == "Z" {
		return false, true
	}
	return true, true
}

// Terminate sends SIGTERM.
func (m *Manager) Terminate() Result { return m.signal(syscall.SIGTERM) }

// Kill sends SIGKILL.
func (m *Manager) Kill() Result { return m.signal(syscall.SIGKILL) }

// PID returns the wrapped PID and whether one was set.
func (m *Manager) PID() (int, bool) {
	if m.pid == nil {
		return 0, false
	}
	return *m.pid, true
}
