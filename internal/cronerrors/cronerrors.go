// Package cronerrors defines the closed set of error kinds raised by the
// worker, scheduler and fleet layers, and their disposition (fatal,
// recoverable, warning-only).
package cronerrors

import "errors"

// Sentinel error kinds. Use errors.Is against these, not string matching.
var (
	// ErrInvalidParams means the job spec could not be parsed, or named an
	// unregistered job class. Fatal to the run: no lock or file is touched.
	ErrInvalidParams = errors.New("INVALID_PARAMS")

	// ErrLocked means a PID file for the computed lock name exists and its
	// process is alive after all lock_check_attempts. Recoverable: the
	// scheduler tick continues, this run is skipped.
	ErrLocked = errors.New("LOCKED")

	// ErrInvalidTaskStatus means the bound task exists and its status is
	// not WAITING/QUEUED, and it is not a killed-task resume case either.
	ErrInvalidTaskStatus = errors.New("INVALID_TASK_STATUS")

	// ErrNoSuchPID is returned by ProcessManager calls when the OS reports
	// no such process (ESRCH).
	ErrNoSuchPID = errors.New("NO_SUCH_PID")

	// ErrPIDAccess is returned by ProcessManager calls when the OS reports
	// permission denied; the process exists but is unreachable.
	ErrPIDAccess = errors.New("PID_ACCESS")

	// ErrNoJobs is a warning raised by a scheduler tick with an empty job
	// registry. The tick still runs to completion.
	ErrNoJobs = errors.New("NO_JOBS")

	// ErrSchedulerLocked is a warning: a tick found the scheduler locked
	// (lock file present, no remote enable pending) and quit. A repeated
	// disable request is reported as a warning message, not as this error.
	ErrSchedulerLocked = errors.New("SCHEDULER_LOCKED")

	// ErrSchedulerUnlocked is a warning: an enable request was made while
	// the scheduler is not locked.
	ErrSchedulerUnlocked = errors.New("SCHEDULER_UNLOCKED")
)

// Kind classifies how a caller must react to an error returned by this
// module's components.
type Kind int

const (
	// KindFatal aborts the current run; nothing was touched on disk.
	KindFatal Kind = iota
	// KindRecoverable skips this run; the caller (tick) proceeds.
	KindRecoverable
	// KindWarning is logged but changes no control flow.
	KindWarning
)

// Classify maps one of the sentinel errors above to its disposition. Errors
// not in the closed set classify as KindFatal (caller should treat as an
// unexpected failure).
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidParams):
		return KindFatal
	case errors.Is(err, ErrLocked), errors.Is(err, ErrInvalidTaskStatus):
		return KindRecoverable
	case errors.Is(err, ErrNoSuchPID), errors.Is(err, ErrPIDAccess),
		errors.Is(err, ErrNoJobs), errors.Is(err, ErrSchedulerLocked),
		errors.Is(err, ErrSchedulerUnlocked):
		return KindWarning
	default:
		return KindFatal
	}
}
