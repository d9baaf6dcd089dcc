// Package registry holds the process-global, write-once-at-startup table
// of job classes (spec.md §3 "Job class" and §9 "Global registry").
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// LockRegime is the closed three-way enum driving PID-file filename shape
// (spec.md §3, §9 "Tagged variants"). Kept as a sum type rather than a pair
// of booleans.
type LockRegime int

const (
	// LockClass: one PID file per job class, named "<lock_name>.pid".
	LockClass LockRegime = iota
	// LockParams: one PID file per (job class, params hash).
	LockParams
	// LockNone: unlocked; PID file name includes a random suffix.
	LockNone
)

func (r LockRegime) String() string {
	switch r {
	case LockClass:
		return "class"
	case LockParams:
		return "params"
	case LockNone:
		return "none"
	default:
		return "unknown"
	}
}

// IOPriority configures `ionice -c <Class> [-n <Data>]` for a job's worker
// process. Data is nil when the I/O class takes no priority level (e.g.
// IDLE).
type IOPriority struct {
	Class int
	Data  *int
}

// Run is the callable wrapped by a job class. args are the job spec's
// positional parameters, kwargs the named ones (reserved keys already
// stripped by the caller).
type Run func(args []string, kwargs map[string]string) error

// Entry is one job class record (spec.md §3 "Job class (static registry)").
type Entry struct {
	Name string
	Run  Run

	LockRegime       LockRegime
	LockNameOverride string
	LockCheckAttempts int
	LockIgnoreErrors bool

	CronitorID     string
	CronitorPingRun  bool
	CronitorPingFail bool

	SlackNotifyDone bool

	WorkerCPUPriority *int
	WorkerIOPriority  *IOPriority

	CanResume bool

	// Doc is a short human-readable description surfaced by the `info`
	// CLI verb (spec.md §9 supplemented "info operation").
	Doc string
}

// LockName returns the filename stem to use for this entry's PID/JobSpec
// files: LockNameOverride when set, else Name.
func (e Entry) LockName() string {
	if e.LockNameOverride != "" {
		return e.LockNameOverride
	}
	return e.Name
}

// Registry is an immutable-after-Freeze mapping from job class name to
// Entry. Construction happens once at process startup via a discovery
// pass (spec.md §9); later mutation after Freeze is a programming error
// and panics.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	frozen  bool
}

// New returns an empty, mutable Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds an Entry. Panics if called after Freeze or if name is
// already registered — this mirrors the original CronJobRegistry.register's
// CronJobAlreadyRegistered behavior, surfaced here as a startup-time
// programming error rather than a runtime-recoverable one.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("registry: Register called after Freeze")
	}
	if _, exists := r.entries[e.Name]; exists {
		panic(fmt.Sprintf("registry: job class %q already registered", e.Name))
	}
	if e.LockCheckAttempts <= 0 {
		e.LockCheckAttempts = 1
	}
	r.entries[e.Name] = e
}

// Freeze publishes the registry as immutable. Subsequent Register calls
// panic.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get retrieves a job class Entry by name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns all registered job class names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Summary returns every registered job class's Entry, sorted by name — backs the `cronman worker info` CLI verb with no name
// argument (spec.md §9 supplemented "info operation").
func (r *Registry) Summary() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
