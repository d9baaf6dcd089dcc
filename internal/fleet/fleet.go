// Package fleet implements WorkerFleet (spec.md §4.D): listing, killing,
// cleaning, and resuming worker processes tracked via PID/JobSpec files
// under a data directory, optionally filtered to one job spec or PID.
//
// Grounded on worker/worker_list.py's BaseCronWorkerList /
// CronWorkerPIDList / CronWorkerJobSpecList hierarchy; the two-phase
// TERM-then-KILL timing is lifted from CronWorkerPIDList.kill verbatim.
package fleet

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/loykin/cronman/internal/jobspec"
	"github.com/loykin/cronman/internal/procmgr"
	"github.com/loykin/cronman/internal/registry"
	"github.com/loykin/cronman/internal/spawner"
	"github.com/loykin/cronman/internal/workerfile"
)

// waitToKill is how long Kill sleeps, once, between sending TERM and
// sending KILL to anything still alive (CronWorkerPIDList.wait_to_kill).
const waitToKill = 7 * time.Second

// PIDStatus is the outcome recorded against one PID file by a fleet
// operation.
type PIDStatus string

const (
	PIDAlive   PIDStatus = "ALIVE"
	PIDDead    PIDStatus = "DEAD"
	PIDTermed  PIDStatus = "TERMED"
	PIDKilled  PIDStatus = "KILLED"
	PIDDeleted PIDStatus = "DELETED"
)

// JobSpecStatus is the outcome recorded against one JobSpec file.
type JobSpecStatus string

const (
	JobSpecActive  JobSpecStatus = "ACTIVE"
	JobSpecStalled JobSpecStatus = "STALLED"
	JobSpecDeleted JobSpecStatus = "DELETED"
	JobSpecResumed JobSpecStatus = "RESUMED"
)

// PIDItem is one row of a PID-file listing/operation result.
type PIDItem struct {
	Name   string
	Status PIDStatus
	PID    int
	file   *workerfile.PIDFile
}

// JobSpecItem is one row of a JobSpec-file listing/operation result.
type JobSpecItem struct {
	Name    string
	Status  JobSpecStatus
	JobSpec string
	file    *workerfile.JobSpecFile
}

// Selector narrows a fleet operation to one job spec, one raw PID, or (when
// both are zero) every tracked worker — mirrors
// parse_job_spec_or_pid's three-way branch.
type Selector struct {
	JobSpec string // e.g. "SomeJob:a=1"; parsed into name/args/kwargs
	PID     int    // when non-zero, overrides JobSpec and selects by PID
}

func (s Selector) parsed() (name string, args []string, kwargs map[string]string, ok bool) {
	if s.JobSpec == "" {
		return "", nil, nil, false
	}
	spec, err := jobspec.Parse(s.JobSpec)
	if err != nil {
		return "", nil, nil, false
	}
	return spec.Name, spec.Args, spec.KWArgs, true
}

// Fleet operates on the PID/JobSpec files under DataDir.
type Fleet struct {
	DataDir  string
	Spawner  *spawner.Spawner  // required only for Resume
	Registry *registry.Registry // required only for Resume
}

func New(dataDir string, sp *spawner.Spawner, reg *registry.Registry) *Fleet {
	return &Fleet{DataDir: dataDir, Spawner: sp, Registry: reg}
}

func (f *Fleet) pidFiles(sel Selector) ([]*workerfile.PIDFile, error) {
	if sel.PID != 0 {
		pf, ok := workerfile.ByPID(f.DataDir, sel.PID)
		if !ok {
			return nil, nil
		}
		return []*workerfile.PIDFile{pf}, nil
	}
	name, args, kwargs, _ := sel.parsed()
	files, err := workerfile.All(f.DataDir, workerfile.PID, name, args, kwargs)
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
	out := make([]*workerfile.PIDFile, len(files))
	for i, fl := range files {
		out[i] = &workerfile.PIDFile{File: fl}
	}
	return out, nil
}

func (f *Fleet) jobSpecFiles(sel Selector) ([]*workerfile.JobSpecFile, error) {
	if sel.PID != 0 {
		jsf, ok := workerfile.ByPIDJobSpecFile(f.DataDir, sel.PID)
		if !ok {
			return nil, nil
		}
		return []*workerfile.JobSpecFile{jsf}, nil
	}
	name, args, kwargs, _ := sel.parsed()
	files, err := workerfile.All(f.DataDir, workerfile.JobSpec, name, args, kwargs)
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
	out := make([]*workerfile.JobSpecFile, len(files))
	for i, fl := range files {
		out[i] = &workerfile.JobSpecFile{File: fl}
	}
	return out, nil
}

// pidItems probes aliveness for each PID file, skipping (and letting the
// caller log) any whose process is unreachable due to permissions rather
// than confirmed dead — access-denied is not evidence either way.
func (f *Fleet) pidItems(sel Selector) ([]PIDItem, []error) {
	files, err := f.pidFiles(sel)
	if err != nil {
		return nil, []error{err}
	}
	var items []PIDItem
	var warnings []error
	for _, pf := range files {
		pid, ok := pf.PID()
		status := PIDDead
		if ok {
			alive, known := procmgr.FromInt(pid).Exists()
			if !known {
				warnings = append(warnings, pidAccessError(pf.Name(), pid))
				continue
			}
			if alive {
				status = PIDAlive
			}
		}
		items = append(items, PIDItem{Name: pf.Name(), Status: status, PID: pid, file: pf})
	}
	return items, warnings
}

func pidAccessError(name string, pid int) error {
	return &accessError{name: name, pid: pid}
}

type accessError struct {
	name string
	pid  int
}

func (e *accessError) Error() string {
	return e.name + ": no access to PID " + strconv.Itoa(e.pid) + "!"
}

// Totals tallies item counts by status, plus a "TOTAL" count.
type Totals map[string]int

// Status lists every selected worker's aliveness.
func (f *Fleet) Status(sel Selector) (items []PIDItem, totals Totals, warnings []error) {
	items, warnings = f.pidItems(sel)
	totals = Totals{"TOTAL": 0, string(PIDAlive): 0, string(PIDDead): 0}
	for _, it := range items {
		totals[string(it.Status)]++
		totals["TOTAL"]++
	}
	return items, totals, warnings
}

// Clean removes PID files whose process is confirmed dead.
func (f *Fleet) Clean(sel Selector) (items []PIDItem, totals Totals, warnings []error) {
	all, warn := f.pidItems(sel)
	warnings = warn
	totals = Totals{"TOTAL": 0}
	for _, it := range all {
		if it.Status != PIDDead {
			continue
		}
		_ = it.file.Delete()
		it.Status = PIDDeleted
		items = append(items, it)
		totals["TOTAL"]++
	}
	return items, totals, warnings
}

// CleanJobSpecs removes JobSpec files whose PID sibling is gone or dead
// (stalled resume markers with nothing left to resume from a crash).
func (f *Fleet) CleanJobSpecs(sel Selector) (items []JobSpecItem, totals Totals, warnings []error) {
	all, warn := f.jobSpecItems(sel)
	warnings = warn
	totals = Totals{"TOTAL": 0}
	for _, it := range all {
		if it.Status != JobSpecStalled {
			continue
		}
		_ = it.file.Delete()
		it.Status = JobSpecDeleted
		items = append(items, it)
		totals["TOTAL"]++
	}
	return items, totals, warnings
}

func (f *Fleet) jobSpecItems(sel Selector) ([]JobSpecItem, []error) {
	files, err := f.jobSpecFiles(sel)
	if err != nil {
		return nil, []error{err}
	}
	var items []JobSpecItem
	var warnings []error
	for _, jsf := range files {
		pidFile := workerfile.NewPIDFile(f.DataDir, jsf.Name())
		status := JobSpecStalled
		if pid, ok := pidFile.PID(); ok {
			alive, known := procmgr.FromInt(pid).Exists()
			if !known {
				warnings = append(warnings, pidAccessError(pidFile.Name(), pid))
				continue
			}
			if alive {
				status = JobSpecActive
			}
		}
		spec, _ := jsf.JobSpecString()
		items = append(items, JobSpecItem{Name: jsf.Name(), Status: status, JobSpec: spec, file: jsf})
	}
	return items, warnings
}

// Kill sends SIGTERM to every alive selected worker, waits once, then
// sends SIGKILL to anything still alive — never sleeping more than once
// regardless of how many processes needed a kill.
func (f *Fleet) Kill(sel Selector) (items []PIDItem, totals Totals, warnings []error) {
	items, warnings = f.pidItems(sel)

	atLeastOneTermed := false
	for i := range items {
		if items[i].Status != PIDAlive {
			continue
		}
		pid, _ := items[i].file.PID()
		procmgr.FromInt(pid).Terminate()
		items[i].Status = PIDTermed
		atLeastOneTermed = true
	}

	if atLeastOneTermed {
		slept := false
		for i := range items {
			if items[i].Status != PIDTermed {
				continue
			}
			pid, _ := items[i].file.PID()
			if !procmgr.FromInt(pid).Alive() {
				continue
			}
			if !slept {
				time.Sleep(waitToKill)
				slept = true
				if !procmgr.FromInt(pid).Alive() {
					continue
				}
			}
			procmgr.FromInt(pid).Kill()
			items[i].Status = PIDKilled
		}
	}

	totals = Totals{"TOTAL": 0, string(PIDDead): 0, string(PIDTermed): 0, string(PIDKilled): 0}
	for _, it := range items {
		totals[string(it.Status)]++
		totals["TOTAL"]++
	}
	return items, totals, warnings
}

// Resume relaunches a worker for every stalled JobSpec file, deleting each
// file before spawning so a crash mid-relaunch cannot double-resume.
func (f *Fleet) Resume(sel Selector) (items []JobSpecItem, totals Totals, warnings []error) {
	all, warn := f.jobSpecItems(sel)
	warnings = warn
	totals = Totals{"TOTAL": 0}
	for _, it := range all {
		if it.Status != JobSpecStalled {
			continue
		}
		jobSpecStr, ok := it.file.TakeForResume()
		if !ok {
			continue
		}
		entry, err := f.entryForJobSpec(jobSpecStr)
		if err != nil {
			warnings = append(warnings, err)
			continue
		}
		if _, err := f.Spawner.Start(jobSpecStr, entry); err != nil {
			warnings = append(warnings, err)
			continue
		}
		it.Status = JobSpecResumed
		it.JobSpec = jobSpecStr
		items = append(items, it)
		totals["TOTAL"]++
	}
	return items, totals, warnings
}

func (f *Fleet) entryForJobSpec(jobSpecStr string) (registry.Entry, error) {
	spec, err := jobspec.Parse(jobSpecStr)
	if err != nil {
		return registry.Entry{}, err
	}
	entry, ok := f.Registry.Get(spec.Name)
	if !ok {
		return registry.Entry{}, fmt.Errorf("job class %q is not registered", spec.Name)
	}
	return entry, nil
}
