// Package scheduler implements Scheduler (spec.md §4.A): the single-tick
// state machine that decides which jobs are due, starts workers for them,
// and honors enable/disable requests from either the local lock file or
// the remote control plane.
//
// Grounded on scheduler/scheduler.py's CronScheduler.run, with due-job
// computation delegated to robfig/cron/v3 in place of croniter, and the
// lock/resume marker files reimplemented from scheduler/files.py.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/cronman/internal/cronerrors"
	"github.com/loykin/cronman/internal/fleet"
	"github.com/loykin/cronman/internal/jobspec"
	"github.com/loykin/cronman/internal/registry"
	"github.com/loykin/cronman/internal/remotectl"
	"github.com/loykin/cronman/internal/spawner"
)

// Interval is the number of minutes a single tick's due-job window spans
// (CronScheduler.interval).
const Interval = 2 * time.Minute

// Entry is one static cron table row: a 5-field cron expression paired
// with the job spec it fires.
type Entry struct {
	Expr    string
	JobSpec string
}

// Scheduler runs one tick at a time; Tick is expected to be invoked
// roughly every Interval by an external timer (each cmd/cronman "scheduler
// run" invocation performs one Tick), not by this package.
type Scheduler struct {
	DataDir  string
	Jobs     []Entry
	Spawner  *spawner.Spawner
	Fleet    *fleet.Fleet
	Registry *registry.Registry
	Remote   *remotectl.Control
	Logger   *slog.Logger

	parser cron.Parser
}

func New(dataDir string, jobs []Entry, sp *spawner.Spawner, fl *fleet.Fleet, reg *registry.Registry, remote *remotectl.Control, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		DataDir: dataDir, Jobs: jobs, Spawner: sp, Fleet: fl, Registry: reg, Remote: remote, Logger: logger,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (s *Scheduler) lockFilePath() string   { return filepath.Join(s.DataDir, "scheduler.lock") }
func (s *Scheduler) resumeFilePath() string { return filepath.Join(s.DataDir, "scheduler.resume") }

func markerExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func createMarker(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

func deleteMarker(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Tick runs one scheduling pass at instant now, returning a human-readable
// summary line. An error is returned for ErrSchedulerLocked (quitting
// because the lock file is present and no remote enable was pending), or
// when a remote disable cannot create the lock file; cmd/cronman logs it
// as a warning and does not treat it as fatal.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (string, error) {
	if len(s.Jobs) == 0 {
		s.Logger.Warn(cronerrors.ErrNoJobs.Error() + ": scheduler has no jobs configured")
	}

	if s.Remote != nil {
		for jobSpecOrPID := range s.Remote.PopKilled(ctx) {
			s.Logger.Info("processing remote KILL request", "job_spec_or_pid", jobSpecOrPID)
			out, _, _ := s.Fleet.Kill(selectorFor(jobSpecOrPID))
			s.Logger.Info("remote KILL result", "items", len(out))
		}
	}

	remoteStatus, haveRemoteStatus := s.remoteStatus(ctx)

	locked := markerExists(s.lockFilePath())
	if locked {
		if haveRemoteStatus && remoteStatus == remotectl.StatusEnabled {
			s.Logger.Info("processing remote ENABLE request")
			if _, err := s.Enable(true); err != nil {
				s.Logger.Warn("remote enable failed", "error", err)
			}
		} else {
			return "", fmt.Errorf("%w: scheduler is disabled (lock file exists)", cronerrors.ErrSchedulerLocked)
		}
	} else if haveRemoteStatus && remoteStatus == remotectl.StatusDisabled {
		s.Logger.Info("processing remote DISABLE request")
		return s.Disable(true)
	}

	output := ""
	if markerExists(s.resumeFilePath()) {
		_ = deleteMarker(s.resumeFilePath())
		output += s.resumeWorkers()
	}

	runStart := time.Now()
	due := s.dueJobs(now)
	started := 0
	for i, d := range due {
		s.Logger.Info("starting worker", "time_spec", d.Expr, "job_spec", d.JobSpec, "index", i+1, "total", len(due))
		if _, err := s.Spawner.Start(d.JobSpec, s.entryFor(d.JobSpec)); err != nil {
			s.Logger.Warn("failed to start worker", "job_spec", d.JobSpec, "error", err)
			continue
		}
		started++
	}
	runEnd := time.Now()
	if started > 0 {
		output += fmt.Sprintf("Started %d job(s) in %s\n", started, runEnd.Sub(runStart))
	} else {
		output += "No jobs started.\n"
	}
	return output, nil
}

func (s *Scheduler) entryFor(jobSpecStr string) registry.Entry {
	spec, err := jobspec.Parse(jobSpecStr)
	if err != nil {
		return registry.Entry{}
	}
	entry, _ := s.Registry.Get(spec.Name)
	return entry
}

func selectorFor(jobSpecOrPID string) fleet.Selector {
	if n, err := parsePID(jobSpecOrPID); err == nil {
		return fleet.Selector{PID: n}
	}
	return fleet.Selector{JobSpec: jobSpecOrPID}
}

func (s *Scheduler) remoteStatus(ctx context.Context) (remotectl.Status, bool) {
	if s.Remote == nil {
		return "", false
	}
	if status, ok := s.Remote.GetStatus(ctx, "ALL"); ok {
		return status, true
	}
	return s.Remote.PopStatus(ctx, "")
}

func (s *Scheduler) resumeWorkers() string {
	items, totals, _ := s.Fleet.Resume(fleet.Selector{})
	return fmt.Sprintf("Resumed %d job(s).\n", len(items)) + fmt.Sprintf("%v\n", totals)
}

// Disable sets the lock file, and (when workers is true) also suspends
// every running worker — clean+kill, matching CronScheduler.disable. Being
// asked to disable an already-disabled scheduler is not an error: like
// CronScheduler.disable's self.warning(...) call, it returns a warning
// message and a nil error, so callers (including the CLI) always exit 0.
func (s *Scheduler) Disable(workers bool) (string, error) {
	if markerExists(s.lockFilePath()) {
		s.Logger.Warn("scheduler is already disabled")
		return "Scheduler is already disabled.\n", nil
	}
	if err := createMarker(s.lockFilePath()); err != nil {
		return "", err
	}
	summary := "lock file created"
	if workers {
		_, _, _ = s.Fleet.CleanJobSpecs(fleet.Selector{})
		_, _, _ = s.Fleet.Clean(fleet.Selector{})
		_, _, _ = s.Fleet.Kill(fleet.Selector{})
		summary += ", workers suspended"
	}
	return fmt.Sprintf("Scheduler disabled (%s).\n", summary), nil
}

// Enable clears the lock file, and (when workers is true) also drops a
// resume marker so the next Tick resumes previously-killed resumable jobs.
// Being asked to enable an already-enabled scheduler is not an error, for
// the same reason as Disable above: a warning message, nil error.
func (s *Scheduler) Enable(workers bool) (string, error) {
	if !markerExists(s.lockFilePath()) {
		s.Logger.Warn("scheduler is already enabled")
		return "Scheduler is already enabled.\n", nil
	}
	summary := ""
	if workers {
		if err := createMarker(s.resumeFilePath()); err != nil {
			return "", err
		}
		summary = "resume file created, "
	}
	if err := deleteMarker(s.lockFilePath()); err != nil {
		return "", err
	}
	summary += "lock file deleted"
	return fmt.Sprintf("Scheduler enabled (%s).\n", summary), nil
}

// dueJob pairs a parsed cron Entry with the instant it next fires.
type dueJob struct {
	Entry
	At time.Time
}

// dueJobs computes [floor_to_minute(now)-1s, start+Interval] and returns
// every Jobs entry whose next activation after start falls within that
// window, sorted by activation time then registration order (stable sort
// preserves table order for same-instant ties, matching Python's sorted()
// on (job_start, time_spec, job_spec) tuples where time_spec/job_spec
// break ties deterministically too, but registration order is the more
// natural Go idiom here).
func (s *Scheduler) dueJobs(now time.Time) []Entry {
	start := now.Truncate(time.Minute).Add(-time.Second)
	end := start.Add(Interval)

	var due []dueJob
	for _, e := range s.Jobs {
		sched, err := s.parser.Parse(e.Expr)
		if err != nil {
			s.Logger.Warn("invalid cron expression, skipping", "expr", e.Expr, "job_spec", e.JobSpec, "error", err)
			continue
		}
		next := sched.Next(start)
		if !next.After(end) {
			due = append(due, dueJob{Entry: e, At: next})
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].At.Before(due[j].At) })
	out := make([]Entry, len(due))
	for i, d := range due {
		out[i] = d.Entry
	}
	return out
}

func parsePID(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}
