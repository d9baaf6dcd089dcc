// Package worker implements WorkerRuntime (spec.md §4.B): the in-process
// pipeline a spawned subprocess runs to execute one job spec — parse,
// reserved-param extraction, CronTask lookup, lock acquisition, PID/JobSpec
// file bookkeeping, the job class's Run, monitor notifications, and
// cleanup.
//
// Grounded on the original worker/worker.py's CronWorker.run, with signal
// handling adapted from worker/signal_notifier.py and lock polling from
// CronWorker.pid_file_locked.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/cronman/internal/cronerrors"
	"github.com/loykin/cronman/internal/history"
	"github.com/loykin/cronman/internal/jobspec"
	"github.com/loykin/cronman/internal/monitor"
	"github.com/loykin/cronman/internal/procmgr"
	"github.com/loykin/cronman/internal/registry"
	"github.com/loykin/cronman/internal/task"
	"github.com/loykin/cronman/internal/workerfile"
)

// Runtime executes one job spec end to end inside a spawned worker
// process.
type Runtime struct {
	DataDir  string
	Registry *registry.Registry
	Tasks    task.Store // nil disables CronTask integration entirely
	Cronitor *monitor.Cronitor
	Slack    *monitor.Slack
	Logger   *slog.Logger
	History  history.Sink // nil disables history fan-out entirely
}

func New(dataDir string, reg *registry.Registry, tasks task.Store, cronitor *monitor.Cronitor, slack *monitor.Slack, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{DataDir: dataDir, Registry: reg, Tasks: tasks, Cronitor: cronitor, Slack: slack, Logger: logger}
}

// Run executes jobSpecStr, returning a one-line summary ("OK: Processed
// ..." / "FAIL: Processed ...") on every path that actually attempted the
// job, and an error for every path that refused to (parse failure,
// unknown job class, invalid CronTask status, or lock contention). When
// the job class sets LockIgnoreErrors, lock contention is instead logged
// as a warning and Run returns an empty summary and a nil error.
func (r *Runtime) Run(ctx context.Context, jobSpecStr string) (string, error) {
	spec, err := jobspec.Parse(jobSpecStr)
	if err != nil {
		return "", fmt.Errorf("%w: %s", cronerrors.ErrInvalidParams, err)
	}
	entry, ok := r.Registry.Get(spec.Name)
	if !ok {
		return "", fmt.Errorf("%w: job class %q is not registered", cronerrors.ErrInvalidParams, spec.Name)
	}

	taskID, cronitorID, kwargs := jobspec.ExtractReserved(spec.KWArgs)
	spec.KWArgs = kwargs

	cronTask, err := r.lookupTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if cronTask != nil && !cronTask.IsPending() {
		if r.taskWasKilled(*cronTask) {
			r.Logger.Info("starting job for killed task", "job_spec", jobSpecStr, "task_id", taskID)
		} else {
			return "", fmt.Errorf("%w: task %s has status %q", cronerrors.ErrInvalidTaskStatus, taskID, cronTask.Status)
		}
	}
	if cronTask != nil {
		if err := r.Tasks.MarkQueued(ctx, cronTask.ID); err != nil {
			r.Logger.Warn("failed to mark task queued", "task_id", taskID, "error", err)
		}
	}

	pidFile := r.pidFile(entry, spec)
	locked, err := r.pidFileLocked(pidFile, entry.LockCheckAttempts)
	if err != nil {
		return "", err
	}
	if locked {
		err := fmt.Errorf("%w: %q is already running (PID file %s exists)", cronerrors.ErrLocked, jobSpecStr, pidFile.Path())
		if entry.LockIgnoreErrors {
			r.Logger.Warn(err.Error())
			return "", nil
		}
		return "", err
	}

	var jobSpecFile *workerfile.JobSpecFile
	if entry.CanResume {
		jobSpecFile = pidFile.JobSpecFileFor()
	}

	notifier := newSignalNotifier(jobSpecStr, r.Slack, r.Logger)
	notifier.Capture()
	defer notifier.Reset()

	if err := pidFile.Create(); err != nil {
		return "", fmt.Errorf("writing pid file: %w", err)
	}
	if jobSpecFile != nil {
		if err := jobSpecFile.Create(jobSpecStr); err != nil {
			r.Logger.Warn("failed to write jobspec file", "error", err)
		}
	}

	runStart := time.Now()
	runPID, _ := pidFile.PID()
	if cronTask != nil {
		if err := r.Tasks.MarkStarted(ctx, cronTask.ID, runPID, runStart); err != nil {
			r.Logger.Warn("failed to mark task started", "task_id", taskID, "error", err)
		}
	}
	r.Logger.Info("starting job", "job_spec", jobSpecStr)
	r.emitHistory(ctx, history.EventStart, history.TaskRecord{
		JobClass: entry.Name, JobSpec: jobSpecStr, PID: runPID, StartedAt: runStart, Running: true,
	})

	effectiveCronitorID := cronitorID
	if effectiveCronitorID == "" {
		effectiveCronitorID = entry.CronitorID
	}
	r.beforeStart(ctx, entry, effectiveCronitorID)
	runErr := entry.Run(spec.Args, spec.KWArgs)
	runEnd := time.Now()
	duration := runEnd.Sub(runStart)

	ok := runErr == nil
	if ok {
		if cronTask != nil {
			if err := r.Tasks.MarkFinished(ctx, cronTask.ID, runEnd); err != nil {
				r.Logger.Warn("failed to mark task finished", "task_id", taskID, "error", err)
			}
		}
		r.Logger.Info("job finished", "job_spec", jobSpecStr, "duration", duration)
		r.onSuccess(ctx, entry, effectiveCronitorID, jobSpecStr)
	} else {
		if cronTask != nil {
			if err := r.Tasks.MarkFailed(ctx, cronTask.ID); err != nil {
				r.Logger.Warn("failed to mark task failed", "task_id", taskID, "error", err)
			}
		}
		r.Logger.Warn("job FAILED", "job_spec", jobSpecStr, "duration", duration, "error", runErr)
		r.onError(ctx, entry, effectiveCronitorID, runErr)
	}

	stopRecord := history.TaskRecord{JobClass: entry.Name, JobSpec: jobSpecStr, PID: runPID, StartedAt: runStart, FinishedAt: runEnd}
	if !ok {
		stopRecord.ExitErr = runErr.Error()
	}
	r.emitHistory(ctx, history.EventStop, stopRecord)

	if jobSpecFile != nil {
		_ = jobSpecFile.Delete()
	}
	_ = pidFile.Delete()

	status := "OK"
	if !ok {
		status = "FAIL"
	}
	return fmt.Sprintf("%s: Processed %s", status, jobSpecStr), nil
}

func (r *Runtime) lookupTask(ctx context.Context, taskID string) (*task.Task, error) {
	if taskID == "" || r.Tasks == nil {
		return nil, nil
	}
	id, err := parseTaskID(taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid task_id %q", cronerrors.ErrInvalidParams, taskID)
	}
	t, ok, err := r.Tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up task %d: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func parseTaskID(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// taskWasKilled matches cron_task_killed: a STARTED task whose recorded
// PID is no longer alive was externally killed, and restarting it (rather
// than refusing) is the desired behavior.
func (r *Runtime) taskWasKilled(t task.Task) bool {
	return t.IsStarted() && t.PID != 0 && !procmgr.FromInt(t.PID).Alive()
}

func (r *Runtime) pidFile(entry registry.Entry, spec jobspec.Spec) *workerfile.PIDFile {
	name := entry.LockName()
	var base string
	switch entry.LockRegime {
	case registry.LockClass:
		base = workerfile.BaseName(name, nil, nil, false)
	case registry.LockParams:
		base = workerfile.BaseName(name, spec.Args, spec.KWArgs, false)
	default: // LockNone
		base = workerfile.BaseName(name, spec.Args, spec.KWArgs, true)
	}
	return workerfile.NewPIDFile(r.DataDir, base)
}

// pidFileLocked polls exists-with-alive-process lockCheckAttempts times,
// sleeping one second between attempts, matching pid_file_locked's retry
// loop (used so a worker about to exit gets a brief grace window rather
// than an immediate false positive).
func (r *Runtime) pidFileLocked(pidFile *workerfile.PIDFile, attempts int) (bool, error) {
	if attempts <= 0 {
		attempts = 1
	}
	locked := true
	for attempts > 0 {
		attempts--
		locked = pidFile.ExistsWithAliveProcess()
		if !locked {
			break
		}
		if attempts > 0 {
			time.Sleep(time.Second)
		}
	}
	return locked, nil
}

func (r *Runtime) beforeStart(ctx context.Context, entry registry.Entry, cronitorID string) {
	if cronitorID != "" && entry.CronitorPingRun && r.Cronitor != nil {
		r.Cronitor.Run(ctx, cronitorID, "")
	}
}

func (r *Runtime) onSuccess(ctx context.Context, entry registry.Entry, cronitorID, jobSpecStr string) {
	if cronitorID != "" && r.Cronitor != nil {
		r.Cronitor.Complete(ctx, cronitorID, "")
	}
	if entry.SlackNotifyDone && r.Slack != nil {
		r.Slack.Post(ctx, fmt.Sprintf("Cron job %q is done.", jobSpecStr), "")
	}
}

func (r *Runtime) onError(ctx context.Context, entry registry.Entry, cronitorID string, runErr error) {
	if cronitorID != "" && entry.CronitorPingFail && r.Cronitor != nil {
		r.Cronitor.Fail(ctx, cronitorID, runErr.Error())
	}
}

// emitHistory fans rec out to r.History, logging (not failing the run on)
// a sink error — history is an analytics side channel, never load-bearing.
func (r *Runtime) emitHistory(ctx context.Context, t history.EventType, rec history.TaskRecord) {
	if r.History == nil {
		return
	}
	if err := r.History.Send(ctx, history.Event{Type: t, OccurredAt: time.Now(), Record: rec}); err != nil {
		r.Logger.Warn("history sink send failed", "job_spec", rec.JobSpec, "error", err)
	}
}

// signalNotifier posts a Slack warning and exits with the signal number
// when SIGINT/SIGTERM arrives mid-run, restoring default handling once the
// run completes normally (worker/signal_notifier.py's context manager).
type signalNotifier struct {
	jobName string
	slack   *monitor.Slack
	logger  *slog.Logger
	ch      chan os.Signal
	done    chan struct{}
}

func newSignalNotifier(jobName string, slack *monitor.Slack, logger *slog.Logger) *signalNotifier {
	return &signalNotifier{jobName: jobName, slack: slack, logger: logger}
}

func (n *signalNotifier) Capture() {
	n.ch = make(chan os.Signal, 1)
	n.done = make(chan struct{})
	signal.Notify(n.ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-n.ch:
			message := fmt.Sprintf("cron job %q killed by %s", n.jobName, sig)
			n.logger.Warn(message)
			if n.slack != nil {
				n.slack.Post(context.Background(), message, "")
			}
			os.Exit(signalExitCode(sig))
		case <-n.done:
		}
	}()
}

func (n *signalNotifier) Reset() {
	signal.Stop(n.ch)
	close(n.done)
}

func signalExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return 1
}
