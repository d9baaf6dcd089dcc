// Package task persists CronTask records: external requests to run a job
// class immediately, tracked through a small state machine (spec.md §4.G,
// supplemented from original_source's models.py CronTask/CronTaskManager).
// A CronTask is optional — jobs fired purely by the scheduler's own cron
// tables never create one — but when a job spec carries a task_id param,
// the worker looks the task up and updates its status as the run
// progresses.
package task

import (
	"context"
	"strconv"
	"time"
)

// Status is the CronTask state machine (taxonomies.CronTaskStatus).
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusQueued   Status = "queued"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// IDParam is the reserved job-spec kwarg a worker strips off to look up
// the owning CronTask (models.CronTask.TASK_ID_PARAM).
const IDParam = "task_id"

// Task is one CronTask row.
type Task struct {
	ID        int64
	CronJob   string
	Params    string
	Status    Status
	PID       int
	StartAt   time.Time
	StartedAt *time.Time
	FinishedAt *time.Time
}

// IsPending reports whether this task is still eligible to be launched.
func (t Task) IsPending() bool {
	return t.Status == StatusWaiting || t.Status == StatusQueued
}

// IsStarted reports whether the task is currently marked as running.
func (t Task) IsStarted() bool { return t.Status == StatusStarted }

// JobSpec reconstructs the job-spec string this task would be launched
// with, appending its own ID as the reserved task_id param — mirrors
// CronTask.__str__'s "{cron_job}{,params}{,task_id=pk}" shape.
func (t Task) JobSpec() string {
	spec := t.CronJob
	if t.Params != "" {
		spec += ":" + t.Params + ","
	} else {
		spec += ":"
	}
	return spec + IDParam + "=" + strconv.FormatInt(t.ID, 10)
}

// runNowTolerance is the dedup window CronTaskManager.run_now uses: a new
// RunNow request within this many minutes of an existing task's StartAt
// for the same (cron_job, params) pair reuses that task instead of
// creating a duplicate.
const runNowTolerance = 4 * time.Minute

// Store persists CronTask rows. Implementations must be safe for
// concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Close() error

	// RunNow creates (or reuses, within runNowTolerance) a task requesting
	// cronJob be run immediately with params. created reports whether a
	// new row was inserted.
	RunNow(ctx context.Context, cronJob, params string, now time.Time) (t Task, created bool, err error)

	GetByID(ctx context.Context, id int64) (Task, bool, error)

	MarkQueued(ctx context.Context, id int64) error
	MarkStarted(ctx context.Context, id int64, pid int, startedAt time.Time) error
	MarkFinished(ctx context.Context, id int64, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id int64) error
}
