package worker

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/loykin/cronman/internal/cronerrors"
	"github.com/loykin/cronman/internal/history"
	"github.com/loykin/cronman/internal/registry"
	"github.com/loykin/cronman/internal/task"
)

// recordingSink is a minimal in-memory history.Sink for tests.
type recordingSink struct{ events []history.Event }

func (s *recordingSink) Send(_ context.Context, e history.Event) error {
	s.events = append(s.events, e)
	return nil
}

// memTaskStore is a minimal in-memory task.Store for tests.
type memTaskStore struct {
	tasks  map[int64]task.Task
	nextID int64
}

func newMemTaskStore() *memTaskStore { return &memTaskStore{tasks: map[int64]task.Task{}} }

func (m *memTaskStore) EnsureSchema(ctx context.Context) error { return nil }
func (m *memTaskStore) Close() error                           { return nil }

func (m *memTaskStore) RunNow(ctx context.Context, cronJob, params string, now time.Time) (task.Task, bool, error) {
	m.nextID++
	t := task.Task{ID: m.nextID, CronJob: cronJob, Params: params, Status: task.StatusWaiting, StartAt: now}
	m.tasks[t.ID] = t
	return t, true, nil
}

func (m *memTaskStore) GetByID(ctx context.Context, id int64) (task.Task, bool, error) {
	t, ok := m.tasks[id]
	return t, ok, nil
}

func (m *memTaskStore) MarkQueued(ctx context.Context, id int64) error {
	t := m.tasks[id]
	t.Status = task.StatusQueued
	m.tasks[id] = t
	return nil
}

func (m *memTaskStore) MarkStarted(ctx context.Context, id int64, pid int, startedAt time.Time) error {
	t := m.tasks[id]
	t.Status = task.StatusStarted
	t.PID = pid
	t.StartedAt = &startedAt
	m.tasks[id] = t
	return nil
}

func (m *memTaskStore) MarkFinished(ctx context.Context, id int64, finishedAt time.Time) error {
	t := m.tasks[id]
	t.Status = task.StatusFinished
	t.FinishedAt = &finishedAt
	m.tasks[id] = t
	return nil
}

func (m *memTaskStore) MarkFailed(ctx context.Context, id int64) error {
	t := m.tasks[id]
	t.Status = task.StatusFailed
	m.tasks[id] = t
	return nil
}

func newTestRuntime(t *testing.T, reg *registry.Registry, tasks *memTaskStore) *Runtime {
	t.Helper()
	if tasks == nil {
		return New(t.TempDir(), reg, nil, nil, nil, nil)
	}
	return New(t.TempDir(), reg, tasks, nil, nil, nil)
}

func TestRunUnknownJobClassIsInvalidParams(t *testing.T) {
	reg := registry.New()
	reg.Freeze()
	rt := newTestRuntime(t, reg, nil)
	_, err := rt.Run(context.Background(), "NoSuchJob:a=1")
	if !errors.Is(err, cronerrors.ErrInvalidParams) {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}
}

func TestRunSuccessPath(t *testing.T) {
	reg := registry.New()
	called := false
	reg.Register(registry.Entry{
		Name: "Noop",
		Run: func(args []string, kwargs map[string]string) error {
			called = true
			return nil
		},
		LockRegime: registry.LockClass,
	})
	reg.Freeze()
	rt := newTestRuntime(t, reg, nil)

	summary, err := rt.Run(context.Background(), "Noop:")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !called {
		t.Fatalf("job class Run was never called")
	}
	if summary != "OK: Processed Noop:" {
		t.Fatalf("summary = %q", summary)
	}
}

func TestRunFailurePath(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Entry{
		Name: "Boom",
		Run: func(args []string, kwargs map[string]string) error {
			return errors.New("kaboom")
		},
		LockRegime: registry.LockClass,
	})
	reg.Freeze()
	rt := newTestRuntime(t, reg, nil)

	summary, err := rt.Run(context.Background(), "Boom:")
	if err != nil {
		t.Fatalf("Run should report job failure via the summary, not an error: %v", err)
	}
	if summary != "FAIL: Processed Boom:" {
		t.Fatalf("summary = %q", summary)
	}
}

func TestRunLockContentionBlocksSecondRun(t *testing.T) {
	reg := registry.New()
	release := make(chan struct{})
	reg.Register(registry.Entry{
		Name: "Slow",
		Run: func(args []string, kwargs map[string]string) error {
			<-release
			return nil
		},
		LockRegime:        registry.LockClass,
		LockCheckAttempts: 1,
	})
	reg.Freeze()
	rt := newTestRuntime(t, reg, nil)

	done := make(chan struct{})
	go func() {
		_, _ = rt.Run(context.Background(), "Slow:")
		close(done)
	}()

	// Give the first run a moment to create its PID file.
	time.Sleep(50 * time.Millisecond)
	_, err := rt.Run(context.Background(), "Slow:")
	close(release)
	<-done

	if !errors.Is(err, cronerrors.ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
}

func TestRunLockIgnoreErrorsSuppressesLockedError(t *testing.T) {
	reg := registry.New()
	release := make(chan struct{})
	reg.Register(registry.Entry{
		Name: "Slow",
		Run: func(args []string, kwargs map[string]string) error {
			<-release
			return nil
		},
		LockRegime:        registry.LockClass,
		LockCheckAttempts: 1,
		LockIgnoreErrors:  true,
	})
	reg.Freeze()
	rt := newTestRuntime(t, reg, nil)

	done := make(chan struct{})
	go func() {
		_, _ = rt.Run(context.Background(), "Slow:")
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	_, err := rt.Run(context.Background(), "Slow:")
	close(release)
	<-done

	if err != nil {
		t.Fatalf("expected no error when LockIgnoreErrors is set, got %v", err)
	}
}

func TestRunWithInvalidTaskStatusIsRejected(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Entry{
		Name: "Job",
		Run:  func(args []string, kwargs map[string]string) error { return nil },
	})
	reg.Freeze()
	tasks := newMemTaskStore()
	rt := newTestRuntime(t, reg, tasks)

	created, _, _ := tasks.RunNow(context.Background(), "Job", "", time.Now())
	_ = tasks.MarkFinished(context.Background(), created.ID, time.Now())

	_, err := rt.Run(context.Background(), "Job:task_id="+strconv.FormatInt(created.ID, 10))
	if !errors.Is(err, cronerrors.ErrInvalidTaskStatus) {
		t.Fatalf("err = %v, want ErrInvalidTaskStatus", err)
	}
}

func TestRunEmitsHistoryStartAndStopEvents(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Entry{
		Name: "Noop",
		Run:  func(args []string, kwargs map[string]string) error { return nil },
	})
	reg.Freeze()
	rt := newTestRuntime(t, reg, nil)
	sink := &recordingSink{}
	rt.History = sink

	if _, err := rt.Run(context.Background(), "Noop:"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 history events, got %d", len(sink.events))
	}
	if sink.events[0].Type != history.EventStart || sink.events[1].Type != history.EventStop {
		t.Fatalf("unexpected event ordering: %+v", sink.events)
	}
	if sink.events[0].Record.JobClass != "Noop" {
		t.Fatalf("unexpected job class: %+v", sink.events[0].Record)
	}
}

func TestRunWithPendingTaskMarksLifecycle(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Entry{
		Name: "Job",
		Run:  func(args []string, kwargs map[string]string) error { return nil },
	})
	reg.Freeze()
	tasks := newMemTaskStore()
	rt := newTestRuntime(t, reg, tasks)

	created, _, _ := tasks.RunNow(context.Background(), "Job", "", time.Now())
	_, err := rt.Run(context.Background(), "Job:task_id="+strconv.FormatInt(created.ID, 10))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _, _ := tasks.GetByID(context.Background(), created.ID)
	if got.Status != task.StatusFinished {
		t.Fatalf("task status = %q, want finished", got.Status)
	}
}
