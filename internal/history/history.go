// Package history fans out CronTask run records to an external analytics
// sink (spec.md §4 domain-stack "ClickHouse → internal/task history
// fan-out"). Grounded on the teacher's internal/history: same
// Event/Sink shape, Record narrowed from the teacher's generic process
// internal/store.Record to the fields a task run actually has.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
)

// TaskRecord is the task-run fact recorded on each Event, mirroring the
// columns original_source's CronTask exposes to its own logging.
type TaskRecord struct {
	JobClass   string
	JobSpec    string
	PID        int
	StartedAt  time.Time
	FinishedAt time.Time
	Running    bool
	ExitErr    string
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType  `json:"type"`
	OccurredAt time.Time  `json:"occurred_at"`
	Record     TaskRecord `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
