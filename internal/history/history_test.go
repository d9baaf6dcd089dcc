package history

import (
	"context"
	"testing"
	"time"
)

type recordingSink struct{ got []Event }

func (s *recordingSink) Send(_ context.Context, e Event) error {
	s.got = append(s.got, e)
	return nil
}

func TestSinkReceivesStartAndStopEvents(t *testing.T) {
	var sink recordingSink
	start := Event{Type: EventStart, OccurredAt: time.Now(), Record: TaskRecord{JobClass: "health_check", JobSpec: "health_check:", PID: 123, Running: true}}
	stop := Event{Type: EventStop, OccurredAt: time.Now(), Record: TaskRecord{JobClass: "health_check", JobSpec: "health_check:", PID: 123, Running: false}}

	if err := sink.Send(context.Background(), start); err != nil {
		t.Fatalf("send start: %v", err)
	}
	if err := sink.Send(context.Background(), stop); err != nil {
		t.Fatalf("send stop: %v", err)
	}
	if len(sink.got) != 2 {
		t.Fatalf("expected 2 recorded events, got %d", len(sink.got))
	}
	if sink.got[0].Type != EventStart || sink.got[1].Type != EventStop {
		t.Fatalf("unexpected event ordering: %+v", sink.got)
	}
}
