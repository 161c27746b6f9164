package waitingroom

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/clinicflow/waitroom/internal/platform/events"
)

func TestMemoryJournal_History(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()
	id := uuid.New()

	for _, typ := range []string{events.TypeQueueEntered, events.TypeAttendanceStarted} {
		ev, err := events.New(typ, "centro", id, at(14, 0), map[string]string{"room": "1"})
		if err != nil {
			t.Fatal(err)
		}
		if err := j.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	other, _ := events.New(events.TypeQueueEntered, "norte", id, at(14, 0), nil)
	j.Publish(ctx, other)

	got, err := j.History(ctx, "centro", id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].EventType != events.TypeQueueEntered || got[1].EventType != events.TypeAttendanceStarted {
		t.Errorf("unexpected order %+v", got)
	}
	if string(got[0].Payload) != `{"room":"1"}` {
		t.Errorf("unexpected payload %s", got[0].Payload)
	}
	if empty, _ := j.History(ctx, "centro", uuid.New()); len(empty) != 0 {
		t.Error("expected no history for unknown appointment")
	}
}

func TestMemoryJournal_RejectsInvalidIDs(t *testing.T) {
	j := NewMemoryJournal()
	if err := j.Publish(context.Background(), events.Event{ID: "x", AppointmentID: uuid.New().String()}); err == nil {
		t.Error("expected error for invalid event id")
	}
	if err := j.Publish(context.Background(), events.Event{ID: uuid.New().String(), AppointmentID: "y"}); err == nil {
		t.Error("expected error for invalid appointment id")
	}
}
