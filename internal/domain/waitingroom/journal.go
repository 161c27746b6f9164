package waitingroom

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/waitroom/internal/platform/events"
)

// JournalEntry is one recorded queue event.
type JournalEntry struct {
	ID            uuid.UUID       `json:"id"`
	ClinicID      string          `json:"clinic_id"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Journal is an append-only history of queue events. Implementations are
// registered as event sinks through Publish.
type Journal interface {
	events.Publisher
	// History returns an appointment's events, oldest first.
	History(ctx context.Context, clinicID string, appointmentID uuid.UUID) ([]JournalEntry, error)
}

func journalEntryFromEvent(ev events.Event) (JournalEntry, error) {
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		return JournalEntry{}, err
	}
	apptID, err := uuid.Parse(ev.AppointmentID)
	if err != nil {
		return JournalEntry{}, err
	}
	return JournalEntry{
		ID:            id,
		ClinicID:      ev.ClinicID,
		AppointmentID: apptID,
		EventType:     ev.Type,
		Payload:       ev.Data,
		OccurredAt:    ev.OccurredAt,
	}, nil
}

// MemoryJournal keeps the history in process memory.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries map[uuid.UUID][]JournalEntry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[uuid.UUID][]JournalEntry)}
}

func (j *MemoryJournal) Publish(_ context.Context, ev events.Event) error {
	e, err := journalEntryFromEvent(ev)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.AppointmentID] = append(j.entries[e.AppointmentID], e)
	return nil
}

func (j *MemoryJournal) History(_ context.Context, clinicID string, appointmentID uuid.UUID) ([]JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []JournalEntry
	for _, e := range j.entries[appointmentID] {
		if e.ClinicID == clinicID {
			out = append(out, e)
		}
	}
	return out, nil
}
