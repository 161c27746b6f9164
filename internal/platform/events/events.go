// Package events carries waiting-room changes to the outside world: screens
// over WebSocket, other services over Kafka and RabbitMQ, and the Postgres
// journal. Delivery is best effort; a failing sink is logged and skipped.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types emitted after successful queue and lifecycle operations.
const (
	TypeAppointmentConfirmed = "appointment.confirmed"
	TypeQueueEntered         = "queue.entered"
	TypeQueueUrgencyChanged  = "queue.urgency_changed"
	TypeAttendanceStarted    = "queue.attendance_started"
	TypeQueueRemoved         = "queue.removed"
	TypeAppointmentCompleted = "appointment.completed"
	TypeAppointmentCancelled = "appointment.cancelled"
)

// Event is the envelope shared by every sink.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	ClinicID      string          `json:"clinic_id"`
	AppointmentID string          `json:"appointment_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// New builds an event with a fresh id. Ids are UUIDv7, so events that share
// an occurred_at still sort in emission order. data is marshalled as the
// payload.
func New(eventType, clinicID string, appointmentID uuid.UUID, at time.Time, data any) (Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	ev := Event{
		ID:            id.String(),
		Type:          eventType,
		ClinicID:      clinicID,
		AppointmentID: appointmentID.String(),
		OccurredAt:    at.UTC(),
	}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		ev.Data = b
	}
	return ev, nil
}

// Publisher delivers an event to one destination.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Sink is a named Publisher registered on a Fanout.
type Sink struct {
	Name      string
	Publisher Publisher
}

// Fanout delivers each event to every sink in registration order. Sink
// failures are logged and never returned.
type Fanout struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger zerolog.Logger
}

func NewFanout(logger zerolog.Logger, sinks ...Sink) *Fanout {
	return &Fanout{
		sinks:  sinks,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Add registers another sink.
func (f *Fanout) Add(name string, p Publisher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, Sink{Name: name, Publisher: p})
}

// Sinks returns the registered sink names.
func (f *Fanout) Sinks() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name
	}
	return names
}

func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	f.mu.RLock()
	sinks := make([]Sink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Publisher.Publish(ctx, ev); err != nil {
			f.logger.Warn().Err(err).
				Str("sink", s.Name).
				Str("event_id", ev.ID).
				Str("event_type", ev.Type).
				Str("clinic_id", ev.ClinicID).
				Msg("event delivery failed")
		}
	}
	return nil
}

// Recorder keeps published events in memory. It is the publisher used by
// tests and by STORE=memory demos without brokers.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
