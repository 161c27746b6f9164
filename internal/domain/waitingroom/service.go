package waitingroom

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicflow/waitroom/internal/domain/appointment"
	"github.com/clinicflow/waitroom/internal/platform/events"
)

// Service is the application layer over the per-clinic managers. Every
// successful mutation is followed by exactly one event; failures publish
// nothing.
type Service struct {
	registry  *Registry
	publisher events.Publisher
	tracer    trace.Tracer
}

func NewService(registry *Registry, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.PublisherFunc(func(context.Context, events.Event) error { return nil })
	}
	return &Service{
		registry:  registry,
		publisher: publisher,
		tracer:    otel.Tracer("github.com/clinicflow/waitroom/internal/domain/waitingroom"),
	}
}

// removedPayload is the data of a queue.removed event.
type removedPayload struct {
	Entry
	Reason RemovalReason `json:"reason"`
}

func (s *Service) start(ctx context.Context, op, clinicID string, id uuid.UUID) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("clinic.id", clinicID)}
	if id != uuid.Nil {
		attrs = append(attrs, attribute.String("appointment.id", id.String()))
	}
	return s.tracer.Start(ctx, "waitingroom."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// emit publishes an event. Fan-out sinks never fail the caller, so a build
// error is the only thing that can surface here and it is recorded on the span.
func (s *Service) emit(ctx context.Context, eventType, clinicID string, id uuid.UUID, at time.Time, data any) {
	ev, err := events.New(eventType, clinicID, id, at, data)
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}

// View returns the clinic's ordered queue at now.
func (s *Service) View(ctx context.Context, clinicID string, now time.Time) ([]Item, error) {
	m, err := s.registry.Manager(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	return m.OrderedView(now), nil
}

// Stats returns the clinic's queue counters at now.
func (s *Service) Stats(ctx context.Context, clinicID string, now time.Time) (Stats, error) {
	m, err := s.registry.Manager(ctx, clinicID)
	if err != nil {
		return Stats{}, err
	}
	return m.Stats(now), nil
}

// Next returns the patient that would be called next.
func (s *Service) Next(ctx context.Context, clinicID string, now time.Time) (Item, error) {
	m, err := s.registry.Manager(ctx, clinicID)
	if err != nil {
		return Item{}, err
	}
	return m.Next(now)
}

// Enqueue admits an appointment at arrival. Events carry the server time now;
// the arrival stays in the entry.
func (s *Service) Enqueue(ctx context.Context, clinicID string, id uuid.UUID, arrival, now time.Time) (e Entry, err error) {
	ctx, span := s.start(ctx, "Enqueue", clinicID, id)
	defer func() { endSpan(span, err) }()

	m, err := s.registry.Manager(ctx, clinicID)
	if err != nil {
		return Entry{}, err
	}
	if e, err = m.Enqueue(ctx, id, arrival); err != nil {
		return Entry{}, err
	}
	s.emit(ctx, events.TypeQueueEntered, clinicID, id, now, e)
	return e, nil
}

// MarkArrived checks a patient in. The appointment must be pending or
// confirmed.
func (s *Service) MarkArrived(ctx context.Context, clinicID string, id uuid.UUID, arrival, now time.Time) (e Entry, err error) {
	ctx, span := s.start(ctx, "MarkArrived", clinicID, id)
	defer func() { endSpan(span, err) }()

	m, err := s.registry.Manager(ctx, clinicID)
	if err != nil {
		return Entry{}, err
	}
	if e, err = m.MarkArrived(ctx, id, arrival); err != nil {
		return Entry{}, err
	}
	s.emit(ctx, events.TypeQueueEntered, clinicID, id, now, e)
	return e, nil
}

// Attend calls a queued patient into a room.
func (s *Service) Attend(ctx context.Context, clinicID string, id uuid.UUID, room string, now time.Time) (e Entry, err error) {
	ctx, span := s.start(ctx, "Attend", clinicID, id)
	span.SetAttributes(attribute.String("room", room))
	defer func() { endSpan(span, err) }()

	m, err := s.registry.Manager(ctx, clinicID)
	if err != nil {
		return Entry{}, err
	}
	if e, err = m.DequeueForAttendance(ctx, id, room); err != nil {
		return Entry{}, err
	}
	s.emit(ctx, events.TypeAttendanceStarted, clinicID, id, now, e)
	return e, nil
}

func (s *Service) SetUrgent(ctx context.Context, clinicID string, id uuid.UUID, urgent bool, now time.Time) (e Entry, err error) {
	ctx, span := s.start(ctx, "SetUrgent", clinicID, id)
	span.SetAttributes(attribute.Bool("urgent", urgent))
	defer func() { endSpan(span, err) }()

	m, err := s.registry.Manager(ctx, clinicID)
	if err != nil {
		return Entry{}, err
	}
	if e, err = m.SetUrgent(ctx, id, urgent); err != nil {
		return Entry{}, err
	}
	s.emit(ctx, events.TypeQueueUrgencyChanged, clinicID, id, now, e)
	return e, nil
}

func (s *Service) Remove(ctx context.Context, clinicID string, id uuid.UUID, reason RemovalReason, now time.Time) (e Entry, err error) {
	ctx, span := s.start(ctx, "Remove", clinicID, id)
	span.SetAttributes(attribute.String("reason", string(reason)))
	defer func() { endSpan(span, err) }()

	m, err := s.registry.Manager(ctx, clinicID)
	if err != nil {
		return Entry{}, err
	}
	if e, err = m.Remove(ctx, id, reason); err != nil {
		return Entry{}, err
	}
	s.emit(ctx, events.TypeQueueRemoved, clinicID, id, now, removedPayload{Entry: e, Reason: reason})
	return e, nil
}

func (s *Service) Confirm(ctx context.Context, clinicID string, id uuid.UUID, now time.Time) (a *appointment.Appointment, err error) {
	ctx, span := s.start(ctx, "Confirm", clinicID, id)
	defer func() { endSpan(span, err) }()

	m, err := s.registry.Manager(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if a, err = m.Confirm(ctx, id); err != nil {
		return nil, err
	}
	s.emit(ctx, events.TypeAppointmentConfirmed, clinicID, id, now, a)
	return a, nil
}

func (s *Service) Complete(ctx context.Context, clinicID string, id uuid.UUID, now time.Time) (a *appointment.Appointment, err error) {
	ctx, span := s.start(ctx, "Complete", clinicID, id)
	defer func() { endSpan(span, err) }()

	m, err := s.registry.Manager(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if a, err = m.Complete(ctx, id); err != nil {
		return nil, err
	}
	s.emit(ctx, events.TypeAppointmentCompleted, clinicID, id, now, a)
	return a, nil
}

func (s *Service) Cancel(ctx context.Context, clinicID string, id uuid.UUID, reason string, now time.Time) (a *appointment.Appointment, err error) {
	ctx, span := s.start(ctx, "Cancel", clinicID, id)
	defer func() { endSpan(span, err) }()

	m, err := s.registry.Manager(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if a, err = m.Cancel(ctx, id, reason); err != nil {
		return nil, err
	}
	s.emit(ctx, events.TypeAppointmentCancelled, clinicID, id, now, a)
	return a, nil
}

// Exclusive runs fn under the clinic's queue lock. Appointment deletion uses
// it so no queue transition can interleave with the status check.
func (s *Service) Exclusive(ctx context.Context, clinicID string, fn func(ctx context.Context) error) error {
	m, err := s.registry.Manager(ctx, clinicID)
	if errors.Is(err, ErrUnknownClinic) {
		// An unknown clinic has no appointments.
		return appointment.ErrNotFound
	}
	if err != nil {
		return err
	}
	return m.Exclusive(ctx, fn)
}

// QueueLengths reports the queue size of every loaded clinic.
func (s *Service) QueueLengths() map[string]int {
	out := make(map[string]int)
	for _, clinicID := range s.registry.Clinics() {
		if m, ok := s.registry.Loaded(clinicID); ok {
			out[clinicID] = m.Len()
		}
	}
	return out
}
