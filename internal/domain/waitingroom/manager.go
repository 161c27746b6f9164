package waitingroom

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/waitroom/internal/domain/appointment"
)

// Store is the part of the appointment repository the queue needs.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Update(ctx context.Context, a *appointment.Appointment) error
	ListWaiting(ctx context.Context, clinicID string) ([]*appointment.Appointment, error)
}

// Manager owns the waiting queue of a single clinic. Every operation that
// touches both the queue and an appointment's status runs under one lock, so
// an appointment is in the queue exactly when its status is waiting.
type Manager struct {
	mu         sync.RWMutex
	clinicID   string
	store      Store
	thresholds Thresholds
	entries    map[uuid.UUID]*Entry
	loaded     bool
}

func NewManager(clinicID string, store Store, th Thresholds) *Manager {
	return &Manager{
		clinicID:   clinicID,
		store:      store,
		thresholds: th,
		entries:    make(map[uuid.UUID]*Entry),
	}
}

// ClinicID returns the clinic this manager serves.
func (m *Manager) ClinicID() string { return m.clinicID }

// Rehydrate rebuilds the queue from appointments persisted as waiting. It runs
// once; later calls are no-ops.
func (m *Manager) Rehydrate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return nil
	}
	waiting, err := m.store.ListWaiting(ctx, m.clinicID)
	if err != nil {
		return fmt.Errorf("rehydrate clinic %s: %w", m.clinicID, err)
	}
	for _, a := range waiting {
		if a.ArrivedAt == nil {
			continue
		}
		e := entryFromAppointment(a, *a.ArrivedAt)
		m.entries[a.ID] = e
	}
	m.loaded = true
	return nil
}

// load fetches an appointment and hides appointments of other clinics.
func (m *Manager) load(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ClinicID != m.clinicID {
		return nil, appointment.ErrNotFound
	}
	return a, nil
}

// loadQueued is load for an appointment that has a queue entry. An entry whose
// appointment no longer exists is dropped. Callers hold m.mu.
func (m *Manager) loadQueued(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, err := m.load(ctx, id)
	if errors.Is(err, appointment.ErrNotFound) {
		delete(m.entries, id)
	}
	return a, err
}

// Exclusive runs fn while holding the clinic's queue lock, so fn observes no
// queue transition in progress.
func (m *Manager) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx)
}

// Enqueue admits an appointment into the queue at arrival. The appointment
// moves to waiting.
func (m *Manager) Enqueue(ctx context.Context, id uuid.UUID, arrival time.Time) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; ok {
		return Entry{}, ErrAlreadyQueued
	}
	a, err := m.load(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	return m.arriveLocked(ctx, a, arrival)
}

// MarkArrived is the lifecycle entry point for a check-in. Unlike Enqueue, an
// appointment already waiting is reported as an invalid transition.
func (m *Manager) MarkArrived(ctx context.Context, id uuid.UUID, arrival time.Time) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.load(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if !a.CanApply(appointment.EventArrive) {
		return Entry{}, &appointment.TransitionError{AppointmentID: a.ID, From: a.Status, Event: appointment.EventArrive}
	}
	if _, ok := m.entries[id]; ok {
		return Entry{}, ErrAlreadyQueued
	}
	return m.arriveLocked(ctx, a, arrival)
}

func (m *Manager) arriveLocked(ctx context.Context, a *appointment.Appointment, arrival time.Time) (Entry, error) {
	if err := a.Apply(appointment.EventArrive); err != nil {
		return Entry{}, err
	}
	at := arrival
	a.ArrivedAt = &at
	a.Room = nil
	if err := m.store.Update(ctx, a); err != nil {
		return Entry{}, err
	}
	e := entryFromAppointment(a, arrival)
	m.entries[a.ID] = e
	return *e, nil
}

// DequeueForAttendance takes a patient out of the queue into a room. The
// appointment moves to in-attendance. Of two concurrent calls for the same
// appointment exactly one succeeds.
func (m *Manager) DequeueForAttendance(ctx context.Context, id uuid.UUID, room string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotInQueue
	}
	a, err := m.loadQueued(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if err := a.Apply(appointment.EventStartAttendance); err != nil {
		return Entry{}, err
	}
	r := room
	a.Room = &r
	if err := m.store.Update(ctx, a); err != nil {
		return Entry{}, err
	}
	delete(m.entries, id)
	out := *e
	out.AssignedRoom = &r
	return out, nil
}

// StartAttendance is DequeueForAttendance under its lifecycle name.
func (m *Manager) StartAttendance(ctx context.Context, id uuid.UUID, room string) (Entry, error) {
	return m.DequeueForAttendance(ctx, id, room)
}

// Remove takes an entry out of the queue without attending it. A cancelled
// removal also cancels the appointment. A manual removal returns it to
// confirmed, so the patient can check in again later.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID, reason RemovalReason) (Entry, error) {
	if !reason.Valid() {
		return Entry{}, fmt.Errorf("invalid removal reason: %q", reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotInQueue
	}
	a, err := m.loadQueued(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	switch reason {
	case ReasonCancelled:
		if err := a.Apply(appointment.EventCancel); err != nil {
			return Entry{}, err
		}
		msg := string(ReasonCancelled)
		a.CancellationReason = &msg
	case ReasonManual:
		if err := a.Apply(appointment.EventLeave); err != nil {
			return Entry{}, err
		}
		a.Urgent = false
	}
	a.ArrivedAt = nil
	if err := m.store.Update(ctx, a); err != nil {
		return Entry{}, err
	}
	delete(m.entries, id)
	return *e, nil
}

// SetUrgent flags or unflags a queued entry. Only its position changes.
func (m *Manager) SetUrgent(ctx context.Context, id uuid.UUID, urgent bool) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotInQueue
	}
	if e.Urgent == urgent {
		return *e, nil
	}
	a, err := m.loadQueued(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	a.Urgent = urgent
	if err := m.store.Update(ctx, a); err != nil {
		return Entry{}, err
	}
	e.Urgent = urgent
	return *e, nil
}

// Confirm moves a pending appointment to confirmed.
func (m *Manager) Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return m.transition(ctx, id, appointment.EventConfirm, nil)
}

// Complete finishes an attendance.
func (m *Manager) Complete(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return m.transition(ctx, id, appointment.EventComplete, nil)
}

// Cancel cancels an appointment from any non-terminal status and drops its
// queue entry if it has one.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointment.Appointment, error) {
	return m.transition(ctx, id, appointment.EventCancel, func(a *appointment.Appointment) {
		if reason != "" {
			r := reason
			a.CancellationReason = &r
		}
		a.ArrivedAt = nil
	})
}

func (m *Manager) transition(ctx context.Context, id uuid.UUID, ev appointment.Event, mutate func(*appointment.Appointment)) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.loadQueued(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.Apply(ev); err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(a)
	}
	if err := m.store.Update(ctx, a); err != nil {
		return nil, err
	}
	delete(m.entries, id)
	return a, nil
}

// OrderedView returns the queue in display order with waiting times computed
// at now.
func (m *Manager) OrderedView(now time.Time) []Item {
	m.mu.RLock()
	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, *e)
	}
	m.mu.RUnlock()
	return Order(entries, now, m.thresholds)
}

// Next returns the entry that would be called next.
func (m *Manager) Next(now time.Time) (Item, error) {
	items := m.OrderedView(now)
	if len(items) == 0 {
		return Item{}, ErrNotInQueue
	}
	return items[0], nil
}

// Stats summarises the queue at now.
func (m *Manager) Stats(now time.Time) Stats {
	return ComputeStats(m.OrderedView(now))
}

// Len returns the number of queued entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Get returns the queued entry for id.
func (m *Manager) Get(id uuid.UUID) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
