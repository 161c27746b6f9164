package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Guard runs fn exclusively with respect to the clinic's queue transitions.
type Guard interface {
	Exclusive(ctx context.Context, clinicID string, fn func(ctx context.Context) error) error
}

type Service struct {
	appointments Repository
	guard        Guard
}

func NewService(repo Repository) *Service {
	return &Service{appointments: repo}
}

// WithGuard makes Delete check and remove an appointment under g.
func (s *Service) WithGuard(g Guard) *Service {
	s.guard = g
	return s
}

// Create books a new appointment. New appointments start as pending unless the
// booking was already confirmed; every later status change goes through the
// waiting-room lifecycle operations.
func (s *Service) Create(ctx context.Context, a *Appointment) error {
	if strings.TrimSpace(a.ClinicID) == "" {
		return fmt.Errorf("clinic_id is required")
	}
	if strings.TrimSpace(a.PatientName) == "" {
		return fmt.Errorf("patient_name is required")
	}
	if a.ScheduledTime.IsZero() {
		return fmt.Errorf("scheduled_time is required")
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if a.Status != StatusPending && a.Status != StatusConfirmed {
		return fmt.Errorf("invalid initial status: %s", a.Status)
	}
	a.ArrivedAt = nil
	a.Room = nil
	a.CancellationReason = nil
	return s.appointments.Create(ctx, a)
}

func (s *Service) Get(ctx context.Context, clinicID string, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ClinicID != clinicID {
		return nil, ErrNotFound
	}
	return a, nil
}

var searchParams = []string{"status", "date", "professional"}

func (s *Service) Search(ctx context.Context, clinicID string, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	if st, ok := params["status"]; ok && !Status(st).Valid() {
		return nil, 0, fmt.Errorf("invalid appointment status: %s", st)
	}
	return s.appointments.Search(ctx, clinicID, params, limit, offset)
}

// Delete removes a booking that is not in the waiting room or a room.
func (s *Service) Delete(ctx context.Context, clinicID string, id uuid.UUID) error {
	if s.guard == nil {
		return s.delete(ctx, clinicID, id)
	}
	return s.guard.Exclusive(ctx, clinicID, func(ctx context.Context) error {
		return s.delete(ctx, clinicID, id)
	})
}

func (s *Service) delete(ctx context.Context, clinicID string, id uuid.UUID) error {
	a, err := s.Get(ctx, clinicID, id)
	if err != nil {
		return err
	}
	if a.Status != StatusPending && a.Status != StatusConfirmed && !a.Status.Terminal() {
		return &TransitionError{AppointmentID: a.ID, From: a.Status, Event: "delete"}
	}
	return s.appointments.Delete(ctx, id)
}
