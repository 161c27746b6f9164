package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("appointment not found")
	ErrVersionConflict = errors.New("appointment was modified concurrently")
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update persists a status change. It fails with ErrVersionConflict when
	// the stored version differs from a.VersionID.
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, clinicID string, params map[string]string, limit, offset int) ([]*Appointment, int, error)
	// ListWaiting returns the clinic's appointments in StatusWaiting, oldest arrival first.
	ListWaiting(ctx context.Context, clinicID string) ([]*Appointment, error)
}
