package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending      Status = "pending"
	StatusConfirmed    Status = "confirmed"
	StatusWaiting      Status = "waiting"
	StatusInAttendance Status = "in-attendance"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusConfirmed: true, StatusWaiting: true,
	StatusInAttendance: true, StatusCompleted: true, StatusCancelled: true,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	ClinicID           string     `db:"clinic_id" json:"clinic_id"`
	ScheduledTime      time.Time  `db:"scheduled_time" json:"scheduled_time"`
	PatientName        string     `db:"patient_name" json:"patient_name"`
	ServiceName        string     `db:"service_name" json:"service_name"`
	ProfessionalName   string     `db:"professional_name" json:"professional_name"`
	Status             Status     `db:"status" json:"status"`
	Urgent             bool       `db:"urgent" json:"urgent"`
	ArrivedAt          *time.Time `db:"arrived_at" json:"arrived_at,omitempty"`
	Room               *string    `db:"room" json:"room,omitempty"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	VersionID          int        `db:"version_id" json:"version_id"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// GetVersionID returns the current version.
func (a *Appointment) GetVersionID() int { return a.VersionID }

// SetVersionID sets the current version.
func (a *Appointment) SetVersionID(v int) { a.VersionID = v }

// Delayed is a display state only: the patient has not arrived yet and the
// scheduled time has passed.
func (a *Appointment) Delayed(now time.Time) bool {
	if a.Status != StatusPending && a.Status != StatusConfirmed {
		return false
	}
	return now.After(a.ScheduledTime)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (a *Appointment) Clone() *Appointment {
	if a == nil {
		return nil
	}
	cp := *a
	if a.ArrivedAt != nil {
		t := *a.ArrivedAt
		cp.ArrivedAt = &t
	}
	if a.Room != nil {
		r := *a.Room
		cp.Room = &r
	}
	if a.CancellationReason != nil {
		r := *a.CancellationReason
		cp.CancellationReason = &r
	}
	return &cp
}

// View is the list/detail representation returned by the API.
type View struct {
	*Appointment
	Delayed bool `json:"delayed"`
}

// ToView decorates the appointment with its derived display state.
func (a *Appointment) ToView(now time.Time) View {
	return View{Appointment: a, Delayed: a.Delayed(now)}
}
