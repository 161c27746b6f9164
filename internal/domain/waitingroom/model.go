package waitingroom

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/waitroom/internal/domain/appointment"
)

// Common errors returned by the waiting-room queue.
var (
	ErrAlreadyQueued = errors.New("appointment is already in the waiting queue")
	ErrNotInQueue    = errors.New("appointment is not in the waiting queue")
	ErrUnknownClinic = errors.New("clinic not found")
	// ErrInvalidTransition is the appointment lifecycle error, re-exported so
	// callers of this package can match every queue failure from one place.
	ErrInvalidTransition = appointment.ErrInvalidTransition
)

// RemovalReason explains why an entry left the queue without being attended.
type RemovalReason string

const (
	ReasonManual    RemovalReason = "manual"
	ReasonCancelled RemovalReason = "cancelled"
)

// Valid reports whether r is a known removal reason.
func (r RemovalReason) Valid() bool {
	return r == ReasonManual || r == ReasonCancelled
}

// Severity bands waiting time for display.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Entry is a patient currently in the waiting room.
type Entry struct {
	AppointmentID    uuid.UUID `json:"appointment_id"`
	ArrivalTime      time.Time `json:"arrival_time"`
	Urgent           bool      `json:"urgent"`
	AssignedRoom     *string   `json:"assigned_room,omitempty"`
	PatientName      string    `json:"patient_name"`
	ServiceName      string    `json:"service_name"`
	ProfessionalName string    `json:"professional_name"`
}

// WaitingMinutes is the whole number of minutes since arrival, never negative.
func (e Entry) WaitingMinutes(now time.Time) int {
	d := now.Sub(e.ArrivalTime)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

func entryFromAppointment(a *appointment.Appointment, arrival time.Time) *Entry {
	return &Entry{
		AppointmentID:    a.ID,
		ArrivalTime:      arrival,
		Urgent:           a.Urgent,
		PatientName:      a.PatientName,
		ServiceName:      a.ServiceName,
		ProfessionalName: a.ProfessionalName,
	}
}

// Item is one row of the ordered view.
type Item struct {
	Entry
	WaitingMinutes int      `json:"waiting_minutes"`
	Severity       Severity `json:"severity"`
}

// Stats summarises the queue for the panel header.
type Stats struct {
	Total              int              `json:"total"`
	Urgent             int              `json:"urgent"`
	AverageWaitMinutes float64          `json:"average_wait_minutes"`
	LongestWaitMinutes int              `json:"longest_wait_minutes"`
	BySeverity         map[Severity]int `json:"by_severity"`
}
