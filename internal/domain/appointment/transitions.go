package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Event names a lifecycle transition.
type Event string

const (
	EventConfirm         Event = "confirm"
	EventArrive          Event = "arrive"
	EventLeave           Event = "leave"
	EventStartAttendance Event = "start-attendance"
	EventComplete        Event = "complete"
	EventCancel          Event = "cancel"
)

// ErrInvalidTransition is returned when an event is not allowed from the
// appointment's current status.
var ErrInvalidTransition = errors.New("invalid transition")

// transitionMap lists, per event, the statuses it may be applied from and the
// status it leads to.
var transitionMap = map[Event]struct {
	from []Status
	to   Status
}{
	EventConfirm:         {from: []Status{StatusPending}, to: StatusConfirmed},
	EventArrive:          {from: []Status{StatusPending, StatusConfirmed}, to: StatusWaiting},
	EventLeave:           {from: []Status{StatusWaiting}, to: StatusConfirmed},
	EventStartAttendance: {from: []Status{StatusWaiting}, to: StatusInAttendance},
	EventComplete:        {from: []Status{StatusInAttendance}, to: StatusCompleted},
	EventCancel: {
		from: []Status{StatusPending, StatusConfirmed, StatusWaiting, StatusInAttendance},
		to:   StatusCancelled,
	},
}

// TransitionError describes a rejected transition. It matches
// ErrInvalidTransition under errors.Is.
type TransitionError struct {
	AppointmentID uuid.UUID
	From          Status
	Event         Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s appointment %s in status %q", e.Event, e.AppointmentID, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// CanApply reports whether ev is allowed from the current status.
func (a *Appointment) CanApply(ev Event) bool {
	t, ok := transitionMap[ev]
	if !ok {
		return false
	}
	for _, s := range t.from {
		if s == a.Status {
			return true
		}
	}
	return false
}

// Apply moves the appointment along the lifecycle graph. Only the status is
// changed; side effects on the waiting queue belong to the caller.
func (a *Appointment) Apply(ev Event) error {
	if !a.CanApply(ev) {
		return &TransitionError{AppointmentID: a.ID, From: a.Status, Event: ev}
	}
	a.Status = transitionMap[ev].to
	return nil
}
