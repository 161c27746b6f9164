package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicflow/waitroom/internal/domain/appointment"
	"github.com/clinicflow/waitroom/internal/domain/waitingroom"
	"github.com/clinicflow/waitroom/internal/platform/events"
)

func newQueueService(journal waitingroom.Journal) *waitingroom.Service {
	registry := waitingroom.NewRegistry(appointment.NewRepoPG(globalPool), waitingroom.DefaultThresholds)
	return waitingroom.NewService(registry, events.NewFanout(zerolog.Nop(), events.Sink{Name: "journal", Publisher: journal}))
}

func TestWaitingRoom_PostgresLifecycle(t *testing.T) {
	ctx := context.Background()
	clinic := uniqueClinicID("queue")
	createClinic(t, ctx, clinic)

	base := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	a := book(t, ctx, clinic, "Ana Souza", base, appointment.StatusConfirmed)
	b := book(t, ctx, clinic, "Bruno Lima", base.Add(10*time.Minute), appointment.StatusPending)

	journal := waitingroom.NewJournalPG(globalPool)
	svc := newQueueService(journal)
	now := base.Add(30 * time.Minute)

	inClinic(t, ctx, clinic, func(ctx context.Context) error {
		if _, err := svc.Enqueue(ctx, clinic, a.ID, base.Add(20*time.Minute), now); err != nil {
			return err
		}
		if _, err := svc.MarkArrived(ctx, clinic, b.ID, base.Add(25*time.Minute), now); err != nil {
			return err
		}
		if _, err := svc.SetUrgent(ctx, clinic, b.ID, true, now); err != nil {
			return err
		}
		view, err := svc.View(ctx, clinic, now)
		if err != nil {
			return err
		}
		if len(view) != 2 || view[0].AppointmentID != b.ID {
			t.Errorf("expected urgent patient first, got %+v", view)
		}
		return nil
	})

	// A fresh registry rebuilds the queue from the stored waiting appointments.
	restarted := newQueueService(journal)
	inClinic(t, ctx, clinic, func(ctx context.Context) error {
		view, err := restarted.View(ctx, clinic, now)
		if err != nil {
			return err
		}
		if len(view) != 2 || view[0].AppointmentID != b.ID || !view[0].Urgent {
			t.Errorf("unexpected rehydrated queue: %+v", view)
		}

		if _, err := restarted.Attend(ctx, clinic, b.ID, "Sala 1", now); err != nil {
			return err
		}
		if _, err := restarted.Attend(ctx, clinic, b.ID, "Sala 2", now); !errors.Is(err, waitingroom.ErrNotInQueue) {
			t.Errorf("expected ErrNotInQueue on second attend, got %v", err)
		}
		if _, err := restarted.Complete(ctx, clinic, b.ID, now); err != nil {
			return err
		}

		stored, err := appointment.NewRepoPG(globalPool).GetByID(ctx, b.ID)
		if err != nil {
			return err
		}
		if stored.Status != appointment.StatusCompleted || stored.Room == nil || *stored.Room != "Sala 1" {
			t.Errorf("unexpected stored appointment: %+v", stored)
		}

		history, err := journal.History(ctx, clinic, b.ID)
		if err != nil {
			return err
		}
		want := []string{events.TypeQueueEntered, events.TypeQueueUrgencyChanged, events.TypeAttendanceStarted, events.TypeAppointmentCompleted}
		if len(history) != len(want) {
			t.Fatalf("expected %d journal entries, got %d", len(want), len(history))
		}
		for i, e := range history {
			if e.EventType != want[i] {
				t.Errorf("entry %d: expected %s, got %s", i, want[i], e.EventType)
			}
		}
		return nil
	})
}

func TestWaitingRoom_ClinicIsolation(t *testing.T) {
	ctx := context.Background()
	clinicA := uniqueClinicID("clinicA")
	clinicB := uniqueClinicID("clinicB")
	createClinic(t, ctx, clinicA)
	createClinic(t, ctx, clinicB)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := book(t, ctx, clinicA, "Carla Dias", base, appointment.StatusConfirmed)
	svc := newQueueService(waitingroom.NewJournalPG(globalPool))

	inClinic(t, ctx, clinicB, func(ctx context.Context) error {
		if _, err := svc.Enqueue(ctx, clinicB, a.ID, base, base); !errors.Is(err, appointment.ErrNotFound) {
			t.Errorf("expected ErrNotFound across clinics, got %v", err)
		}
		view, err := svc.View(ctx, clinicB, base)
		if err != nil {
			return err
		}
		if len(view) != 0 {
			t.Errorf("expected empty queue in clinic B, got %+v", view)
		}
		return nil
	})

	inClinic(t, ctx, clinicA, func(ctx context.Context) error {
		if _, err := svc.Enqueue(ctx, clinicA, a.ID, base, base); err != nil {
			return err
		}
		return nil
	})
}
