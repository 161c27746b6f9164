package waitingroom

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicflow/waitroom/internal/platform/db"
	"github.com/clinicflow/waitroom/internal/platform/events"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type journalPG struct{ pool *pgxpool.Pool }

// NewJournalPG stores queue events in the tenant's queue_event table.
func NewJournalPG(pool *pgxpool.Pool) Journal { return &journalPG{pool: pool} }

func (j *journalPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return j.pool
}

func (j *journalPG) Publish(ctx context.Context, ev events.Event) error {
	e, err := journalEntryFromEvent(ev)
	if err != nil {
		return err
	}
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err = j.conn(ctx).Exec(ctx, `
		INSERT INTO queue_event (id, clinic_id, appointment_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.ClinicID, e.AppointmentID, e.EventType, payload, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("journal event %s: %w", e.ID, err)
	}
	return nil
}

func (j *journalPG) History(ctx context.Context, clinicID string, appointmentID uuid.UUID) ([]JournalEntry, error) {
	rows, err := j.conn(ctx).Query(ctx, `
		SELECT id, clinic_id, appointment_id, event_type, payload, occurred_at
		FROM queue_event
		WHERE clinic_id = $1 AND appointment_id = $2
		ORDER BY occurred_at ASC, id ASC`, clinicID, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.ClinicID, &e.AppointmentID, &e.EventType, &payload, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}
