package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicflow/waitroom/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, clinic_id, scheduled_time, patient_name, service_name, professional_name,
	status, urgent, arrived_at, room, cancellation_reason, version_id, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(&a.ID, &a.ClinicID, &a.ScheduledTime, &a.PatientName, &a.ServiceName, &a.ProfessionalName,
		&status, &a.Urgent, &a.ArrivedAt, &a.Room, &a.CancellationReason, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.VersionID = 1
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, clinic_id, scheduled_time, patient_name, service_name, professional_name,
			status, urgent, arrived_at, room, cancellation_reason, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		a.ID, a.ClinicID, a.ScheduledTime, a.PatientName, a.ServiceName, a.ProfessionalName,
		string(a.Status), a.Urgent, a.ArrivedAt, a.Room, a.CancellationReason, a.VersionID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	var updatedAt time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET status=$3, urgent=$4, arrived_at=$5, room=$6, cancellation_reason=$7,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING updated_at`,
		a.ID, a.VersionID, string(a.Status), a.Urgent, a.ArrivedAt, a.Room, a.CancellationReason,
	).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	if err != nil {
		return err
	}
	a.VersionID++
	a.UpdatedAt = updatedAt
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	return err
}

func (r *repoPG) Search(ctx context.Context, clinicID string, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	query := `SELECT ` + apptCols + ` FROM appointment WHERE clinic_id = $1`
	countQuery := `SELECT COUNT(*) FROM appointment WHERE clinic_id = $1`
	args := []interface{}{clinicID}
	idx := 2

	if p, ok := params["status"]; ok {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["date"]; ok {
		query += fmt.Sprintf(` AND scheduled_time::date = $%d::date`, idx)
		countQuery += fmt.Sprintf(` AND scheduled_time::date = $%d::date`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["professional"]; ok {
		query += fmt.Sprintf(` AND professional_name ILIKE $%d`, idx)
		countQuery += fmt.Sprintf(` AND professional_name ILIKE $%d`, idx)
		args = append(args, "%"+p+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY scheduled_time ASC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListWaiting(ctx context.Context, clinicID string) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE clinic_id = $1 AND status = $2 AND arrived_at IS NOT NULL
		ORDER BY arrived_at ASC`, clinicID, string(StatusWaiting))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
