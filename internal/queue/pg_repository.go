package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pgxpool.Pool and pgx.Tx, so the same
// repository code runs against the pool or inside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	q Querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{q: pool}
}

func newPgRepositoryWithQuerier(q Querier) *PgRepository {
	return &PgRepository{q: q}
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	tx, err := r.q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&PgRepository{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var urgency *string

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Phone,
		&u.IDType,
		&urgency,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.UrgencyLevel = urgency
	return &u, nil
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Address,
		&c.CurrentWait,
		&c.Capacity,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	return &c, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var notifiedAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.ClinicID,
		&a.Status,
		&a.Position,
		&a.CreatedAt,
		&a.UpdatedAt,
		&notifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.NotifiedAt = notifiedAt
	return &a, nil
}

// Users

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, phone, id_type, urgency_level, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, email, phone, id_type, urgency_level, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email)
	return scanUser(row)
}

func (r *PgRepository) CreateUser(ctx context.Context, name, email, phone string, idType IDType) (*User, error) {
	id := uuid.New()

	row := r.q.QueryRow(ctx, `
		INSERT INTO users (id, name, email, phone, id_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id, name, email, phone, id_type, urgency_level, created_at, updated_at
	`, id, name, email, phone, idType)

	return scanUser(row)
}

func (r *PgRepository) SetUserUrgency(ctx context.Context, id uuid.UUID, urgency string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE users
		SET urgency_level = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, urgency)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Clinics

func (r *PgRepository) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, address, current_wait, capacity, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) ListClinics(ctx context.Context) ([]Clinic, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, name, address, current_wait, capacity, created_at, updated_at
		FROM clinics
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Queue entries. Ordering is ascending entry id: insertion order is arrival
// order is priority order.

func (r *PgRepository) AppendQueueEntry(ctx context.Context, clinicID, userID uuid.UUID) (int, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO clinic_queue_entries (clinic_id, user_id, created_at)
		VALUES ($1, $2, now())
	`, clinicID, userID)
	if err != nil {
		return 0, fmt.Errorf("append queue entry: %w", err)
	}

	var position int
	err = r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM clinic_queue_entries WHERE clinic_id = $1
	`, clinicID).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}

	return position, nil
}

func (r *PgRepository) RemoveQueueEntries(ctx context.Context, clinicID, userID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		DELETE FROM clinic_queue_entries
		WHERE clinic_id = $1 AND user_id = $2
	`, clinicID, userID)
	return err
}

func (r *PgRepository) PopQueueHead(ctx context.Context, clinicID uuid.UUID) (uuid.UUID, error) {
	var userID uuid.UUID

	err := r.q.QueryRow(ctx, `
		DELETE FROM clinic_queue_entries
		WHERE id = (
			SELECT id FROM clinic_queue_entries
			WHERE clinic_id = $1
			ORDER BY id
			LIMIT 1
		)
		RETURNING user_id
	`, clinicID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrQueueEmpty
		}
		return uuid.Nil, err
	}

	return userID, nil
}

func (r *PgRepository) QueueHead(ctx context.Context, clinicID uuid.UUID) (uuid.UUID, error) {
	var userID uuid.UUID

	err := r.q.QueryRow(ctx, `
		SELECT user_id FROM clinic_queue_entries
		WHERE clinic_id = $1
		ORDER BY id
		LIMIT 1
	`, clinicID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrQueueEmpty
		}
		return uuid.Nil, err
	}

	return userID, nil
}

func (r *PgRepository) QueueUserIDs(ctx context.Context, clinicID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `
		SELECT user_id FROM clinic_queue_entries
		WHERE clinic_id = $1
		ORDER BY id
	`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, user_id, clinic_id, status, position, created_at, updated_at, notified_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	user, err := r.GetUserByID(ctx, appt.UserID)
	if err != nil {
		return nil, err
	}

	clinic, err := r.GetClinicByID(ctx, appt.ClinicID)
	if err != nil {
		return nil, err
	}

	return &AppointmentDetail{
		Appointment: *appt,
		User:        user,
		Clinic:      clinic,
	}, nil
}

func (r *PgRepository) CreateQueuedAppointment(ctx context.Context, userID, clinicID uuid.UUID, position int) (*Appointment, error) {
	id := uuid.New()

	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (id, user_id, clinic_id, status, position, created_at, updated_at)
		VALUES ($1, $2, $3, 'queued', $4, now(), now())
		RETURNING id, user_id, clinic_id, status, position, created_at, updated_at, notified_at
	`, id, userID, clinicID, position)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, user_id, clinic_id, status, position, created_at, updated_at, notified_at
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) MarkNotified(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'notified',
		    notified_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'queued'
		RETURNING id, user_id, clinic_id, status, position, created_at, updated_at, notified_at
	`, id)

	return scanAppointment(row)
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    updated_at = now()
		WHERE id = $1
		  AND status <> 'cancelled'
		RETURNING id, user_id, clinic_id, status, position, created_at, updated_at, notified_at
	`, id)

	return scanAppointment(row)
}

func (r *PgRepository) OldestQueuedAppointment(ctx context.Context, userID, clinicID uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, user_id, clinic_id, status, position, created_at, updated_at, notified_at
		FROM appointments
		WHERE user_id = $1
		  AND clinic_id = $2
		  AND status = 'queued'
		ORDER BY created_at ASC
		LIMIT 1
	`, userID, clinicID)

	return scanAppointment(row)
}

func (r *PgRepository) FindStaleNotified(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, clinic_id, status, position, created_at, updated_at, notified_at
		FROM appointments
		WHERE status = 'notified'
		  AND notified_at IS NOT NULL
		  AND notified_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var apptID *uuid.UUID
	if ev.AppointmentID != nil {
		apptID = ev.AppointmentID
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, apptID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
