package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrClinicNotFound      = errors.New("clinic not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrEmailTaken          = errors.New("email already registered")
	ErrQueueEmpty          = errors.New("clinic queue is empty")
)

// Repository contains all DB interactions needed by the service.
//
// WithTx runs fn against a repository bound to a single transaction; every
// queue mutation pairs a queue-entry change with an appointment status change,
// so both commit or roll back together.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, name, email, phone string, idType IDType) (*User, error)
	SetUserUrgency(ctx context.Context, id uuid.UUID, urgency string) error

	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	ListClinics(ctx context.Context) ([]Clinic, error)

	// Ordered queue operations. Position and head are defined by ascending
	// insertion order of clinic_queue_entries.
	AppendQueueEntry(ctx context.Context, clinicID, userID uuid.UUID) (int, error)
	RemoveQueueEntries(ctx context.Context, clinicID, userID uuid.UUID) error
	PopQueueHead(ctx context.Context, clinicID uuid.UUID) (uuid.UUID, error)
	QueueHead(ctx context.Context, clinicID uuid.UUID) (uuid.UUID, error)
	QueueUserIDs(ctx context.Context, clinicID uuid.UUID) ([]uuid.UUID, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	CreateQueuedAppointment(ctx context.Context, userID, clinicID uuid.UUID, position int) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	MarkNotified(ctx context.Context, id uuid.UUID) (*Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	OldestQueuedAppointment(ctx context.Context, userID, clinicID uuid.UUID) (*Appointment, error)

	// Notify worker
	FindStaleNotified(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
