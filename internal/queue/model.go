package queue

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusQueued    AppointmentStatus = "queued"
	StatusNotified  AppointmentStatus = "notified"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// IDType is the closed set of identity documents accepted at registration.
type IDType string

const (
	IDTypeHealthcard IDType = "Healthcard"
	IDTypeGovID      IDType = "GovID"
)

func (t IDType) Valid() bool {
	return t == IDTypeHealthcard || t == IDTypeGovID
}

type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	Phone        string
	IDType       IDType
	UrgencyLevel *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Clinic struct {
	ID          uuid.UUID
	Name        string
	Address     string
	CurrentWait int // display estimate in minutes, not authoritative
	Capacity    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Appointment.Position is a snapshot of the queue rank at booking time. It goes
// stale as earlier entries are removed and is never re-synced.
type Appointment struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ClinicID   uuid.UUID
	Status     AppointmentStatus
	Position   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	NotifiedAt *time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	User   *User
	Clinic *Clinic
}
