package api

import (
	"github.com/google/uuid"
)

type RegisterRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	IDType string `json:"id_type"`
}

type UserResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	IDType       string    `json:"id_type"`
	UrgencyLevel *string   `json:"urgency_level"`
}

type ClinicResponse struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Address     string      `json:"address"`
	CurrentWait int         `json:"current_wait"`
	Capacity    int         `json:"capacity"`
	Queue       []uuid.UUID `json:"queue"`
}

type TriageRequest struct {
	UserID   *string `json:"user_id,omitempty"`
	Symptoms string  `json:"symptoms"`
}

type TriageResponse struct {
	UrgencyLevel string   `json:"urgency_level"`
	Reasons      []string `json:"reasons"`
}

type BookRequest struct {
	UserID   string `json:"user_id"`
	ClinicID string `json:"clinic_id"`
}

type BookResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Position      int       `json:"position"`
	Status        string    `json:"status"`
}

type CancelRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type NotifyRequest struct {
	ClinicID string `json:"clinic_id"`
}

type NotifyResponse struct {
	Status        string     `json:"status"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ReportRequest struct {
	AppointmentID string `json:"appointment_id"`
	Notes         string `json:"notes,omitempty"`
}

type ReportResponse struct {
	Filename  string `json:"filename"`
	PDFBase64 string `json:"pdf_base64"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
