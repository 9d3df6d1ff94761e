package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/waitwise/clinic-queue/internal/queue"
	"github.com/waitwise/clinic-queue/internal/report"
	"github.com/waitwise/clinic-queue/internal/triage"
)

func registerHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if req.Name == "" || req.Email == "" || req.Phone == "" {
			writeError(w, http.StatusBadRequest, "missing_fields", "name, email and phone are required")
			return
		}

		user, err := svc.RegisterUser(r.Context(), req.Name, req.Email, req.Phone, queue.IDType(req.IDType))
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrInvalidIDType):
				writeError(w, http.StatusBadRequest, "invalid_id_type", "id_type must be Healthcard or GovID")
			case errors.Is(err, queue.ErrEmailTaken):
				writeError(w, http.StatusBadRequest, "email_taken", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusCreated, userResponse(user))
	}
}

func listClinicsHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinics, err := svc.ListClinics(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]ClinicResponse, 0, len(clinics))
		for _, c := range clinics {
			queueIDs := c.Queue
			if queueIDs == nil {
				queueIDs = []uuid.UUID{}
			}
			resp = append(resp, ClinicResponse{
				ID:          c.ID,
				Name:        c.Name,
				Address:     c.Address,
				CurrentWait: c.CurrentWait,
				Capacity:    c.Capacity,
				Queue:       queueIDs,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func triageHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TriageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if req.Symptoms == "" {
			writeError(w, http.StatusBadRequest, "missing_symptoms", "symptoms text is required")
			return
		}

		urgency, reasons := triage.Classify(req.Symptoms)

		if req.UserID != nil {
			userID, err := uuid.Parse(*req.UserID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id must be a valid UUID")
				return
			}
			if err := svc.RecordTriage(r.Context(), userID, string(urgency)); err != nil {
				if errors.Is(err, queue.ErrUserNotFound) {
					writeError(w, http.StatusNotFound, "user_not_found", err.Error())
					return
				}
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
				return
			}
		}

		writeJSON(w, http.StatusOK, TriageResponse{
			UrgencyLevel: string(urgency),
			Reasons:      reasons,
		})
	}
}

func bookHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id must be a valid UUID")
			return
		}

		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), userID, clinicID)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookResponse{
			AppointmentID: appt.ID,
			Position:      appt.Position,
			Status:        string(appt.Status),
		})
	}
}

func cancelHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appointmentID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}

		if _, err := svc.Cancel(r.Context(), appointmentID); err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, StatusResponse{Status: "cancelled"})
	}
}

func notifyNextHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req NotifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}

		appt, err := svc.NotifyNext(r.Context(), clinicID)
		if err != nil {
			handleQueueError(w, err)
			return
		}

		if appt == nil {
			writeJSON(w, http.StatusOK, NotifyResponse{Status: "no-patient"})
			return
		}

		writeJSON(w, http.StatusOK, NotifyResponse{
			Status:        "notified",
			AppointmentID: &appt.ID,
		})
	}
}

func confirmHandler(svc *queue.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := chi.URLParam(r, "id")
		id, err := uuid.Parse(idStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		// Confirmation requires the notified state; enforced here at the
		// boundary, the service CAS backstops it.
		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleQueueError(w, err)
			return
		}
		if detail.Status != queue.StatusNotified {
			writeError(w, http.StatusConflict, "not_notified", "appointment must be notified before confirmation")
			return
		}

		if _, err := svc.Confirm(r.Context(), id); err != nil {
			handleQueueError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, StatusResponse{Status: "confirmed"})
	}
}

func reportHandler(gen *report.Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appointmentID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}

		filename, content, err := gen.Generate(r.Context(), appointmentID, req.Notes)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrAppointmentNotFound):
				writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
			case errors.Is(err, report.ErrReportNotReady):
				writeError(w, http.StatusConflict, "report_not_ready", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, ReportResponse{
			Filename:  filename,
			PDFBase64: base64.StdEncoding.EncodeToString(content),
		})
	}
}

func handleQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error())
	case errors.Is(err, queue.ErrClinicNotFound):
		writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
	case errors.Is(err, queue.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, queue.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, queue.ErrNotNotified):
		writeError(w, http.StatusConflict, "not_notified", err.Error())
	case errors.Is(err, queue.ErrClinicBusy):
		writeError(w, http.StatusConflict, "clinic_busy", "clinic queue is busy, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func userResponse(u *queue.User) UserResponse {
	return UserResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Phone:        u.Phone,
		IDType:       string(u.IDType),
		UrgencyLevel: u.UrgencyLevel,
	}
}
