package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/waitwise/clinic-queue/internal/config"
	"github.com/waitwise/clinic-queue/internal/metrics"
	"github.com/waitwise/clinic-queue/internal/notify"
	redisclient "github.com/waitwise/clinic-queue/internal/redis"
)

const (
	EventAppointmentQueued    = "APPOINTMENT_QUEUED"
	EventPatientNotified      = "PATIENT_NOTIFIED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

var (
	ErrAlreadyCancelled = errors.New("appointment is already cancelled")
	ErrNotNotified      = errors.New("appointment must be notified before confirmation")
	ErrClinicBusy       = errors.New("clinic queue is busy, please retry")
	ErrInvalidIDType    = errors.New("unrecognized id document type")
)

// Service is the only component that mutates queue contents together with
// appointment status. Every mutation runs under a per-clinic lock and inside
// one transaction, so the queue and the appointment rows stay consistent.
type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier notify.Notifier
	metrics  *metrics.QueueMetrics
	cfg      config.Config
}

func NewService(repo Repository, locker redisclient.Locker, notifier notify.Notifier, m *metrics.QueueMetrics, cfg config.Config) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
	}
}

// pendingSMS is a message composed inside a transaction and delivered only
// after the transaction commits. Delivery is best-effort.
type pendingSMS struct {
	phone   string
	message string
}

// RegisterUser creates a patient record. Email must be unused and the id
// document type must be one of the accepted kinds.
func (s *Service) RegisterUser(ctx context.Context, name, email, phone string, idType IDType) (*User, error) {
	if !idType.Valid() {
		return nil, ErrInvalidIDType
	}

	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	user, err := s.repo.CreateUser(ctx, name, email, phone, idType)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

type ClinicWithQueue struct {
	Clinic
	Queue []uuid.UUID
}

func (s *Service) ListClinics(ctx context.Context) ([]ClinicWithQueue, error) {
	clinics, err := s.repo.ListClinics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clinics: %w", err)
	}

	result := make([]ClinicWithQueue, 0, len(clinics))
	for _, c := range clinics {
		queue, err := s.repo.QueueUserIDs(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("load queue for clinic %s: %w", c.ID, err)
		}
		result = append(result, ClinicWithQueue{Clinic: c, Queue: queue})
	}

	return result, nil
}

// RecordTriage stores the latest triage result on the user. Informational
// only, queue ordering ignores urgency.
func (s *Service) RecordTriage(ctx context.Context, userID uuid.UUID, urgency string) error {
	if err := s.repo.SetUserUrgency(ctx, userID, urgency); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("set urgency: %w", err)
	}
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// Book appends the user to the clinic queue and creates a queued appointment
// whose position records the queue rank at booking time. Booking the same
// user at the same clinic twice is allowed and produces a second queue entry.
func (s *Service) Book(ctx context.Context, userID, clinicID uuid.UUID) (*Appointment, error) {
	start := time.Now()

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	clinic, err := s.repo.GetClinicByID(ctx, clinicID)
	if err != nil {
		if errors.Is(err, ErrClinicNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load clinic: %w", err)
	}

	var created *Appointment

	err = s.withClinicLock(ctx, clinicID, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(tx Repository) error {
			position, err := tx.AppendQueueEntry(lockCtx, clinicID, userID)
			if err != nil {
				return err
			}

			appt, err := tx.CreateQueuedAppointment(lockCtx, userID, clinicID, position)
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			created = appt

			s.logEvent(lockCtx, tx, appt.ID, EventAppointmentQueued, map[string]any{
				"clinic_id": clinicID.String(),
				"user_id":   userID.String(),
				"position":  position,
			})
			return nil
		})
	})
	if err != nil {
		s.metrics.ObserveOperation("book", "error", time.Since(start).Seconds())
		return nil, err
	}

	s.sendSMS(ctx, user.Phone, fmt.Sprintf(
		"You are #%d in line for %s. We'll notify you when it's your turn.",
		created.Position, clinic.Name,
	))

	s.metrics.ObserveOperation("book", "ok", time.Since(start).Seconds())
	return created, nil
}

// Cancel removes the appointment's user from the clinic queue, marks the
// appointment cancelled, and immediately advances the queue so a vacancy
// never leaves the new head un-notified.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	start := time.Now()

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	clinic, err := s.repo.GetClinicByID(ctx, appt.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}

	var cancelled *Appointment
	var nextSMS *pendingSMS

	err = s.withClinicLock(ctx, clinic.ID, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(tx Repository) error {
			if err := tx.RemoveQueueEntries(lockCtx, clinic.ID, appt.UserID); err != nil {
				return fmt.Errorf("remove queue entries: %w", err)
			}

			updated, err := tx.CancelAppointment(lockCtx, appt.ID)
			if err != nil {
				if errors.Is(err, ErrAppointmentNotFound) {
					return ErrAlreadyCancelled
				}
				return fmt.Errorf("cancel appointment: %w", err)
			}
			cancelled = updated

			s.logEvent(lockCtx, tx, appt.ID, EventAppointmentCancelled, map[string]any{
				"clinic_id": clinic.ID.String(),
				"user_id":   appt.UserID.String(),
			})

			_, sms, err := s.notifyNextLocked(lockCtx, tx, clinic)
			if err != nil {
				return err
			}
			nextSMS = sms
			return nil
		})
	})
	if err != nil {
		s.metrics.ObserveOperation("cancel", "error", time.Since(start).Seconds())
		return nil, err
	}

	if nextSMS != nil {
		s.sendSMS(ctx, nextSMS.phone, nextSMS.message)
	}

	s.metrics.ObserveOperation("cancel", "ok", time.Since(start).Seconds())
	return cancelled, nil
}

// NotifyNext inspects the head of the clinic queue and notifies the patient
// whose turn has arrived. Returns nil with no error when nobody is waiting.
func (s *Service) NotifyNext(ctx context.Context, clinicID uuid.UUID) (*Appointment, error) {
	start := time.Now()

	clinic, err := s.repo.GetClinicByID(ctx, clinicID)
	if err != nil {
		if errors.Is(err, ErrClinicNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load clinic: %w", err)
	}

	var notified *Appointment
	var sms *pendingSMS

	err = s.withClinicLock(ctx, clinicID, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(tx Repository) error {
			notified, sms, err = s.notifyNextLocked(lockCtx, tx, clinic)
			return err
		})
	})
	if err != nil {
		s.metrics.ObserveOperation("notify_next", "error", time.Since(start).Seconds())
		return nil, err
	}

	if sms != nil {
		s.sendSMS(ctx, sms.phone, sms.message)
	}

	s.metrics.ObserveOperation("notify_next", "ok", time.Since(start).Seconds())
	return notified, nil
}

// notifyNextLocked walks the queue head under the caller's lock and
// transaction. Stale entries, user ids with no queued appointment behind
// them, are popped and the walk continues. The loop terminates because the
// queue strictly shrinks on every stale pop.
func (s *Service) notifyNextLocked(ctx context.Context, tx Repository, clinic *Clinic) (*Appointment, *pendingSMS, error) {
	for {
		headUserID, err := tx.QueueHead(ctx, clinic.ID)
		if errors.Is(err, ErrQueueEmpty) {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read queue head: %w", err)
		}

		appt, err := tx.OldestQueuedAppointment(ctx, headUserID, clinic.ID)
		if errors.Is(err, ErrAppointmentNotFound) {
			if _, err := tx.PopQueueHead(ctx, clinic.ID); err != nil && !errors.Is(err, ErrQueueEmpty) {
				return nil, nil, fmt.Errorf("pop stale queue entry: %w", err)
			}
			s.metrics.ObserveStaleEntry()
			log.Printf("healed stale queue entry clinic=%s user=%s", clinic.ID, headUserID)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("resolve queued appointment: %w", err)
		}

		notified, err := tx.MarkNotified(ctx, appt.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("mark notified: %w", err)
		}

		s.logEvent(ctx, tx, notified.ID, EventPatientNotified, map[string]any{
			"clinic_id": clinic.ID.String(),
			"user_id":   headUserID.String(),
		})

		user, err := tx.GetUserByID(ctx, headUserID)
		if err != nil {
			return nil, nil, fmt.Errorf("load notified user: %w", err)
		}

		sms := &pendingSMS{
			phone: user.Phone,
			message: fmt.Sprintf(
				"A spot at %s is now available. Reply YES within 5 minutes to confirm.",
				clinic.Name,
			),
		}
		return notified, sms, nil
	}
}

// Confirm moves a notified appointment to confirmed and removes its user
// from the queue. The handler verifies the appointment is in the notified
// state before calling; the CAS here backstops that check. Confirm does not
// advance the queue, the next patient is notified by an external trigger.
func (s *Service) Confirm(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	start := time.Now()

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	clinic, err := s.repo.GetClinicByID(ctx, appt.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}

	user, err := s.repo.GetUserByID(ctx, appt.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	var confirmed *Appointment

	err = s.withClinicLock(ctx, clinic.ID, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(tx Repository) error {
			head, err := tx.QueueHead(lockCtx, clinic.ID)
			switch {
			case errors.Is(err, ErrQueueEmpty):
				// nothing to remove
			case err != nil:
				return fmt.Errorf("read queue head: %w", err)
			case head == appt.UserID:
				if _, err := tx.PopQueueHead(lockCtx, clinic.ID); err != nil && !errors.Is(err, ErrQueueEmpty) {
					return fmt.Errorf("pop queue head: %w", err)
				}
			default:
				// drift: user is no longer at the head, remove by value
				if err := tx.RemoveQueueEntries(lockCtx, clinic.ID, appt.UserID); err != nil {
					return fmt.Errorf("remove queue entries: %w", err)
				}
			}

			updated, err := tx.UpdateAppointmentStatus(lockCtx, appt.ID, StatusNotified, StatusConfirmed)
			if err != nil {
				if errors.Is(err, ErrAppointmentNotFound) {
					return ErrNotNotified
				}
				return fmt.Errorf("confirm appointment: %w", err)
			}
			confirmed = updated

			s.logEvent(lockCtx, tx, updated.ID, EventAppointmentConfirmed, map[string]any{
				"clinic_id": clinic.ID.String(),
				"user_id":   appt.UserID.String(),
			})
			return nil
		})
	})
	if err != nil {
		s.metrics.ObserveOperation("confirm", "error", time.Since(start).Seconds())
		return nil, err
	}

	s.sendSMS(ctx, user.Phone, fmt.Sprintf(
		"Your visit at %s is confirmed. Please head to the clinic.", clinic.Name,
	))

	s.metrics.ObserveOperation("confirm", "ok", time.Since(start).Seconds())
	return confirmed, nil
}

// ExpireNotified cancels appointments that have sat in the notified state
// past the confirmation window. Intended to be called by the notify worker
// periodically; each cancellation advances the owning clinic's queue.
func (s *Service) ExpireNotified(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.ConfirmWindow)

	stale, err := s.repo.FindStaleNotified(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find stale notified appointments: %w", err)
	}

	for _, appt := range stale {
		if _, err := s.Cancel(ctx, appt.ID); err != nil {
			if errors.Is(err, ErrAlreadyCancelled) {
				continue
			}
			log.Printf("failed to expire appointment %s: %v", appt.ID, err)
		}
	}

	return nil
}

func (s *Service) withClinicLock(ctx context.Context, clinicID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithClinicLock(ctx, clinicID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrClinicBusy
	}
	return err
}

func (s *Service) sendSMS(ctx context.Context, phone, message string) {
	if _, err := s.notifier.SendSMS(ctx, phone, message); err != nil {
		log.Printf("failed to send sms to %s: %v", phone, err)
		return
	}
	s.metrics.ObserveNotification("sms")
}

func (s *Service) logEvent(ctx context.Context, tx Repository, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := tx.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
