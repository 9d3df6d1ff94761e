package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"

	"github.com/waitwise/clinic-queue/internal/notify"
	"github.com/waitwise/clinic-queue/internal/queue"
)

// ErrReportNotReady is returned when a visit summary is requested before the
// visit was confirmed.
var ErrReportNotReady = errors.New("report available after visit confirmation")

const (
	defaultNotes = "Patient seen and assessed. Continue rest and hydration. Follow-up if symptoms persist."
	prescription = "Ibuprofen 200mg - take one tablet every 6 hours as needed for pain."
)

// AppointmentGetter resolves an appointment with its user and clinic.
type AppointmentGetter interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*queue.AppointmentDetail, error)
}

// Generator renders visit-summary documents for completed visits.
type Generator struct {
	appointments AppointmentGetter
	notifier     notify.Notifier
	now          func() time.Time
}

func NewGenerator(appointments AppointmentGetter, notifier notify.Notifier) *Generator {
	return &Generator{
		appointments: appointments,
		notifier:     notifier,
		now:          time.Now,
	}
}

// Generate builds the visit-summary PDF for a confirmed or completed
// appointment and emails the patient that it is ready. The email is
// best-effort and never fails the request.
func (g *Generator) Generate(ctx context.Context, appointmentID uuid.UUID, notes string) (string, []byte, error) {
	detail, err := g.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return "", nil, err
	}

	if detail.Status != queue.StatusConfirmed && detail.Status != queue.StatusCompleted {
		return "", nil, ErrReportNotReady
	}

	content, err := g.render(detail, notes)
	if err != nil {
		return "", nil, fmt.Errorf("render visit summary: %w", err)
	}

	if _, err := g.notifier.SendEmail(ctx, detail.User.Email,
		"WaitWise Visit Summary",
		"Your visit summary is attached in the portal.",
	); err != nil {
		log.Printf("failed to send summary email to %s: %v", detail.User.Email, err)
	}

	filename := fmt.Sprintf("waitwise-summary-%s.pdf", detail.ID)
	return filename, content, nil
}

func (g *Generator) render(detail *queue.AppointmentDetail, notes string) ([]byte, error) {
	urgency := "Not set"
	if detail.User.UrgencyLevel != nil {
		urgency = *detail.User.UrgencyLevel
	}
	if notes == "" {
		notes = defaultNotes
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(190, 10, "WaitWise Health - Visit Summary", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	pdf.Ln(10)
	pdf.CellFormat(190, 8, fmt.Sprintf("Patient: %s", detail.User.Name), "", 1, "L", false, 0, "")
	pdf.CellFormat(190, 8, fmt.Sprintf("Clinic: %s", detail.Clinic.Name), "", 1, "L", false, 0, "")
	pdf.CellFormat(190, 8, fmt.Sprintf("Date: %s", g.now().UTC().Format("2006-01-02 15:04 UTC")), "", 1, "L", false, 0, "")
	pdf.CellFormat(190, 8, fmt.Sprintf("Urgency: %s", urgency), "", 1, "L", false, 0, "")
	pdf.Ln(8)
	pdf.MultiCell(0, 8, "Visit Notes:", "", "L", false)
	pdf.MultiCell(0, 8, notes, "", "L", false)
	pdf.Ln(8)
	pdf.MultiCell(0, 8, "Prescription:", "", "L", false)
	pdf.MultiCell(0, 8, prescription, "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
