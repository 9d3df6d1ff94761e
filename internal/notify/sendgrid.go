package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridNotifier delivers email through the SendGrid API. SMS has no
// gateway in this deployment, so it falls through to the log notifier.
type SendGridNotifier struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	fallback  *LogNotifier
}

func NewSendGridNotifier(apiKey, fromEmail string) *SendGridNotifier {
	return &SendGridNotifier{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  "WaitWise Health",
		fallback:  NewLogNotifier(),
	}
}

func (n *SendGridNotifier) SendSMS(ctx context.Context, phone, message string) (DeliveryReceipt, error) {
	return n.fallback.SendSMS(ctx, phone, message)
}

func (n *SendGridNotifier) SendEmail(ctx context.Context, address, subject, body string) (DeliveryReceipt, error) {
	from := mail.NewEmail(n.fromName, n.fromEmail)
	to := mail.NewEmail("", address)
	message := mail.NewSingleEmail(from, subject, to, body, body)

	resp, err := n.client.SendWithContext(ctx, message)
	if err != nil {
		return DeliveryReceipt{}, fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return DeliveryReceipt{}, fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}

	log.Printf("email sent via sendgrid to=%s subject=%q status=%d", address, subject, resp.StatusCode)

	return DeliveryReceipt{
		Recipient: address,
		Channel:   "email",
		Message:   subject,
		SentAt:    time.Now(),
	}, nil
}
