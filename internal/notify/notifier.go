package notify

import (
	"context"
	"log"
	"time"
)

// DeliveryReceipt records an attempted delivery. Callers never branch on it;
// queue operations treat delivery as fire-and-forget.
type DeliveryReceipt struct {
	Recipient string
	Channel   string
	Message   string
	SentAt    time.Time
}

// Notifier delivers patient-facing messages. Implementations can be swapped
// (log-only, SendGrid, SMS gateway) without changing callers.
type Notifier interface {
	SendSMS(ctx context.Context, phone, message string) (DeliveryReceipt, error)
	SendEmail(ctx context.Context, address, subject, body string) (DeliveryReceipt, error)
}

// LogNotifier writes every message to the process log instead of delivering
// it. Used in dev and as the SMS fallback when no gateway is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SendSMS(ctx context.Context, phone, message string) (DeliveryReceipt, error) {
	log.Printf("[SMS] -> %s: %s", phone, message)
	return DeliveryReceipt{
		Recipient: phone,
		Channel:   "sms",
		Message:   message,
		SentAt:    time.Now(),
	}, nil
}

func (n *LogNotifier) SendEmail(ctx context.Context, address, subject, body string) (DeliveryReceipt, error) {
	log.Printf("[EMAIL] -> %s: %s", address, subject)
	return DeliveryReceipt{
		Recipient: address,
		Channel:   "email",
		Message:   subject,
		SentAt:    time.Now(),
	}, nil
}
