package alerts

import "time"

// Task type constants
const (
	TaskNotificationEmail = "email:notification"
)

// Queue names used by the worker.
const (
	QueueEmails = "emails"
	QueueEscrow = "escrow"
)

// EmailEnvelope is what ends up in the recipient's mailbox.
type EmailEnvelope struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NotificationEmailPayload is the asynq payload for one rendered email.
type NotificationEmailPayload struct {
	EventID   string        `json:"event_id"`
	EventType string        `json:"event_type"`
	UserID    string        `json:"user_id"`
	Envelope  EmailEnvelope `json:"envelope"`
	QueuedAt  time.Time     `json:"queued_at"`
}
