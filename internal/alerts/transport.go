package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Message is one rendered notification for one recipient.
type Message struct {
	EventID   string
	EventType string
	UserID    string
	To        string
	Subject   string
	Body      string
}

// Transport delivers rendered messages out of process.
type Transport interface {
	Send(ctx context.Context, m Message) error
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueTransport hands messages to the worker through asynq so a slow mail
// provider never holds up the request that produced the event.
type QueueTransport struct {
	client   enqueuer
	maxRetry int
}

func NewQueueTransport(client *asynq.Client) *QueueTransport {
	return &QueueTransport{client: client, maxRetry: 5}
}

func (q *QueueTransport) Send(ctx context.Context, m Message) error {
	payload := NotificationEmailPayload{
		EventID:   m.EventID,
		EventType: m.EventType,
		UserID:    m.UserID,
		Envelope:  EmailEnvelope{To: m.To, Subject: m.Subject, Body: m.Body},
		QueuedAt:  time.Now().UTC(),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode email task: %w", err)
	}
	task := asynq.NewTask(TaskNotificationEmail, b)
	opts := []asynq.Option{asynq.Queue(QueueEmails), asynq.MaxRetry(q.maxRetry)}
	if m.EventID != "" {
		// One email per event and recipient even if the event is re-dispatched.
		opts = append(opts, asynq.TaskID(m.EventID+":"+m.UserID))
	}
	if _, err := q.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

// MailTransport sends synchronously through a Mailer. Useful for one-off
// tools that run without a worker.
type MailTransport struct {
	Mailer Mailer
}

func (t MailTransport) Send(ctx context.Context, m Message) error {
	return t.Mailer.Send(ctx, m.To, m.Subject, m.Body)
}

// LogTransport only logs, for local development.
type LogTransport struct {
	Logger *slog.Logger
}

func (t LogTransport) Send(_ context.Context, m Message) error {
	log := t.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification email", "to", m.To, "subject", m.Subject, "event", m.EventType)
	return nil
}
