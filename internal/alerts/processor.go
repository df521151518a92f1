package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Processor is the worker side of QueueTransport.
type Processor struct {
	mailer Mailer
	log    *slog.Logger
}

func NewProcessor(m Mailer, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{mailer: m, log: log}
}

// Register mounts the email handler on mux.
func (p *Processor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskNotificationEmail, p.HandleNotificationEmail)
}

// HandleNotificationEmail sends one queued email. Returning an error lets
// asynq retry; malformed payloads are skipped since a retry cannot fix them.
func (p *Processor) HandleNotificationEmail(ctx context.Context, t *asynq.Task) error {
	var payload NotificationEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode email task: %v: %w", err, asynq.SkipRetry)
	}
	env := payload.Envelope
	if env.To == "" {
		return fmt.Errorf("email task %s has no recipient: %w", payload.EventID, asynq.SkipRetry)
	}
	if err := p.mailer.Send(ctx, env.To, env.Subject, env.Body); err != nil {
		p.log.Error("notification email failed", "event", payload.EventType, "event_id", payload.EventID, "user_id", payload.UserID, "err", err)
		return err
	}
	p.log.Info("notification email sent", "event", payload.EventType, "event_id", payload.EventID, "user_id", payload.UserID)
	return nil
}
