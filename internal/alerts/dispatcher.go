// Package alerts tells people about committed state changes: email through
// the worker queue, the in-app inbox and the live websocket feed.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

// Inbox stores in-app notifications.
type Inbox interface {
	InsertNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) (bool, error)
}

// Publisher pushes a payload to a user's live connections.
type Publisher interface {
	Publish(userID string, eventType string, payload any)
}

type Dependencies struct {
	Users     store.UserDirectory
	Transport Transport
	Inbox     Inbox
	Live      Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Dispatcher implements domain.Notifier. Every delivery problem is logged
// and swallowed.
type Dispatcher struct {
	users     store.UserDirectory
	transport Transport
	inbox     Inbox
	live      Publisher
	log       *slog.Logger
	nowFn     func() time.Time
	templates map[domain.EventType]messageTemplate
}

var _ domain.Notifier = (*Dispatcher)(nil)

func NewDispatcher(deps Dependencies) (*Dispatcher, error) {
	tpls, err := compileTemplates()
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		users:     deps.Users,
		transport: deps.Transport,
		inbox:     deps.Inbox,
		live:      deps.Live,
		log:       deps.Logger,
		nowFn:     deps.Now,
		templates: tpls,
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.nowFn == nil {
		d.nowFn = time.Now
	}
	return d, nil
}

func (d *Dispatcher) Notify(ctx context.Context, evt domain.NotificationEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification dispatch panicked", "event", evt.Type, "event_id", evt.ID, "panic", fmt.Sprint(r))
		}
	}()
	for _, userID := range evt.Recipients {
		if userID == "" || userID == domain.SystemActor {
			continue
		}
		d.deliver(ctx, evt, userID)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, evt domain.NotificationEvent, userID string) {
	log := d.log.With("event", evt.Type, "event_id", evt.ID, "user_id", userID)

	var user domain.User
	if d.users != nil {
		u, err := d.users.GetUser(ctx, userID)
		switch {
		case err == nil:
			user = u
		case errors.Is(err, domain.ErrNotFound):
			log.Warn("notification recipient not mirrored")
		default:
			log.Error("notification recipient lookup failed", "err", err)
		}
	}

	data := make(map[string]string, len(evt.Data)+1)
	for k, v := range evt.Data {
		data[k] = v
	}
	data["name"] = user.Name
	if data["name"] == "" {
		data["name"] = "there"
	}

	tpl, ok := d.templates[evt.Type]
	if !ok {
		tpl = fallback
	}
	subject, body, err := tpl.render(data)
	if err != nil {
		log.Error("notification render failed", "err", err)
		return
	}

	n := domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      evt.Type,
		Title:     subject,
		Body:      body,
		Reference: evt.Reference,
		CreatedAt: d.nowFn().UTC(),
	}
	if d.inbox != nil {
		if err := d.inbox.InsertNotification(ctx, n); err != nil {
			log.Error("notification inbox insert failed", "err", err)
		}
	}
	if d.live != nil {
		d.live.Publish(userID, string(evt.Type), n)
	}
	if d.transport != nil && user.Email != "" {
		err := d.transport.Send(ctx, Message{
			EventID:   evt.ID,
			EventType: string(evt.Type),
			UserID:    userID,
			To:        user.Email,
			Subject:   subject,
			Body:      body,
		})
		if err != nil {
			log.Error("notification email not queued", "err", err)
		}
	}
}
