package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a fact worth telling someone about.
type EventType string

const (
	EventQuoteAccepted      EventType = "quote.accepted"
	EventQuoteRejected      EventType = "quote.rejected"
	EventPaymentConfirmed   EventType = "payment.confirmed"
	EventPaymentFailed      EventType = "payment.failed"
	EventEscrowOpened       EventType = "escrow.opened"
	EventEscrowReleased     EventType = "escrow.released"
	EventEscrowDisputed     EventType = "escrow.disputed"
	EventDisputeResolved    EventType = "escrow.dispute_resolved"
	EventProtectionExpiring EventType = "escrow.protection_expiring"
	EventWithdrawalRequest  EventType = "withdrawal.requested"
	EventWithdrawalComplete EventType = "withdrawal.completed"
	EventWithdrawalFailed   EventType = "withdrawal.failed"
)

// NotificationEvent pairs a fact with its recipients and the data needed to
// render a message. It is not persisted.
type NotificationEvent struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Recipients []string          `json:"recipients"`
	ProjectID  string            `json:"project_id,omitempty"`
	Reference  string            `json:"reference,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// NewEvent builds an event with a fresh id. Empty and duplicate recipients
// are dropped.
func NewEvent(t EventType, at time.Time, reference string, data map[string]string, recipients ...string) NotificationEvent {
	seen := make(map[string]bool, len(recipients))
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	if data == nil {
		data = map[string]string{}
	}
	return NotificationEvent{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: at,
		Recipients: out,
		ProjectID:  data["project_id"],
		Reference:  reference,
		Data:       data,
	}
}

// Notifier observes committed state transitions. It has no error return:
// delivery problems must never fail the operation that produced the event.
type Notifier interface {
	Notify(ctx context.Context, evt NotificationEvent)
}

// NotifyAll hands each event to n, skipping when n is nil.
func NotifyAll(ctx context.Context, n Notifier, events []NotificationEvent) {
	if n == nil {
		return
	}
	for _, evt := range events {
		n.Notify(ctx, evt)
	}
}
