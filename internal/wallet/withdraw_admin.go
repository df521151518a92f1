package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

// MarkProcessing records that the payout rail has picked the withdrawal up.
func (p *Processor) MarkProcessing(ctx context.Context, caller domain.Caller, id string) (domain.Withdrawal, error) {
	return p.transition(ctx, caller, id, domain.WithdrawalProcessing, "")
}

// MarkCompleted records that the funds have left the platform.
func (p *Processor) MarkCompleted(ctx context.Context, caller domain.Caller, id string) (domain.Withdrawal, error) {
	return p.transition(ctx, caller, id, domain.WithdrawalCompleted, "")
}

// MarkFailed returns the amount to the payee's available balance.
func (p *Processor) MarkFailed(ctx context.Context, caller domain.Caller, id, reason string) (domain.Withdrawal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "payout failed"
	}
	return p.transition(ctx, caller, id, domain.WithdrawalFailed, reason)
}

func (p *Processor) transition(ctx context.Context, caller domain.Caller, id string, to domain.WithdrawalStatus, reason string) (domain.Withdrawal, error) {
	if !caller.Privileged() {
		return domain.Withdrawal{}, domain.ErrNotAuthorized.With("reason", "admin only")
	}
	var w domain.Withdrawal
	now := p.now()
	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.GetWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		ok, err := tx.TransitionWithdrawal(ctx, store.WithdrawalTransition{
			ID:            id,
			From:          domain.PredecessorsOf(to),
			To:            to,
			FailureReason: reason,
			At:            now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrWithdrawalNotTransitionable.
				With("from", string(cur.Status)).
				With("to", string(to))
		}
		w, err = tx.GetWithdrawal(ctx, id)
		return err
	})
	if err != nil {
		return domain.Withdrawal{}, fmt.Errorf("withdrawal %s: %w", to, err)
	}

	p.log.Info("withdrawal status changed",
		"withdrawal_id", w.ID,
		"reference", w.Reference,
		"status", w.Status,
		"by", caller.UserID,
	)
	switch to {
	case domain.WithdrawalCompleted:
		domain.NotifyAll(ctx, p.notifier, []domain.NotificationEvent{withdrawalEvent(domain.EventWithdrawalComplete, now, w)})
	case domain.WithdrawalFailed:
		domain.NotifyAll(ctx, p.notifier, []domain.NotificationEvent{withdrawalEvent(domain.EventWithdrawalFailed, now, w)})
	}
	return w, nil
}
