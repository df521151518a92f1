package escrow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

// OpenDispute freezes a held escrow. The expiry sweep ignores it until an
// admin resolves the dispute.
func (l *Ledger) OpenDispute(ctx context.Context, caller domain.Caller, escrowID, reason string) (domain.Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Dispute{}, domain.ErrInvalidInput.With("field", "reason")
	}
	var (
		d domain.Dispute
		e domain.EscrowAccount
	)
	now := l.now()
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		e, err = tx.LockEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		if !e.Participant(caller.UserID) {
			return domain.ErrNotAuthorized.With("escrow_id", escrowID)
		}
		if e.Status != domain.EscrowHeld {
			return domain.ErrEscrowNotHeld.With("status", string(e.Status))
		}
		ok, err := tx.TransitionEscrow(ctx, store.EscrowTransition{ID: e.ID, From: domain.EscrowHeld, To: domain.EscrowDisputed, At: now})
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrEscrowNotHeld
		}
		d = domain.Dispute{
			ID:        uuid.NewString(),
			EscrowID:  e.ID,
			RaisedBy:  caller.UserID,
			Reason:    reason,
			Status:    domain.DisputeOpen,
			CreatedAt: now,
		}
		e.Status = domain.EscrowDisputed
		e.UpdatedAt = now
		return tx.InsertDispute(ctx, d)
	})
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("open dispute: %w", err)
	}
	l.log.Info("dispute opened", "escrow_id", e.ID, "dispute_id", d.ID, "raised_by", caller.UserID)
	domain.NotifyAll(ctx, l.notifier, []domain.NotificationEvent{
		escrowEvent(domain.EventEscrowDisputed, now, e, map[string]string{"reason": reason, "raised_by": caller.UserID}),
	})
	return d, nil
}

// Resolution is an admin's decision on a disputed escrow.
type Resolution struct {
	Outcome domain.DisputeOutcome `json:"outcome"`
	Notes   string                `json:"notes"`
}

// ResolveDispute either pays the tradie out or puts the escrow back on hold,
// where the expiry sweep picks it up again.
func (l *Ledger) ResolveDispute(ctx context.Context, caller domain.Caller, escrowID string, r Resolution) (domain.EscrowAccount, error) {
	if !caller.Privileged() {
		return domain.EscrowAccount{}, domain.ErrNotAuthorized.With("reason", "admin only")
	}
	if r.Outcome != domain.OutcomeRelease && r.Outcome != domain.OutcomeReinstate {
		return domain.EscrowAccount{}, domain.ErrInvalidInput.With("field", "outcome")
	}
	var out domain.EscrowAccount
	now := l.now()
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.LockEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		if e.Status != domain.EscrowDisputed {
			return domain.ErrEscrowNotDisputed.With("status", string(e.Status))
		}
		d, err := tx.GetOpenDispute(ctx, e.ID)
		if err != nil {
			return err
		}

		switch r.Outcome {
		case domain.OutcomeRelease:
			if out, err = l.release(ctx, tx, e, domain.EscrowDisputed, caller.UserID, releasable, now); err != nil {
				return err
			}
		case domain.OutcomeReinstate:
			ok, err := tx.TransitionEscrow(ctx, store.EscrowTransition{ID: e.ID, From: domain.EscrowDisputed, To: domain.EscrowHeld, At: now})
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrEscrowNotDisputed
			}
			e.Status = domain.EscrowHeld
			e.UpdatedAt = now
			out = e
		}

		d.Outcome = r.Outcome
		d.Notes = strings.TrimSpace(r.Notes)
		d.ResolvedBy = caller.UserID
		d.ResolvedAt = &now
		return tx.CloseDispute(ctx, d)
	})
	if err != nil {
		return domain.EscrowAccount{}, fmt.Errorf("resolve dispute: %w", err)
	}

	l.log.Info("dispute resolved", "escrow_id", out.ID, "outcome", r.Outcome, "by", caller.UserID)
	events := []domain.NotificationEvent{
		escrowEvent(domain.EventDisputeResolved, now, out, map[string]string{"outcome": string(r.Outcome), "notes": r.Notes}),
	}
	if out.Status == domain.EscrowReleased {
		events = append(events, escrowEvent(domain.EventEscrowReleased, now, out, map[string]string{"reason": "dispute resolved"}))
	}
	domain.NotifyAll(ctx, l.notifier, events)
	return out, nil
}

// ListDisputes returns disputes in the given status for the admin queue.
func (l *Ledger) ListDisputes(ctx context.Context, caller domain.Caller, status domain.DisputeStatus) ([]domain.Dispute, error) {
	if !caller.Privileged() {
		return nil, domain.ErrNotAuthorized.With("reason", "admin only")
	}
	var out []domain.Dispute
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListDisputes(ctx, status)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	if out == nil {
		out = []domain.Dispute{}
	}
	return out, nil
}
