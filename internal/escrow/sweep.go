package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

// SweepResult counts what one expiry sweep did.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// ReleaseOnExpiry releases every held escrow whose protection period has
// ended. Each row is released in its own transaction with a conditional
// update, so overlapping sweeps release a row at most once. Rows are paged
// by a (protection_end_date, id) cursor so failing rows never hold back the
// ones behind them. Disputed rows are never selected.
func (l *Ledger) ReleaseOnExpiry(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := l.now()
	var cursor store.EscrowCursor
	for {
		var due []domain.EscrowAccount
		err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			due, err = tx.ListDueEscrows(ctx, now, cursor, l.batch)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("list due escrows: %w", err)
		}

		for _, e := range due {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			cursor = store.CursorAt(e)
			res.Scanned++
			released, ok, err := l.releaseExpired(ctx, e.ID, now)
			switch {
			case err != nil:
				res.Failed++
				l.log.Error("expiry release failed", "escrow_id", e.ID, "err", err)
			case !ok:
				res.Skipped++
			default:
				res.Released++
				domain.NotifyAll(ctx, l.notifier, []domain.NotificationEvent{
					escrowEvent(domain.EventEscrowReleased, now, released, map[string]string{"reason": "protection period ended"}),
				})
			}
		}
		if len(due) < l.batch {
			break
		}
	}
	l.log.Info("expiry sweep finished",
		"scanned", res.Scanned,
		"released", res.Released,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

// releaseExpired reports false without error when the row was released,
// disputed or extended since it was listed.
func (l *Ledger) releaseExpired(ctx context.Context, escrowID string, now time.Time) (domain.EscrowAccount, bool, error) {
	var out domain.EscrowAccount
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.LockEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		if e.Status != domain.EscrowHeld || e.ProtectionEndDate.After(now) {
			return errSkip
		}
		out, err = l.release(ctx, tx, e, domain.EscrowHeld, domain.SystemActor, releasable, now)
		if errors.Is(err, domain.ErrAlreadyReleased) {
			return errSkip
		}
		return err
	})
	if errors.Is(err, errSkip) {
		return domain.EscrowAccount{}, false, nil
	}
	if err != nil {
		return domain.EscrowAccount{}, false, err
	}
	return out, true, nil
}

var errSkip = errors.New("escrow no longer due")

// NotifyExpiring tells both parties once when a held escrow will be
// released within window.
func (l *Ledger) NotifyExpiring(ctx context.Context, window time.Duration) (int, error) {
	now := l.now()
	var events []domain.NotificationEvent
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		expiring, err := tx.ListExpiringEscrows(ctx, now, now.Add(window), l.batch)
		if err != nil {
			return err
		}
		for _, e := range expiring {
			marked, err := tx.MarkExpiryNotice(ctx, e.ID, now)
			if err != nil {
				return err
			}
			if marked {
				events = append(events, escrowEvent(domain.EventProtectionExpiring, now, e, nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("notify expiring escrows: %w", err)
	}
	domain.NotifyAll(ctx, l.notifier, events)
	if len(events) > 0 {
		l.log.Info("expiry notices sent", "count", len(events))
	}
	return len(events), nil
}
