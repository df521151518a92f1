package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/fees"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

type RequestInput struct {
	PayeeID  string          `json:"payee_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// RequestWithdrawal reserves amount out of the payee's released balance.
// The payee lock is held until commit, so two requests can never spend the
// same funds.
func (p *Processor) RequestWithdrawal(ctx context.Context, caller domain.Caller, in RequestInput) (domain.Withdrawal, error) {
	if in.PayeeID == "" {
		in.PayeeID = caller.UserID
	}
	if caller.UserID != in.PayeeID && !caller.Privileged() {
		return domain.Withdrawal{}, domain.ErrNotAuthorized.With("payee_id", in.PayeeID)
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = p.currency
	}
	if !fees.ValidAmount(in.Amount, in.Currency) {
		return domain.Withdrawal{}, domain.ErrInvalidAmount.With("amount", in.Amount.String())
	}

	var (
		w   domain.Withdrawal
		err error
	)
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		w, err = p.reserve(ctx, in)
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
		p.log.Warn("withdrawal reference collided, retrying", "payee_id", in.PayeeID, "attempt", attempt+1)
	}
	if err != nil {
		return domain.Withdrawal{}, fmt.Errorf("request withdrawal: %w", err)
	}

	p.log.Info("withdrawal requested",
		"withdrawal_id", w.ID,
		"reference", w.Reference,
		"payee_id", w.PayeeID,
		"amount", w.Amount.String(),
		"currency", w.Currency,
	)
	domain.NotifyAll(ctx, p.notifier, []domain.NotificationEvent{withdrawalEvent(domain.EventWithdrawalRequest, w.CreatedAt, w)})
	return w, nil
}

func (p *Processor) reserve(ctx context.Context, in RequestInput) (domain.Withdrawal, error) {
	var w domain.Withdrawal
	now := p.now()
	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.LockPayee(ctx, in.PayeeID); err != nil {
			return err
		}
		available, err := availableBalance(ctx, tx, in.PayeeID, in.Currency)
		if err != nil {
			return err
		}
		if in.Amount.GreaterThan(available) {
			return domain.ErrInsufficientBalance.
				With("available", available.StringFixed(fees.MinorUnits(in.Currency))).
				With("currency", in.Currency)
		}
		w = domain.Withdrawal{
			ID:                      uuid.NewString(),
			PayeeID:                 in.PayeeID,
			Amount:                  in.Amount,
			Currency:                in.Currency,
			Reference:               newReference(now),
			Status:                  domain.WithdrawalRequested,
			EstimatedProcessingTime: p.estimate,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		return tx.InsertWithdrawal(ctx, w)
	})
	return w, err
}

// availableBalance is released escrow net minus every withdrawal that has
// not failed.
func availableBalance(ctx context.Context, tx store.Tx, payeeID, currency string) (decimal.Decimal, error) {
	released, err := tx.SumEscrowNet(ctx, payeeID, currency, domain.EscrowReleased)
	if err != nil {
		return decimal.Zero, err
	}
	withdrawn, err := tx.SumActiveWithdrawals(ctx, payeeID, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return released.Sub(withdrawn), nil
}
