package wallet

import (
	"context"
	"fmt"
	"strings"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

// Balance summarises a payee's funds in one currency.
func (p *Processor) Balance(ctx context.Context, caller domain.Caller, payeeID, currency string) (domain.Balance, error) {
	if payeeID == "" {
		payeeID = caller.UserID
	}
	if caller.UserID != payeeID && !caller.Privileged() {
		return domain.Balance{}, domain.ErrNotAuthorized.With("payee_id", payeeID)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = p.currency
	}

	b := domain.Balance{PayeeID: payeeID, Currency: currency}
	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if b.Held, err = tx.SumEscrowNet(ctx, payeeID, currency, domain.EscrowHeld, domain.EscrowDisputed); err != nil {
			return err
		}
		if b.Released, err = tx.SumEscrowNet(ctx, payeeID, currency, domain.EscrowReleased); err != nil {
			return err
		}
		if b.Withdrawn, err = tx.SumActiveWithdrawals(ctx, payeeID, currency); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Balance{}, fmt.Errorf("balance: %w", err)
	}
	b.Available = b.Released.Sub(b.Withdrawn)
	return b, nil
}
