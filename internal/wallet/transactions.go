package wallet

import (
	"context"
	"fmt"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

// ListWithdrawals returns the payee's withdrawals, newest first.
func (p *Processor) ListWithdrawals(ctx context.Context, caller domain.Caller, payeeID string) ([]domain.Withdrawal, error) {
	if payeeID == "" {
		payeeID = caller.UserID
	}
	if caller.UserID != payeeID && !caller.Privileged() {
		return nil, domain.ErrNotAuthorized.With("payee_id", payeeID)
	}
	var out []domain.Withdrawal
	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListWithdrawals(ctx, payeeID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	if out == nil {
		out = []domain.Withdrawal{}
	}
	return out, nil
}
