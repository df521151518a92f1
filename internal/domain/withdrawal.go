package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalRequested  WithdrawalStatus = "requested"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

// NextAllowed lists the statuses a withdrawal may move to from s.
func (s WithdrawalStatus) NextAllowed() []WithdrawalStatus {
	switch s {
	case WithdrawalRequested:
		return []WithdrawalStatus{WithdrawalProcessing, WithdrawalCompleted, WithdrawalFailed}
	case WithdrawalProcessing:
		return []WithdrawalStatus{WithdrawalCompleted, WithdrawalFailed}
	default:
		return nil
	}
}

// PredecessorsOf lists the statuses from which target may be reached.
func PredecessorsOf(target WithdrawalStatus) []WithdrawalStatus {
	var out []WithdrawalStatus
	for _, s := range []WithdrawalStatus{WithdrawalRequested, WithdrawalProcessing} {
		for _, n := range s.NextAllowed() {
			if n == target {
				out = append(out, s)
			}
		}
	}
	return out
}

// Withdrawal moves released funds to the payee's external account.
type Withdrawal struct {
	ID                      string           `json:"id"`
	PayeeID                 string           `json:"payee_id"`
	Amount                  decimal.Decimal  `json:"amount"`
	Currency                string           `json:"currency"`
	Reference               string           `json:"reference"`
	Status                  WithdrawalStatus `json:"status"`
	FailureReason           string           `json:"failure_reason,omitempty"`
	EstimatedProcessingTime string           `json:"estimated_processing_time"`
	CreatedAt               time.Time        `json:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at"`
	CompletedAt             *time.Time       `json:"completed_at,omitempty"`
}

// Balance summarises a payee's funds in one currency.
type Balance struct {
	PayeeID   string          `json:"payee_id"`
	Currency  string          `json:"currency"`
	Held      decimal.Decimal `json:"held"`      // net of escrows still held or disputed
	Released  decimal.Decimal `json:"released"`  // net of released escrows
	Withdrawn decimal.Decimal `json:"withdrawn"` // non-failed withdrawals
	Available decimal.Decimal `json:"available"`
}
