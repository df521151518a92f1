// Package store defines the persistence boundary of the escrow core.
//
// Every ledger operation runs inside Store.WithTx. Implementations provide
// row locking (Lock* methods) and single-statement conditional transitions
// (methods returning a bool that is false when the expected prior state no
// longer holds). No in-process lock may stand in for these guarantees in the
// core, because several process instances share one database.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

// Store opens transactions and serves the few reads that happen outside one.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	UserDirectory
}

// UserDirectory resolves identity-provider users mirrored locally.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
}

// UserMirror keeps the local copy of identity-provider users current.
type UserMirror interface {
	UserDirectory
	UpsertUser(ctx context.Context, u domain.User) error
}

// Stats is an operational summary for administrators.
type Stats struct {
	Users       int                        `json:"users"`
	Projects    int                        `json:"projects"`
	Escrows     map[string]int             `json:"escrows"`
	Withdrawals map[string]int             `json:"withdrawals"`
	Held        map[string]decimal.Decimal `json:"held"` // held and disputed gross, by currency
}

// Tx is the unit of work handed to WithTx callbacks.
type Tx interface {
	UserDirectory
	Projects
	Quotes
	Payments
	Escrows
	Disputes
	Withdrawals
}

type Projects interface {
	InsertProject(ctx context.Context, p domain.Project) error
	GetProject(ctx context.Context, id string) (domain.Project, error)
	// LockProject reads the project and holds a row lock until commit.
	LockProject(ctx context.Context, id string) (domain.Project, error)
	// SetProjectStatus moves the project to `to` only if its current status
	// is one of from.
	SetProjectStatus(ctx context.Context, id string, from []domain.ProjectStatus, to domain.ProjectStatus, at time.Time) (bool, error)
}

type Quotes interface {
	InsertQuote(ctx context.Context, q domain.Quote) error
	GetQuote(ctx context.Context, id string) (domain.Quote, error)
	ListQuotes(ctx context.Context, projectID string) ([]domain.Quote, error)
	FindPendingQuote(ctx context.Context, projectID, tradieID string) (domain.Quote, bool, error)
	// UpdatePendingQuote rewrites price and description of a still-pending quote.
	UpdatePendingQuote(ctx context.Context, q domain.Quote) (bool, error)
	DeletePendingQuote(ctx context.Context, id string) (bool, error)
	SetQuoteStatus(ctx context.Context, id string, from, to domain.QuoteStatus, at time.Time) (bool, error)
	// RejectPendingQuotes rejects every pending quote on the project except
	// exceptID and returns the rows it changed.
	RejectPendingQuotes(ctx context.Context, projectID, exceptID string, at time.Time) ([]domain.Quote, error)
}

type Payments interface {
	InsertIntent(ctx context.Context, pi domain.PaymentIntent) error
	LockIntent(ctx context.Context, provider, intentID string) (domain.PaymentIntent, error)
	SetIntentStatus(ctx context.Context, provider, intentID string, status domain.IntentStatus, at time.Time) error
	GetPaymentByIntent(ctx context.Context, provider, intentID string) (domain.Payment, bool, error)
	// InsertPayment fails with domain.ErrConflict when a payment for the same
	// provider intent already exists.
	InsertPayment(ctx context.Context, p domain.Payment) error
	// ConfirmFailedPayment turns a failed payment into a confirmed one when
	// the same intent later succeeds. It reports false if p.ID is not failed.
	ConfirmFailedPayment(ctx context.Context, p domain.Payment) (bool, error)
	HasConfirmedPayment(ctx context.Context, projectID string) (bool, error)
}

// EscrowTransition is a conditional status change of one escrow row.
type EscrowTransition struct {
	ID         string
	From       domain.EscrowStatus
	To         domain.EscrowStatus
	ReleasedBy string
	At         time.Time
}

// EscrowCursor is a keyset position in (protection_end_date, id) order.
type EscrowCursor struct {
	ProtectionEnd time.Time
	ID            string
}

func (c EscrowCursor) IsZero() bool { return c.ID == "" && c.ProtectionEnd.IsZero() }

// CursorAt is the position of e.
func CursorAt(e domain.EscrowAccount) EscrowCursor {
	return EscrowCursor{ProtectionEnd: e.ProtectionEndDate, ID: e.ID}
}

// Covers reports whether e sorts at or before c.
func (c EscrowCursor) Covers(e domain.EscrowAccount) bool {
	if c.IsZero() {
		return false
	}
	if e.ProtectionEndDate.Equal(c.ProtectionEnd) {
		return e.ID <= c.ID
	}
	return e.ProtectionEndDate.Before(c.ProtectionEnd)
}

type Escrows interface {
	InsertEscrow(ctx context.Context, e domain.EscrowAccount) error
	GetEscrow(ctx context.Context, id string) (domain.EscrowAccount, error)
	LockEscrow(ctx context.Context, id string) (domain.EscrowAccount, error)
	// TransitionEscrow applies t only while the row is still in t.From. When
	// t.To is released, released_at and released_by are stamped.
	TransitionEscrow(ctx context.Context, t EscrowTransition) (bool, error)
	// ListDueEscrows returns held escrows whose protection period ended at or
	// before now, ordered by (protection_end_date, id) and strictly after
	// the cursor. A zero cursor starts from the oldest row.
	ListDueEscrows(ctx context.Context, now time.Time, after EscrowCursor, limit int) ([]domain.EscrowAccount, error)
	// ListExpiringEscrows returns held escrows ending in (now, until] that
	// have not had an expiry notice yet.
	ListExpiringEscrows(ctx context.Context, now, until time.Time, limit int) ([]domain.EscrowAccount, error)
	MarkExpiryNotice(ctx context.Context, id string, at time.Time) (bool, error)
	ListEscrowsForUser(ctx context.Context, userID string) ([]domain.EscrowAccount, error)
}

type Disputes interface {
	InsertDispute(ctx context.Context, d domain.Dispute) error
	GetOpenDispute(ctx context.Context, escrowID string) (domain.Dispute, error)
	CloseDispute(ctx context.Context, d domain.Dispute) error
	// ListDisputes returns disputes in status, oldest first; an empty status
	// lists all of them.
	ListDisputes(ctx context.Context, status domain.DisputeStatus) ([]domain.Dispute, error)
}

// WithdrawalTransition is a conditional status change of one withdrawal.
type WithdrawalTransition struct {
	ID            string
	From          []domain.WithdrawalStatus
	To            domain.WithdrawalStatus
	FailureReason string
	At            time.Time
}

type Withdrawals interface {
	// LockPayee serialises balance-changing work for one payee until commit.
	LockPayee(ctx context.Context, payeeID string) error
	// SumEscrowNet totals net_amount of the payee's escrows in the given
	// statuses. Rows are locked when called after LockPayee.
	SumEscrowNet(ctx context.Context, payeeID, currency string, statuses ...domain.EscrowStatus) (decimal.Decimal, error)
	// SumActiveWithdrawals totals every withdrawal that has not failed.
	SumActiveWithdrawals(ctx context.Context, payeeID, currency string) (decimal.Decimal, error)
	InsertWithdrawal(ctx context.Context, w domain.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (domain.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, t WithdrawalTransition) (bool, error)
	ListWithdrawals(ctx context.Context, payeeID string) ([]domain.Withdrawal, error)
}
