// Package marketplace holds the quote ledger: tradies quote on projects and
// the owner accepts exactly one of them.
package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/fees"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

type Dependencies struct {
	Store           store.Store
	Notifier        domain.Notifier
	Logger          *slog.Logger
	DefaultCurrency string
	Now             func() time.Time
}

type Ledger struct {
	store    store.Store
	notifier domain.Notifier
	log      *slog.Logger
	currency string
	nowFn    func() time.Time
}

func NewLedger(deps Dependencies) *Ledger {
	l := &Ledger{
		store:    deps.Store,
		notifier: deps.Notifier,
		log:      deps.Logger,
		currency: strings.ToUpper(deps.DefaultCurrency),
		nowFn:    deps.Now,
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.currency == "" {
		l.currency = "NZD"
	}
	if l.nowFn == nil {
		l.nowFn = time.Now
	}
	return l
}

func (l *Ledger) now() time.Time { return l.nowFn().UTC() }

type SubmitQuoteInput struct {
	ProjectID   string          `json:"project_id"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
}

// SubmitQuote records a pending quote. The first quote on a published
// project moves it to negotiating.
func (l *Ledger) SubmitQuote(ctx context.Context, caller domain.Caller, in SubmitQuoteInput) (domain.Quote, error) {
	if caller.Role != domain.RoleTradie || !caller.Valid() {
		return domain.Quote{}, domain.ErrNotAuthorized.With("reason", "only tradies can quote")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = l.currency
	}
	if !fees.ValidAmount(in.Price, currency) {
		return domain.Quote{}, domain.ErrInvalidAmount.With("price", in.Price.String())
	}

	now := l.now()
	q := domain.Quote{
		ID:          uuid.NewString(),
		ProjectID:   in.ProjectID,
		TradieID:    caller.UserID,
		Price:       in.Price,
		Currency:    currency,
		Description: strings.TrimSpace(in.Description),
		Status:      domain.QuotePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.LockProject(ctx, in.ProjectID)
		if err != nil {
			return err
		}
		if !p.Status.AcceptingQuotes() {
			return domain.ErrProjectNotAcceptingQuotes.With("status", string(p.Status))
		}
		if p.OwnerID == caller.UserID {
			return domain.ErrNotAuthorized.With("reason", "cannot quote on own project")
		}
		if _, exists, err := tx.FindPendingQuote(ctx, p.ID, caller.UserID); err != nil {
			return err
		} else if exists {
			return domain.ErrDuplicateQuote
		}
		if err := tx.InsertQuote(ctx, q); err != nil {
			return err
		}
		if p.Status == domain.ProjectPublished {
			if _, err := tx.SetProjectStatus(ctx, p.ID, []domain.ProjectStatus{domain.ProjectPublished}, domain.ProjectNegotiating, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("submit quote: %w", err)
	}
	l.log.Info("quote submitted", "quote_id", q.ID, "project_id", q.ProjectID, "tradie_id", q.TradieID)
	return q, nil
}

// EditQuoteInput leaves nil fields unchanged.
type EditQuoteInput struct {
	Price       *decimal.Decimal `json:"price"`
	Description *string          `json:"description"`
}

// EditQuote changes price or description while the quote is still pending.
func (l *Ledger) EditQuote(ctx context.Context, caller domain.Caller, quoteID string, in EditQuoteInput) (domain.Quote, error) {
	var out domain.Quote
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		q, err := tx.GetQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if q.TradieID != caller.UserID {
			return domain.ErrNotAuthorized.With("quote_id", quoteID)
		}
		if q.Status != domain.QuotePending {
			return domain.ErrQuoteNotEditable.With("status", string(q.Status))
		}
		if in.Price != nil {
			if !fees.ValidAmount(*in.Price, q.Currency) {
				return domain.ErrInvalidAmount.With("price", in.Price.String())
			}
			q.Price = *in.Price
		}
		if in.Description != nil {
			q.Description = strings.TrimSpace(*in.Description)
		}
		q.UpdatedAt = l.now()
		ok, err := tx.UpdatePendingQuote(ctx, q)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrQuoteNotEditable
		}
		out = q
		return nil
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("edit quote: %w", err)
	}
	return out, nil
}

// WithdrawQuote deletes a pending quote.
func (l *Ledger) WithdrawQuote(ctx context.Context, caller domain.Caller, quoteID string) error {
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		q, err := tx.GetQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if q.TradieID != caller.UserID {
			return domain.ErrNotAuthorized.With("quote_id", quoteID)
		}
		ok, err := tx.DeletePendingQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrQuoteNotEditable.With("status", string(q.Status))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("withdraw quote: %w", err)
	}
	return nil
}

// AcceptResult is the winning quote plus every quote rejected with it.
type AcceptResult struct {
	Accepted domain.Quote   `json:"accepted"`
	Rejected []domain.Quote `json:"rejected"`
}

// AcceptQuote picks the winning quote. Concurrent accepts on one project
// serialise on the project row lock; every loser sees ProjectAlreadyAgreed.
func (l *Ledger) AcceptQuote(ctx context.Context, caller domain.Caller, quoteID string) (AcceptResult, error) {
	var (
		res     AcceptResult
		project domain.Project
	)
	now := l.now()
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		q, err := tx.GetQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		p, err := tx.LockProject(ctx, q.ProjectID)
		if err != nil {
			return err
		}
		if p.OwnerID != caller.UserID {
			return domain.ErrNotAuthorized.With("project_id", p.ID)
		}
		if !p.Status.AcceptingQuotes() {
			return domain.ErrProjectAlreadyAgreed.With("status", string(p.Status))
		}
		ok, err := tx.SetQuoteStatus(ctx, q.ID, domain.QuotePending, domain.QuoteAccepted, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrQuoteNotEditable.With("quote_id", q.ID)
		}
		rejected, err := tx.RejectPendingQuotes(ctx, p.ID, q.ID, now)
		if err != nil {
			return err
		}
		ok, err = tx.SetProjectStatus(ctx, p.ID, []domain.ProjectStatus{domain.ProjectPublished, domain.ProjectNegotiating}, domain.ProjectAgreed, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrProjectAlreadyAgreed
		}
		q.Status = domain.QuoteAccepted
		q.UpdatedAt = now
		res = AcceptResult{Accepted: q, Rejected: rejected}
		project = p
		return nil
	})
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept quote: %w", err)
	}

	l.log.Info("quote accepted",
		"quote_id", res.Accepted.ID,
		"project_id", project.ID,
		"rejected", len(res.Rejected),
	)
	domain.NotifyAll(ctx, l.notifier, acceptEvents(now, project, res))
	return res, nil
}

func acceptEvents(at time.Time, p domain.Project, res AcceptResult) []domain.NotificationEvent {
	out := []domain.NotificationEvent{
		domain.NewEvent(domain.EventQuoteAccepted, at, res.Accepted.ID, quoteData(p, res.Accepted), res.Accepted.TradieID, p.OwnerID),
	}
	for _, q := range res.Rejected {
		out = append(out, domain.NewEvent(domain.EventQuoteRejected, at, q.ID, quoteData(p, q), q.TradieID))
	}
	return out
}

func quoteData(p domain.Project, q domain.Quote) map[string]string {
	return map[string]string{
		"project_id":  p.ID,
		"project":     p.Description,
		"quote_id":    q.ID,
		"amount":      q.Price.StringFixed(fees.MinorUnits(q.Currency)),
		"currency":    q.Currency,
		"owner_id":    p.OwnerID,
		"tradie_id":   q.TradieID,
		"description": q.Description,
	}
}

// ListQuotes returns every quote to the owner and privileged callers; a
// tradie only sees their own.
func (l *Ledger) ListQuotes(ctx context.Context, caller domain.Caller, projectID string) ([]domain.Quote, error) {
	var out []domain.Quote
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		all, err := tx.ListQuotes(ctx, projectID)
		if err != nil {
			return err
		}
		if p.OwnerID == caller.UserID || caller.Privileged() {
			out = all
			return nil
		}
		if caller.Role != domain.RoleTradie {
			return domain.ErrNotAuthorized.With("project_id", projectID)
		}
		for _, q := range all {
			if q.TradieID == caller.UserID {
				out = append(out, q)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	if out == nil {
		out = []domain.Quote{}
	}
	return out, nil
}
