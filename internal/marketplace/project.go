package marketplace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

type advanceRule struct {
	from domain.ProjectStatus
	by   domain.Role
}

// Steps the application drives directly. Escrow, release and cancellation
// have their own operations.
var advanceRules = map[domain.ProjectStatus]advanceRule{
	domain.ProjectInProgress: {from: domain.ProjectEscrowed, by: domain.RoleTradie},
	domain.ProjectCompleted:  {from: domain.ProjectInProgress, by: domain.RoleTradie},
	domain.ProjectProtection: {from: domain.ProjectCompleted, by: domain.RoleOwner},
	domain.ProjectReviewed:   {from: domain.ProjectReleased, by: domain.RoleOwner},
}

// AdvanceProject moves a project one step along the happy path. The tradie
// of the accepted quote starts and completes the work; the owner confirms
// completion and leaves the review.
func (l *Ledger) AdvanceProject(ctx context.Context, caller domain.Caller, projectID string, to domain.ProjectStatus) (domain.Project, error) {
	rule, ok := advanceRules[to]
	if !ok {
		return domain.Project{}, domain.ErrInvalidProjectTransition.With("to", string(to))
	}
	var out domain.Project
	now := l.now()
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p.Status != rule.from || !p.Status.CanTransition(to) {
			return domain.ErrInvalidProjectTransition.With("from", string(p.Status)).With("to", string(to))
		}
		if err := l.authorizeAdvance(ctx, tx, caller, p, rule.by); err != nil {
			return err
		}
		ok, err := tx.SetProjectStatus(ctx, p.ID, []domain.ProjectStatus{rule.from}, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidProjectTransition.With("to", string(to))
		}
		p.Status = to
		p.UpdatedAt = now
		out = p
		return nil
	})
	if err != nil {
		return domain.Project{}, fmt.Errorf("advance project: %w", err)
	}
	l.log.Info("project advanced", "project_id", out.ID, "status", out.Status, "by", caller.UserID)
	return out, nil
}

func (l *Ledger) authorizeAdvance(ctx context.Context, tx store.Tx, caller domain.Caller, p domain.Project, by domain.Role) error {
	if caller.Privileged() {
		return nil
	}
	switch by {
	case domain.RoleOwner:
		if caller.UserID == p.OwnerID {
			return nil
		}
	case domain.RoleTradie:
		quotes, err := tx.ListQuotes(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, q := range quotes {
			if q.Status == domain.QuoteAccepted && q.TradieID == caller.UserID {
				return nil
			}
		}
	}
	return domain.ErrNotAuthorized.With("project_id", p.ID)
}

// CancelProject withdraws a project before any money is held. Outstanding
// pending quotes are rejected and an accepted quote is voided.
func (l *Ledger) CancelProject(ctx context.Context, caller domain.Caller, projectID string) (domain.Project, error) {
	var (
		out      domain.Project
		rejected []domain.Quote
	)
	now := l.now()
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return err
		}
		if p.OwnerID != caller.UserID && !caller.Privileged() {
			return domain.ErrNotAuthorized.With("project_id", projectID)
		}
		if !p.Status.CanTransition(domain.ProjectCancelled) {
			return domain.ErrInvalidProjectTransition.With("from", string(p.Status)).With("to", string(domain.ProjectCancelled))
		}
		if rejected, err = tx.RejectPendingQuotes(ctx, p.ID, "", now); err != nil {
			return err
		}
		if p.Status == domain.ProjectAgreed {
			voided, err := voidAcceptedQuote(ctx, tx, p.ID, now)
			if err != nil {
				return err
			}
			rejected = append(rejected, voided...)
		}
		pre := []domain.ProjectStatus{domain.ProjectPublished, domain.ProjectNegotiating, domain.ProjectAgreed}
		ok, err := tx.SetProjectStatus(ctx, p.ID, pre, domain.ProjectCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidProjectTransition
		}
		p.Status = domain.ProjectCancelled
		p.UpdatedAt = now
		out = p
		return nil
	})
	if err != nil {
		return domain.Project{}, fmt.Errorf("cancel project: %w", err)
	}
	l.log.Info("project cancelled", "project_id", out.ID, "rejected_quotes", len(rejected))
	events := make([]domain.NotificationEvent, 0, len(rejected))
	for _, q := range rejected {
		data := quoteData(out, q)
		data["reason"] = "the project was cancelled"
		events = append(events, domain.NewEvent(domain.EventQuoteRejected, now, q.ID, data, q.TradieID))
	}
	domain.NotifyAll(ctx, l.notifier, events)
	return out, nil
}

func voidAcceptedQuote(ctx context.Context, tx store.Tx, projectID string, at time.Time) ([]domain.Quote, error) {
	quotes, err := tx.ListQuotes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var out []domain.Quote
	for _, q := range quotes {
		if q.Status != domain.QuoteAccepted {
			continue
		}
		ok, err := tx.SetQuoteStatus(ctx, q.ID, domain.QuoteAccepted, domain.QuoteVoid, at)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrConflict.With("quote_id", q.ID)
		}
		q.Status = domain.QuoteVoid
		q.UpdatedAt = at
		out = append(out, q)
	}
	return out, nil
}

type CreateProjectInput struct {
	Description string `json:"description"`
	Location    string `json:"location"`
}

// CreateProject publishes a new project for the calling owner.
func (l *Ledger) CreateProject(ctx context.Context, caller domain.Caller, in CreateProjectInput) (domain.Project, error) {
	if caller.Role != domain.RoleOwner || !caller.Valid() {
		return domain.Project{}, domain.ErrNotAuthorized.With("reason", "only owners can publish projects")
	}
	if strings.TrimSpace(in.Description) == "" {
		return domain.Project{}, domain.ErrInvalidInput.With("field", "description")
	}
	now := l.now()
	p := domain.Project{
		ID:          uuid.NewString(),
		OwnerID:     caller.UserID,
		Description: strings.TrimSpace(in.Description),
		Location:    strings.TrimSpace(in.Location),
		Status:      domain.ProjectPublished,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertProject(ctx, p)
	})
	if err != nil {
		return domain.Project{}, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}
