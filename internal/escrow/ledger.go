// Package escrow holds confirmed payments until the owner releases them, the
// protection period runs out, or an admin settles a dispute.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/fees"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

const defaultSweepBatch = 200

type Dependencies struct {
	Store    store.Store
	Notifier domain.Notifier
	Schedule fees.Schedule
	Logger   *slog.Logger
	Now      func() time.Time
	// SweepBatch caps how many due rows one sweep page reads.
	SweepBatch int
}

type Ledger struct {
	store    store.Store
	notifier domain.Notifier
	schedule fees.Schedule
	log      *slog.Logger
	nowFn    func() time.Time
	batch    int
}

func NewLedger(deps Dependencies) *Ledger {
	l := &Ledger{
		store:    deps.Store,
		notifier: deps.Notifier,
		schedule: deps.Schedule,
		log:      deps.Logger,
		nowFn:    deps.Now,
		batch:    deps.SweepBatch,
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.nowFn == nil {
		l.nowFn = time.Now
	}
	if l.batch <= 0 {
		l.batch = defaultSweepBatch
	}
	if l.schedule.ProtectionPeriod <= 0 {
		l.schedule.ProtectionPeriod = fees.DefaultProtectionPeriod
	}
	return l
}

func (l *Ledger) now() time.Time { return l.nowFn().UTC() }

// Project statuses from which the owner may release early.
var earlyReleasable = []domain.ProjectStatus{
	domain.ProjectEscrowed,
	domain.ProjectInProgress,
	domain.ProjectCompleted,
}

// Project statuses a held escrow can be released from by expiry or by an
// admin settling a dispute.
var releasable = []domain.ProjectStatus{
	domain.ProjectEscrowed,
	domain.ProjectInProgress,
	domain.ProjectCompleted,
	domain.ProjectProtection,
}

func statusIn(s domain.ProjectStatus, set []domain.ProjectStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// OpenEscrow creates the hold for a just-confirmed payment. It runs inside
// the caller's transaction and returns the events to dispatch once that
// transaction commits.
func (l *Ledger) OpenEscrow(ctx context.Context, tx store.Tx, payment domain.Payment) (domain.EscrowAccount, []domain.NotificationEvent, error) {
	if payment.Status != domain.PaymentConfirmed {
		return domain.EscrowAccount{}, nil, fmt.Errorf("open escrow: payment %s is %s", payment.ID, payment.Status)
	}

	affiliateID := ""
	payee, err := tx.GetUser(ctx, payment.PayeeID)
	switch {
	case err == nil:
		if payee.HasParent() {
			affiliateID = payee.ParentID
		}
	case errors.Is(err, domain.ErrNotFound):
		l.log.Warn("payee not mirrored, skipping affiliate fee", "payee_id", payment.PayeeID)
	default:
		return domain.EscrowAccount{}, nil, fmt.Errorf("open escrow: %w", err)
	}

	breakdown, err := fees.Compute(payment.Amount, payment.Currency, l.schedule.RatesFor(affiliateID != ""))
	if err != nil {
		return domain.EscrowAccount{}, nil, fmt.Errorf("open escrow: %w", err)
	}

	project, err := tx.LockProject(ctx, payment.ProjectID)
	if err != nil {
		return domain.EscrowAccount{}, nil, fmt.Errorf("open escrow: %w", err)
	}

	now := l.now()
	confirmedAt := now
	if payment.ConfirmedAt != nil {
		confirmedAt = payment.ConfirmedAt.UTC()
	}
	e := domain.EscrowAccount{
		ID:                uuid.NewString(),
		PaymentID:         payment.ID,
		ProjectID:         payment.ProjectID,
		OwnerID:           project.OwnerID,
		PayeeID:           payment.PayeeID,
		AffiliateID:       affiliateID,
		Currency:          payment.Currency,
		GrossAmount:       breakdown.Gross,
		PlatformFee:       breakdown.PlatformFee,
		AffiliateFee:      breakdown.AffiliateFee,
		TaxWithheld:       breakdown.TaxWithheld,
		NetAmount:         breakdown.Net,
		Status:            domain.EscrowHeld,
		ProtectionEndDate: confirmedAt.Add(l.schedule.ProtectionPeriod),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.InsertEscrow(ctx, e); err != nil {
		return domain.EscrowAccount{}, nil, fmt.Errorf("open escrow: %w", err)
	}
	ok, err := tx.SetProjectStatus(ctx, project.ID, []domain.ProjectStatus{domain.ProjectAgreed}, domain.ProjectEscrowed, now)
	if err != nil {
		return domain.EscrowAccount{}, nil, fmt.Errorf("open escrow: %w", err)
	}
	if !ok {
		return domain.EscrowAccount{}, nil, domain.ErrInvalidProjectTransition.
			With("from", string(project.Status)).With("to", string(domain.ProjectEscrowed))
	}

	l.log.Info("escrow opened",
		"escrow_id", e.ID,
		"project_id", e.ProjectID,
		"gross", e.GrossAmount.String(),
		"net", e.NetAmount.String(),
		"protection_end", e.ProtectionEndDate,
	)
	return e, []domain.NotificationEvent{escrowEvent(domain.EventEscrowOpened, now, e, nil)}, nil
}

// ReleaseEarly lets the owner pay the tradie out before the protection
// period ends.
func (l *Ledger) ReleaseEarly(ctx context.Context, caller domain.Caller, escrowID string) (domain.EscrowAccount, error) {
	var out domain.EscrowAccount
	now := l.now()
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.LockEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		if caller.UserID != e.OwnerID {
			return domain.ErrNotAuthorized.With("escrow_id", escrowID)
		}
		if e.Status != domain.EscrowHeld {
			return domain.ErrAlreadyReleased.With("status", string(e.Status))
		}
		p, err := tx.LockProject(ctx, e.ProjectID)
		if err != nil {
			return err
		}
		if !statusIn(p.Status, earlyReleasable) {
			return domain.ErrProjectNotReleasable.With("status", string(p.Status))
		}
		released, err := l.release(ctx, tx, e, domain.EscrowHeld, caller.UserID, earlyReleasable, now)
		if err != nil {
			return err
		}
		out = released
		return nil
	})
	if err != nil {
		return domain.EscrowAccount{}, fmt.Errorf("release escrow: %w", err)
	}
	l.log.Info("escrow released early", "escrow_id", out.ID, "by", caller.UserID)
	domain.NotifyAll(ctx, l.notifier, []domain.NotificationEvent{escrowEvent(domain.EventEscrowReleased, now, out, nil)})
	return out, nil
}

// release applies the conditional escrow update and moves the project to
// released. It reports AlreadyReleased when another writer won.
func (l *Ledger) release(ctx context.Context, tx store.Tx, e domain.EscrowAccount, from domain.EscrowStatus, by string, projectFrom []domain.ProjectStatus, at time.Time) (domain.EscrowAccount, error) {
	ok, err := tx.TransitionEscrow(ctx, store.EscrowTransition{
		ID:         e.ID,
		From:       from,
		To:         domain.EscrowReleased,
		ReleasedBy: by,
		At:         at,
	})
	if err != nil {
		return domain.EscrowAccount{}, err
	}
	if !ok {
		return domain.EscrowAccount{}, domain.ErrAlreadyReleased.With("escrow_id", e.ID)
	}
	moved, err := tx.SetProjectStatus(ctx, e.ProjectID, projectFrom, domain.ProjectReleased, at)
	if err != nil {
		return domain.EscrowAccount{}, err
	}
	if !moved {
		l.log.Warn("project not in a releasable status while releasing escrow", "escrow_id", e.ID, "project_id", e.ProjectID)
	}
	e.Status = domain.EscrowReleased
	e.ReleasedAt = &at
	e.ReleasedBy = by
	e.UpdatedAt = at
	return e, nil
}

func escrowEvent(t domain.EventType, at time.Time, e domain.EscrowAccount, extra map[string]string) domain.NotificationEvent {
	places := fees.MinorUnits(e.Currency)
	data := map[string]string{
		"escrow_id":      e.ID,
		"project_id":     e.ProjectID,
		"currency":       e.Currency,
		"gross":          e.GrossAmount.StringFixed(places),
		"net":            e.NetAmount.StringFixed(places),
		"protection_end": e.ProtectionEndDate.Format("2 Jan 2006"),
		"status":         string(e.Status),
	}
	for k, v := range extra {
		data[k] = v
	}
	return domain.NewEvent(t, at, e.ID, data, e.OwnerID, e.PayeeID)
}

// Get returns one escrow to a participant or a privileged caller.
func (l *Ledger) Get(ctx context.Context, caller domain.Caller, escrowID string) (domain.EscrowAccount, error) {
	var out domain.EscrowAccount
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.GetEscrow(ctx, escrowID)
		if err != nil {
			return err
		}
		if !e.Participant(caller.UserID) && !caller.Privileged() {
			return domain.ErrNotAuthorized.With("escrow_id", escrowID)
		}
		out = e
		return nil
	})
	if err != nil {
		return domain.EscrowAccount{}, fmt.Errorf("get escrow: %w", err)
	}
	return out, nil
}

// ListForUser returns every escrow where the caller is owner or payee.
func (l *Ledger) ListForUser(ctx context.Context, caller domain.Caller) ([]domain.EscrowAccount, error) {
	var out []domain.EscrowAccount
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListEscrowsForUser(ctx, caller.UserID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list escrows: %w", err)
	}
	if out == nil {
		out = []domain.EscrowAccount{}
	}
	return out, nil
}
