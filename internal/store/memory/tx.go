package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

// tx works on a private copy of the state. Lock* methods are plain reads:
// the store mutex already makes every transaction exclusive.
type tx struct {
	st *state
}

var _ store.Tx = (*tx)(nil)

func intentKey(provider, id string) string { return provider + "\x00" + id }

func (t *tx) GetUser(_ context.Context, id string) (domain.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound.With("user_id", id)
	}
	return u, nil
}

// Projects

func (t *tx) InsertProject(_ context.Context, p domain.Project) error {
	if _, ok := t.st.projects[p.ID]; ok {
		return domain.ErrConflict.With("project_id", p.ID)
	}
	t.st.projects[p.ID] = p
	return nil
}

func (t *tx) GetProject(_ context.Context, id string) (domain.Project, error) {
	p, ok := t.st.projects[id]
	if !ok {
		return domain.Project{}, domain.ErrNotFound.With("project_id", id)
	}
	return p, nil
}

func (t *tx) LockProject(ctx context.Context, id string) (domain.Project, error) {
	return t.GetProject(ctx, id)
}

func (t *tx) SetProjectStatus(_ context.Context, id string, from []domain.ProjectStatus, to domain.ProjectStatus, at time.Time) (bool, error) {
	p, ok := t.st.projects[id]
	if !ok {
		return false, domain.ErrNotFound.With("project_id", id)
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			p.UpdatedAt = at
			t.st.projects[id] = p
			return true, nil
		}
	}
	return false, nil
}

// Quotes

func (t *tx) InsertQuote(_ context.Context, q domain.Quote) error {
	if _, ok := t.st.quotes[q.ID]; ok {
		return domain.ErrConflict.With("quote_id", q.ID)
	}
	for _, other := range t.st.quotes {
		if other.ProjectID == q.ProjectID && other.TradieID == q.TradieID &&
			other.Status == domain.QuotePending && q.Status == domain.QuotePending {
			return domain.ErrDuplicateQuote
		}
	}
	t.st.quotes[q.ID] = q
	return nil
}

func (t *tx) GetQuote(_ context.Context, id string) (domain.Quote, error) {
	q, ok := t.st.quotes[id]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound.With("quote_id", id)
	}
	return q, nil
}

func (t *tx) ListQuotes(_ context.Context, projectID string) ([]domain.Quote, error) {
	var out []domain.Quote
	for _, q := range t.st.quotes {
		if q.ProjectID == projectID {
			out = append(out, q)
		}
	}
	sortQuotes(out)
	return out, nil
}

func (t *tx) FindPendingQuote(_ context.Context, projectID, tradieID string) (domain.Quote, bool, error) {
	for _, q := range t.st.quotes {
		if q.ProjectID == projectID && q.TradieID == tradieID && q.Status == domain.QuotePending {
			return q, true, nil
		}
	}
	return domain.Quote{}, false, nil
}

func (t *tx) UpdatePendingQuote(_ context.Context, q domain.Quote) (bool, error) {
	cur, ok := t.st.quotes[q.ID]
	if !ok || cur.Status != domain.QuotePending {
		return false, nil
	}
	cur.Price = q.Price
	cur.Description = q.Description
	cur.UpdatedAt = q.UpdatedAt
	t.st.quotes[q.ID] = cur
	return true, nil
}

func (t *tx) DeletePendingQuote(_ context.Context, id string) (bool, error) {
	cur, ok := t.st.quotes[id]
	if !ok || cur.Status != domain.QuotePending {
		return false, nil
	}
	delete(t.st.quotes, id)
	return true, nil
}

func (t *tx) SetQuoteStatus(_ context.Context, id string, from, to domain.QuoteStatus, at time.Time) (bool, error) {
	q, ok := t.st.quotes[id]
	if !ok || q.Status != from {
		return false, nil
	}
	if to == domain.QuoteAccepted {
		for _, other := range t.st.quotes {
			if other.ProjectID == q.ProjectID && other.Status == domain.QuoteAccepted {
				return false, domain.ErrConflict.With("project_id", q.ProjectID)
			}
		}
	}
	q.Status = to
	q.UpdatedAt = at
	t.st.quotes[id] = q
	return true, nil
}

func (t *tx) RejectPendingQuotes(_ context.Context, projectID, exceptID string, at time.Time) ([]domain.Quote, error) {
	var out []domain.Quote
	for id, q := range t.st.quotes {
		if q.ProjectID != projectID || id == exceptID || q.Status != domain.QuotePending {
			continue
		}
		q.Status = domain.QuoteRejected
		q.UpdatedAt = at
		t.st.quotes[id] = q
		out = append(out, q)
	}
	sortQuotes(out)
	return out, nil
}

func sortQuotes(qs []domain.Quote) {
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].CreatedAt.Equal(qs[j].CreatedAt) {
			return qs[i].ID < qs[j].ID
		}
		return qs[i].CreatedAt.Before(qs[j].CreatedAt)
	})
}

// Payments

func (t *tx) InsertIntent(_ context.Context, pi domain.PaymentIntent) error {
	k := intentKey(pi.Provider, pi.ID)
	if _, ok := t.st.intents[k]; ok {
		return domain.ErrConflict.With("intent_id", pi.ID)
	}
	t.st.intents[k] = pi
	return nil
}

func (t *tx) LockIntent(_ context.Context, provider, intentID string) (domain.PaymentIntent, error) {
	pi, ok := t.st.intents[intentKey(provider, intentID)]
	if !ok {
		return domain.PaymentIntent{}, domain.ErrNotFound.With("intent_id", intentID)
	}
	return pi, nil
}

func (t *tx) SetIntentStatus(_ context.Context, provider, intentID string, status domain.IntentStatus, at time.Time) error {
	k := intentKey(provider, intentID)
	pi, ok := t.st.intents[k]
	if !ok {
		return domain.ErrNotFound.With("intent_id", intentID)
	}
	pi.Status = status
	pi.UpdatedAt = at
	t.st.intents[k] = pi
	return nil
}

func (t *tx) GetPaymentByIntent(_ context.Context, provider, intentID string) (domain.Payment, bool, error) {
	for _, p := range t.st.payments {
		if p.Provider == provider && p.ProviderIntentID == intentID {
			return p, true, nil
		}
	}
	return domain.Payment{}, false, nil
}

func (t *tx) InsertPayment(_ context.Context, p domain.Payment) error {
	for _, other := range t.st.payments {
		if other.ID == p.ID || (other.Provider == p.Provider && other.ProviderIntentID == p.ProviderIntentID) {
			return domain.ErrConflict.With("intent_id", p.ProviderIntentID)
		}
		if p.Status == domain.PaymentConfirmed && other.Status == domain.PaymentConfirmed && other.ProjectID == p.ProjectID {
			return domain.ErrConflict.With("project_id", p.ProjectID)
		}
	}
	t.st.payments[p.ID] = p
	return nil
}

func (t *tx) ConfirmFailedPayment(_ context.Context, p domain.Payment) (bool, error) {
	cur, ok := t.st.payments[p.ID]
	if !ok || cur.Status != domain.PaymentFailed {
		return false, nil
	}
	for _, other := range t.st.payments {
		if other.Status == domain.PaymentConfirmed && other.ProjectID == cur.ProjectID {
			return false, domain.ErrConflict.With("project_id", cur.ProjectID)
		}
	}
	cur.Status = domain.PaymentConfirmed
	cur.FailureReason = ""
	cur.ConfirmedAt = p.ConfirmedAt
	t.st.payments[p.ID] = cur
	return true, nil
}

func (t *tx) HasConfirmedPayment(_ context.Context, projectID string) (bool, error) {
	for _, p := range t.st.payments {
		if p.ProjectID == projectID && p.Status == domain.PaymentConfirmed {
			return true, nil
		}
	}
	return false, nil
}

// Escrows

func (t *tx) InsertEscrow(_ context.Context, e domain.EscrowAccount) error {
	for _, other := range t.st.escrows {
		if other.ID == e.ID || other.PaymentID == e.PaymentID {
			return domain.ErrConflict.With("payment_id", e.PaymentID)
		}
	}
	t.st.escrows[e.ID] = e
	return nil
}

func (t *tx) GetEscrow(_ context.Context, id string) (domain.EscrowAccount, error) {
	e, ok := t.st.escrows[id]
	if !ok {
		return domain.EscrowAccount{}, domain.ErrNotFound.With("escrow_id", id)
	}
	return e, nil
}

func (t *tx) LockEscrow(ctx context.Context, id string) (domain.EscrowAccount, error) {
	return t.GetEscrow(ctx, id)
}

func (t *tx) TransitionEscrow(_ context.Context, tr store.EscrowTransition) (bool, error) {
	e, ok := t.st.escrows[tr.ID]
	if !ok || e.Status != tr.From {
		return false, nil
	}
	e.Status = tr.To
	e.UpdatedAt = tr.At
	if tr.To == domain.EscrowReleased {
		at := tr.At
		e.ReleasedAt = &at
		e.ReleasedBy = tr.ReleasedBy
	}
	t.st.escrows[tr.ID] = e
	return true, nil
}

func (t *tx) ListDueEscrows(_ context.Context, now time.Time, after store.EscrowCursor, limit int) ([]domain.EscrowAccount, error) {
	var out []domain.EscrowAccount
	for _, e := range t.st.escrows {
		if e.Status == domain.EscrowHeld && !e.ProtectionEndDate.After(now) && !after.Covers(e) {
			out = append(out, e)
		}
	}
	return limitEscrows(sortByProtectionEnd(out), limit), nil
}

func (t *tx) ListExpiringEscrows(_ context.Context, now, until time.Time, limit int) ([]domain.EscrowAccount, error) {
	var out []domain.EscrowAccount
	for _, e := range t.st.escrows {
		if e.Status != domain.EscrowHeld || e.ExpiryNoticeSentAt != nil {
			continue
		}
		if e.ProtectionEndDate.After(now) && !e.ProtectionEndDate.After(until) {
			out = append(out, e)
		}
	}
	return limitEscrows(sortByProtectionEnd(out), limit), nil
}

func (t *tx) MarkExpiryNotice(_ context.Context, id string, at time.Time) (bool, error) {
	e, ok := t.st.escrows[id]
	if !ok || e.ExpiryNoticeSentAt != nil {
		return false, nil
	}
	e.ExpiryNoticeSentAt = &at
	t.st.escrows[id] = e
	return true, nil
}

func (t *tx) ListEscrowsForUser(_ context.Context, userID string) ([]domain.EscrowAccount, error) {
	var out []domain.EscrowAccount
	for _, e := range t.st.escrows {
		if e.Participant(userID) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func sortByProtectionEnd(es []domain.EscrowAccount) []domain.EscrowAccount {
	sort.Slice(es, func(i, j int) bool {
		if es[i].ProtectionEndDate.Equal(es[j].ProtectionEndDate) {
			return es[i].ID < es[j].ID
		}
		return es[i].ProtectionEndDate.Before(es[j].ProtectionEndDate)
	})
	return es
}

func limitEscrows(es []domain.EscrowAccount, limit int) []domain.EscrowAccount {
	if limit > 0 && len(es) > limit {
		return es[:limit]
	}
	return es
}

// Disputes

func (t *tx) InsertDispute(_ context.Context, d domain.Dispute) error {
	for _, other := range t.st.disputes {
		if other.EscrowID == d.EscrowID && other.Status == domain.DisputeOpen {
			return domain.ErrConflict.With("escrow_id", d.EscrowID)
		}
	}
	t.st.disputes[d.ID] = d
	return nil
}

func (t *tx) GetOpenDispute(_ context.Context, escrowID string) (domain.Dispute, error) {
	for _, d := range t.st.disputes {
		if d.EscrowID == escrowID && d.Status == domain.DisputeOpen {
			return d, nil
		}
	}
	return domain.Dispute{}, domain.ErrNotFound.With("escrow_id", escrowID)
}

func (t *tx) CloseDispute(_ context.Context, d domain.Dispute) error {
	cur, ok := t.st.disputes[d.ID]
	if !ok {
		return domain.ErrNotFound.With("dispute_id", d.ID)
	}
	cur.Status = domain.DisputeResolved
	cur.Outcome = d.Outcome
	cur.Notes = d.Notes
	cur.ResolvedBy = d.ResolvedBy
	cur.ResolvedAt = d.ResolvedAt
	t.st.disputes[d.ID] = cur
	return nil
}

func (t *tx) ListDisputes(_ context.Context, status domain.DisputeStatus) ([]domain.Dispute, error) {
	var out []domain.Dispute
	for _, d := range t.st.disputes {
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Withdrawals

func (t *tx) LockPayee(context.Context, string) error { return nil }

func (t *tx) SumEscrowNet(_ context.Context, payeeID, currency string, statuses ...domain.EscrowStatus) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range t.st.escrows {
		if e.PayeeID != payeeID || e.Currency != currency {
			continue
		}
		for _, s := range statuses {
			if e.Status == s {
				sum = sum.Add(e.NetAmount)
				break
			}
		}
	}
	return sum, nil
}

func (t *tx) SumActiveWithdrawals(_ context.Context, payeeID, currency string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, w := range t.st.withdrawals {
		if w.PayeeID == payeeID && w.Currency == currency && w.Status != domain.WithdrawalFailed {
			sum = sum.Add(w.Amount)
		}
	}
	return sum, nil
}

func (t *tx) InsertWithdrawal(_ context.Context, w domain.Withdrawal) error {
	for _, other := range t.st.withdrawals {
		if other.ID == w.ID || other.Reference == w.Reference {
			return domain.ErrConflict.With("reference", w.Reference)
		}
	}
	t.st.withdrawals[w.ID] = w
	return nil
}

func (t *tx) GetWithdrawal(_ context.Context, id string) (domain.Withdrawal, error) {
	w, ok := t.st.withdrawals[id]
	if !ok {
		return domain.Withdrawal{}, domain.ErrNotFound.With("withdrawal_id", id)
	}
	return w, nil
}

func (t *tx) TransitionWithdrawal(_ context.Context, tr store.WithdrawalTransition) (bool, error) {
	w, ok := t.st.withdrawals[tr.ID]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, f := range tr.From {
		if w.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	w.Status = tr.To
	w.UpdatedAt = tr.At
	if tr.FailureReason != "" {
		w.FailureReason = tr.FailureReason
	}
	if tr.To == domain.WithdrawalCompleted {
		at := tr.At
		w.CompletedAt = &at
	}
	t.st.withdrawals[tr.ID] = w
	return true, nil
}

func (t *tx) ListWithdrawals(_ context.Context, payeeID string) ([]domain.Withdrawal, error) {
	var out []domain.Withdrawal
	for _, w := range t.st.withdrawals {
		if w.PayeeID == payeeID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
