package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

type pgTx struct {
	q querier
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) GetUser(ctx context.Context, id string) (domain.User, error) {
	return getUser(ctx, t.q, id)
}

// Projects

func (t *pgTx) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := t.q.Exec(ctx, `
        INSERT INTO projects (id, owner_id, description, location, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.OwnerID, p.Description, p.Location, string(p.Status), p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := scanProject(t.q.QueryRow(ctx, `SELECT `+projectCols+` FROM projects WHERE id = $1`, id))
	if err != nil {
		return domain.Project{}, notFound(err, "project_id", id)
	}
	return p, nil
}

func (t *pgTx) LockProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := scanProject(t.q.QueryRow(ctx, `SELECT `+projectCols+` FROM projects WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Project{}, notFound(err, "project_id", id)
	}
	return p, nil
}

func (t *pgTx) SetProjectStatus(ctx context.Context, id string, from []domain.ProjectStatus, to domain.ProjectStatus, at time.Time) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	tag, err := t.q.Exec(ctx, `
        UPDATE projects SET status = $2, updated_at = $3
        WHERE id = $1 AND status = ANY($4)`, id, string(to), at, states)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

// Quotes

func (t *pgTx) InsertQuote(ctx context.Context, q domain.Quote) error {
	_, err := t.q.Exec(ctx, `
        INSERT INTO quotes (id, project_id, tradie_id, price, currency, description, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		q.ID, q.ProjectID, q.TradieID, q.Price.String(), q.Currency, q.Description, string(q.Status), q.CreatedAt, q.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) GetQuote(ctx context.Context, id string) (domain.Quote, error) {
	q, err := scanQuote(t.q.QueryRow(ctx, `SELECT `+quoteCols+` FROM quotes WHERE id = $1`, id))
	if err != nil {
		return domain.Quote{}, notFound(err, "quote_id", id)
	}
	return q, nil
}

func (t *pgTx) ListQuotes(ctx context.Context, projectID string) ([]domain.Quote, error) {
	rows, err := t.q.Query(ctx, `SELECT `+quoteCols+` FROM quotes WHERE project_id = $1 ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanQuote)
}

func (t *pgTx) FindPendingQuote(ctx context.Context, projectID, tradieID string) (domain.Quote, bool, error) {
	q, err := scanQuote(t.q.QueryRow(ctx, `
        SELECT `+quoteCols+` FROM quotes
        WHERE project_id = $1 AND tradie_id = $2 AND status = 'pending'`, projectID, tradieID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quote{}, false, nil
		}
		return domain.Quote{}, false, mapErr(err)
	}
	return q, true, nil
}

func (t *pgTx) UpdatePendingQuote(ctx context.Context, q domain.Quote) (bool, error) {
	tag, err := t.q.Exec(ctx, `
        UPDATE quotes SET price = $2, description = $3, updated_at = $4
        WHERE id = $1 AND status = 'pending'`, q.ID, q.Price.String(), q.Description, q.UpdatedAt)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) DeletePendingQuote(ctx context.Context, id string) (bool, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM quotes WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) SetQuoteStatus(ctx context.Context, id string, from, to domain.QuoteStatus, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx, `
        UPDATE quotes SET status = $3, updated_at = $4
        WHERE id = $1 AND status = $2`, id, string(from), string(to), at)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) RejectPendingQuotes(ctx context.Context, projectID, exceptID string, at time.Time) ([]domain.Quote, error) {
	rows, err := t.q.Query(ctx, `
        UPDATE quotes SET status = 'rejected', updated_at = $3
        WHERE project_id = $1 AND id <> $2 AND status = 'pending'
        RETURNING `+quoteCols, projectID, exceptID, at)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanQuote)
}

// Payments

func (t *pgTx) InsertIntent(ctx context.Context, pi domain.PaymentIntent) error {
	_, err := t.q.Exec(ctx, `
        INSERT INTO payment_intents (provider, id, method, project_id, quote_id, payer_id, payee_id, amount, currency,
            client_secret, redirect_url, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		pi.Provider, pi.ID, string(pi.Method), pi.ProjectID, pi.QuoteID, pi.PayerID, pi.PayeeID, pi.Amount.String(), pi.Currency,
		nullable(pi.ClientSecret), nullable(pi.RedirectURL), string(pi.Status), pi.CreatedAt, pi.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) LockIntent(ctx context.Context, provider, intentID string) (domain.PaymentIntent, error) {
	pi, err := scanIntent(t.q.QueryRow(ctx, `
        SELECT `+intentCols+` FROM payment_intents
        WHERE provider = $1 AND id = $2 FOR UPDATE`, provider, intentID))
	if err != nil {
		return domain.PaymentIntent{}, notFound(err, "intent_id", intentID)
	}
	return pi, nil
}

func (t *pgTx) SetIntentStatus(ctx context.Context, provider, intentID string, status domain.IntentStatus, at time.Time) error {
	tag, err := t.q.Exec(ctx, `
        UPDATE payment_intents SET status = $3, updated_at = $4
        WHERE provider = $1 AND id = $2`, provider, intentID, string(status), at)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound.With("intent_id", intentID)
	}
	return nil
}

func (t *pgTx) GetPaymentByIntent(ctx context.Context, provider, intentID string) (domain.Payment, bool, error) {
	rows, err := t.q.Query(ctx, `
        SELECT `+paymentCols+` FROM payments
        WHERE provider = $1 AND provider_intent_id = $2`, provider, intentID)
	if err != nil {
		return domain.Payment{}, false, mapErr(err)
	}
	found, err := collect(rows, scanPayment)
	if err != nil || len(found) == 0 {
		return domain.Payment{}, false, err
	}
	return found[0], true, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := t.q.Exec(ctx, `
        INSERT INTO payments (id, project_id, quote_id, payer_id, payee_id, amount, currency, method, provider,
            provider_intent_id, status, failure_reason, confirmed_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.ProjectID, p.QuoteID, p.PayerID, p.PayeeID, p.Amount.String(), p.Currency, string(p.Method), p.Provider,
		p.ProviderIntentID, string(p.Status), nullable(p.FailureReason), p.ConfirmedAt, p.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) ConfirmFailedPayment(ctx context.Context, p domain.Payment) (bool, error) {
	tag, err := t.q.Exec(ctx, `
        UPDATE payments SET status = 'confirmed', failure_reason = NULL, confirmed_at = $2
        WHERE id = $1 AND status = 'failed'`,
		p.ID, p.ConfirmedAt)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) HasConfirmedPayment(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
        SELECT EXISTS (SELECT 1 FROM payments WHERE project_id = $1 AND status = 'confirmed')`, projectID).Scan(&exists)
	return exists, mapErr(err)
}

// Escrows

func (t *pgTx) InsertEscrow(ctx context.Context, e domain.EscrowAccount) error {
	_, err := t.q.Exec(ctx, `
        INSERT INTO escrow_accounts (id, payment_id, project_id, owner_id, payee_id, affiliate_id, currency,
            gross_amount, platform_fee, affiliate_fee, tax_withheld, net_amount,
            status, protection_end_date, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.PaymentID, e.ProjectID, e.OwnerID, e.PayeeID, nullable(e.AffiliateID), e.Currency,
		e.GrossAmount.String(), e.PlatformFee.String(), e.AffiliateFee.String(), e.TaxWithheld.String(), e.NetAmount.String(),
		string(e.Status), e.ProtectionEndDate, e.CreatedAt, e.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) GetEscrow(ctx context.Context, id string) (domain.EscrowAccount, error) {
	e, err := scanEscrow(t.q.QueryRow(ctx, `SELECT `+escrowCols+` FROM escrow_accounts WHERE id = $1`, id))
	if err != nil {
		return domain.EscrowAccount{}, notFound(err, "escrow_id", id)
	}
	return e, nil
}

func (t *pgTx) LockEscrow(ctx context.Context, id string) (domain.EscrowAccount, error) {
	e, err := scanEscrow(t.q.QueryRow(ctx, `SELECT `+escrowCols+` FROM escrow_accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.EscrowAccount{}, notFound(err, "escrow_id", id)
	}
	return e, nil
}

func (t *pgTx) TransitionEscrow(ctx context.Context, tr store.EscrowTransition) (bool, error) {
	var (
		sql  string
		args []any
	)
	if tr.To == domain.EscrowReleased {
		sql = `UPDATE escrow_accounts SET status = $3, updated_at = $4, released_at = $4, released_by = $5
            WHERE id = $1 AND status = $2`
		args = []any{tr.ID, string(tr.From), string(tr.To), tr.At, tr.ReleasedBy}
	} else {
		sql = `UPDATE escrow_accounts SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
		args = []any{tr.ID, string(tr.From), string(tr.To), tr.At}
	}
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ListDueEscrows(ctx context.Context, now time.Time, after store.EscrowCursor, limit int) ([]domain.EscrowAccount, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after.IsZero() {
		rows, err = t.q.Query(ctx, `
            SELECT `+escrowCols+` FROM escrow_accounts
            WHERE status = 'held' AND protection_end_date <= $1
            ORDER BY protection_end_date, id
            LIMIT $2`, now, limitOrAll(limit))
	} else {
		rows, err = t.q.Query(ctx, `
            SELECT `+escrowCols+` FROM escrow_accounts
            WHERE status = 'held' AND protection_end_date <= $1
              AND (protection_end_date, id) > ($2, $3)
            ORDER BY protection_end_date, id
            LIMIT $4`, now, after.ProtectionEnd, after.ID, limitOrAll(limit))
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanEscrow)
}

func (t *pgTx) ListExpiringEscrows(ctx context.Context, now, until time.Time, limit int) ([]domain.EscrowAccount, error) {
	rows, err := t.q.Query(ctx, `
        SELECT `+escrowCols+` FROM escrow_accounts
        WHERE status = 'held' AND expiry_notice_sent_at IS NULL
          AND protection_end_date > $1 AND protection_end_date <= $2
        ORDER BY protection_end_date, id
        LIMIT $3`, now, until, limitOrAll(limit))
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanEscrow)
}

func (t *pgTx) MarkExpiryNotice(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx, `
        UPDATE escrow_accounts SET expiry_notice_sent_at = $2
        WHERE id = $1 AND expiry_notice_sent_at IS NULL`, id, at)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ListEscrowsForUser(ctx context.Context, userID string) ([]domain.EscrowAccount, error) {
	rows, err := t.q.Query(ctx, `
        SELECT `+escrowCols+` FROM escrow_accounts
        WHERE owner_id = $1 OR payee_id = $1
        ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanEscrow)
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// Disputes

func (t *pgTx) InsertDispute(ctx context.Context, d domain.Dispute) error {
	_, err := t.q.Exec(ctx, `
        INSERT INTO disputes (id, escrow_id, raised_by, reason, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.EscrowID, d.RaisedBy, d.Reason, string(d.Status), d.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) GetOpenDispute(ctx context.Context, escrowID string) (domain.Dispute, error) {
	d, err := scanDispute(t.q.QueryRow(ctx, `
        SELECT `+disputeCols+` FROM disputes
        WHERE escrow_id = $1 AND status = 'open' FOR UPDATE`, escrowID))
	if err != nil {
		return domain.Dispute{}, notFound(err, "escrow_id", escrowID)
	}
	return d, nil
}

func (t *pgTx) CloseDispute(ctx context.Context, d domain.Dispute) error {
	tag, err := t.q.Exec(ctx, `
        UPDATE disputes SET status = 'resolved', outcome = $2, notes = $3, resolved_by = $4, resolved_at = $5
        WHERE id = $1`, d.ID, string(d.Outcome), nullable(d.Notes), d.ResolvedBy, d.ResolvedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound.With("dispute_id", d.ID)
	}
	return nil
}

func (t *pgTx) ListDisputes(ctx context.Context, status domain.DisputeStatus) ([]domain.Dispute, error) {
	rows, err := t.q.Query(ctx, `
        SELECT `+disputeCols+` FROM disputes
        WHERE $1::text = '' OR status = $1::text
        ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanDispute)
}

// Withdrawals

func (t *pgTx) LockPayee(ctx context.Context, payeeID string) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "payee:"+payeeID)
	if err != nil {
		return fmt.Errorf("lock payee: %w", err)
	}
	return nil
}

func (t *pgTx) SumEscrowNet(ctx context.Context, payeeID, currency string, statuses ...domain.EscrowStatus) (decimal.Decimal, error) {
	states := make([]string, len(statuses))
	for i, s := range statuses {
		states[i] = string(s)
	}
	rows, err := t.q.Query(ctx, `
        SELECT net_amount::text FROM escrow_accounts
        WHERE payee_id = $1 AND currency = $2 AND status = ANY($3)
        FOR UPDATE`, payeeID, currency, states)
	if err != nil {
		return decimal.Zero, mapErr(err)
	}
	defer rows.Close()
	sum := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse net amount %q: %w", raw, err)
		}
		sum = sum.Add(d)
	}
	return sum, rows.Err()
}

func (t *pgTx) SumActiveWithdrawals(ctx context.Context, payeeID, currency string) (decimal.Decimal, error) {
	var raw string
	err := t.q.QueryRow(ctx, `
        SELECT COALESCE(SUM(amount), 0)::text FROM withdrawals
        WHERE payee_id = $1 AND currency = $2 AND status <> 'failed'`, payeeID, currency).Scan(&raw)
	if err != nil {
		return decimal.Zero, mapErr(err)
	}
	return decimal.NewFromString(raw)
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w domain.Withdrawal) error {
	_, err := t.q.Exec(ctx, `
        INSERT INTO withdrawals (id, payee_id, amount, currency, reference, status, estimated_processing_time, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.PayeeID, w.Amount.String(), w.Currency, w.Reference, string(w.Status), w.EstimatedProcessingTime, w.CreatedAt, w.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) GetWithdrawal(ctx context.Context, id string) (domain.Withdrawal, error) {
	w, err := scanWithdrawal(t.q.QueryRow(ctx, `SELECT `+withdrawalCols+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		return domain.Withdrawal{}, notFound(err, "withdrawal_id", id)
	}
	return w, nil
}

func (t *pgTx) TransitionWithdrawal(ctx context.Context, tr store.WithdrawalTransition) (bool, error) {
	from := make([]string, len(tr.From))
	for i, s := range tr.From {
		from[i] = string(s)
	}
	tag, err := t.q.Exec(ctx, `
        UPDATE withdrawals SET
            status = $2,
            updated_at = $3,
            failure_reason = COALESCE($4, failure_reason),
            completed_at = CASE WHEN $2 = 'completed' THEN $3 ELSE completed_at END
        WHERE id = $1 AND status = ANY($5)`,
		tr.ID, string(tr.To), tr.At, nullable(tr.FailureReason), from)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ListWithdrawals(ctx context.Context, payeeID string) ([]domain.Withdrawal, error) {
	rows, err := t.q.Query(ctx, `
        SELECT `+withdrawalCols+` FROM withdrawals
        WHERE payee_id = $1 ORDER BY created_at DESC, id DESC`, payeeID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanWithdrawal)
}
