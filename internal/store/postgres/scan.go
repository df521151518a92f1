package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

type row interface {
	Scan(dest ...any) error
}

const userCols = `id, email, name, COALESCE(phone, ''), role, COALESCE(parent_id, '')`

func getUser(ctx context.Context, q querier, id string) (domain.User, error) {
	var u domain.User
	err := q.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.Role, &u.ParentID)
	if err != nil {
		return domain.User{}, notFound(err, "user_id", id)
	}
	return u, nil
}

const projectCols = `id, owner_id, description, location, status, created_at, updated_at`

func scanProject(r row) (domain.Project, error) {
	var p domain.Project
	err := r.Scan(&p.ID, &p.OwnerID, &p.Description, &p.Location, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

const quoteCols = `id, project_id, tradie_id, price::text, currency, description, status, created_at, updated_at`

func scanQuote(r row) (domain.Quote, error) {
	var (
		q     domain.Quote
		price string
	)
	if err := r.Scan(&q.ID, &q.ProjectID, &q.TradieID, &price, &q.Currency, &q.Description, &q.Status, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return domain.Quote{}, err
	}
	return q, parseNumeric(map[*decimal.Decimal]string{&q.Price: price})
}

const intentCols = `provider, id, method, project_id, quote_id, payer_id, payee_id, amount::text, currency,
    COALESCE(client_secret, ''), COALESCE(redirect_url, ''), status, created_at, updated_at`

func scanIntent(r row) (domain.PaymentIntent, error) {
	var (
		pi     domain.PaymentIntent
		amount string
	)
	if err := r.Scan(&pi.Provider, &pi.ID, &pi.Method, &pi.ProjectID, &pi.QuoteID, &pi.PayerID, &pi.PayeeID,
		&amount, &pi.Currency, &pi.ClientSecret, &pi.RedirectURL, &pi.Status, &pi.CreatedAt, &pi.UpdatedAt); err != nil {
		return domain.PaymentIntent{}, err
	}
	return pi, parseNumeric(map[*decimal.Decimal]string{&pi.Amount: amount})
}

const paymentCols = `id, project_id, quote_id, payer_id, payee_id, amount::text, currency, method, provider,
    provider_intent_id, status, COALESCE(failure_reason, ''), confirmed_at, created_at`

func scanPayment(r row) (domain.Payment, error) {
	var (
		p      domain.Payment
		amount string
	)
	if err := r.Scan(&p.ID, &p.ProjectID, &p.QuoteID, &p.PayerID, &p.PayeeID, &amount, &p.Currency, &p.Method,
		&p.Provider, &p.ProviderIntentID, &p.Status, &p.FailureReason, &p.ConfirmedAt, &p.CreatedAt); err != nil {
		return domain.Payment{}, err
	}
	return p, parseNumeric(map[*decimal.Decimal]string{&p.Amount: amount})
}

const escrowCols = `id, payment_id, project_id, owner_id, payee_id, COALESCE(affiliate_id, ''), currency,
    gross_amount::text, platform_fee::text, affiliate_fee::text, tax_withheld::text, net_amount::text,
    status, protection_end_date, released_at, COALESCE(released_by, ''), expiry_notice_sent_at, created_at, updated_at`

func scanEscrow(r row) (domain.EscrowAccount, error) {
	var (
		e                         domain.EscrowAccount
		gross, pf, af, tax, netAm string
	)
	if err := r.Scan(&e.ID, &e.PaymentID, &e.ProjectID, &e.OwnerID, &e.PayeeID, &e.AffiliateID, &e.Currency,
		&gross, &pf, &af, &tax, &netAm,
		&e.Status, &e.ProtectionEndDate, &e.ReleasedAt, &e.ReleasedBy, &e.ExpiryNoticeSentAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return domain.EscrowAccount{}, err
	}
	return e, parseNumeric(map[*decimal.Decimal]string{
		&e.GrossAmount:  gross,
		&e.PlatformFee:  pf,
		&e.AffiliateFee: af,
		&e.TaxWithheld:  tax,
		&e.NetAmount:    netAm,
	})
}

const disputeCols = `id, escrow_id, raised_by, reason, status, COALESCE(outcome, ''), COALESCE(notes, ''),
    COALESCE(resolved_by, ''), created_at, resolved_at`

func scanDispute(r row) (domain.Dispute, error) {
	var d domain.Dispute
	err := r.Scan(&d.ID, &d.EscrowID, &d.RaisedBy, &d.Reason, &d.Status, &d.Outcome, &d.Notes, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt)
	return d, err
}

const withdrawalCols = `id, payee_id, amount::text, currency, reference, status, COALESCE(failure_reason, ''),
    estimated_processing_time, created_at, updated_at, completed_at`

func scanWithdrawal(r row) (domain.Withdrawal, error) {
	var (
		w      domain.Withdrawal
		amount string
	)
	if err := r.Scan(&w.ID, &w.PayeeID, &amount, &w.Currency, &w.Reference, &w.Status, &w.FailureReason,
		&w.EstimatedProcessingTime, &w.CreatedAt, &w.UpdatedAt, &w.CompletedAt); err != nil {
		return domain.Withdrawal{}, err
	}
	return w, parseNumeric(map[*decimal.Decimal]string{&w.Amount: amount})
}

const notificationCols = `id, user_id, type, title, COALESCE(body, ''), COALESCE(reference, ''), created_at, read_at`

func scanNotification(r row) (domain.Notification, error) {
	var n domain.Notification
	err := r.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.Reference, &n.CreatedAt, &n.ReadAt)
	return n, err
}

// collect drains rows through scan.
func collect[T any](rows pgx.Rows, scan func(row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
