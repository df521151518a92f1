package payments

import (
	"context"
	"errors"
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

// Failure reasons recorded when money arrived for a project that can no
// longer take it. Both need a manual refund.
const (
	reasonDuplicatePayment = "duplicate payment for project"
	reasonProjectClosed    = "project no longer awaiting payment"
)

// EscrowOpener opens the escrow hold for a confirmed payment inside the
// caller's transaction.
type EscrowOpener interface {
	OpenEscrow(ctx context.Context, tx store.Tx, payment domain.Payment) (domain.EscrowAccount, []domain.NotificationEvent, error)
}

type Dependencies struct {
	Store           store.Store
	Escrow          EscrowOpener
	Notifier        domain.Notifier
	Providers       []Provider
	DefaultProvider string
	Logger          *slog.Logger
	Now             func() time.Time
}

type Gateway struct {
	store           store.Store
	escrow          EscrowOpener
	notifier        domain.Notifier
	providers       registry
	defaultProvider string
	log             *slog.Logger
	nowFn           func() time.Time
}

func NewGateway(deps Dependencies) *Gateway {
	g := &Gateway{
		store:           deps.Store,
		escrow:          deps.Escrow,
		notifier:        deps.Notifier,
		providers:       newRegistry(deps.Providers),
		defaultProvider: deps.DefaultProvider,
		log:             deps.Logger,
		nowFn:           deps.Now,
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	if g.nowFn == nil {
		g.nowFn = time.Now
	}
	if g.defaultProvider == "" {
		g.defaultProvider = stripeName
	}
	return g
}

func (g *Gateway) now() time.Time { return g.nowFn().UTC() }

// Providers lists the configured provider names.
func (g *Gateway) Providers() []string {
	out := make([]string, 0, len(g.providers))
	for name := range g.providers {
		out = append(out, name)
	}
	return out
}

type CreateIntentInput struct {
	ProjectID string          `json:"project_id"`
	QuoteID   string          `json:"quote_id"`
	TradieID  string          `json:"tradie_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Provider  string          `json:"provider"`
	ReturnURL string          `json:"return_url"`
}

type CreateIntentResult struct {
	IntentID     string               `json:"intent_id"`
	Provider     string               `json:"provider"`
	Method       domain.PaymentMethod `json:"method"`
	Amount       decimal.Decimal      `json:"amount"`
	Currency     string               `json:"currency"`
	ClientSecret string               `json:"client_secret,omitempty"`
	RedirectURL  string               `json:"redirect_url,omitempty"`
}

// CreateIntent validates the checkout against the accepted quote, asks the
// provider for an intent and records it. The provider call happens between
// two short transactions so no row lock is held across the network.
func (g *Gateway) CreateIntent(ctx context.Context, caller domain.Caller, in CreateIntentInput) (CreateIntentResult, error) {
	if in.Provider == "" {
		in.Provider = g.defaultProvider
	}
	provider, err := g.providers.get(in.Provider)
	if err != nil {
		return CreateIntentResult{}, err
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		return CreateIntentResult{}, domain.ErrInvalidInput.With("field", "currency")
	}
	if !fees.ValidAmount(in.Amount, in.Currency) {
		return CreateIntentResult{}, domain.ErrInvalidAmount.With("amount", in.Amount.String())
	}

	var quote domain.Quote
	var project domain.Project
	err = g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if project, err = tx.GetProject(ctx, in.ProjectID); err != nil {
			return err
		}
		if caller.UserID != project.OwnerID {
			return domain.ErrPayerMismatch.With("project_id", project.ID)
		}
		if quote, err = tx.GetQuote(ctx, in.QuoteID); err != nil {
			return err
		}
		if quote.ProjectID != project.ID {
			return domain.ErrInvalidInput.With("field", "quote_id")
		}
		if quote.Status != domain.QuoteAccepted {
			return domain.ErrQuoteNotAccepted.With("status", string(quote.Status))
		}
		if in.TradieID != "" && in.TradieID != quote.TradieID {
			return domain.ErrInvalidInput.With("field", "tradie_id")
		}
		if !in.Amount.Equal(quote.Price) || in.Currency != quote.Currency {
			return domain.ErrAmountMismatch.
				With("expected", quote.Price.String()+" "+quote.Currency).
				With("got", in.Amount.String()+" "+in.Currency)
		}
		paid, err := tx.HasConfirmedPayment(ctx, project.ID)
		if err != nil {
			return err
		}
		if paid {
			return domain.ErrProjectAlreadyPaid.With("project_id", project.ID)
		}
		if project.Status != domain.ProjectAgreed {
			return domain.ErrInvalidProjectTransition.
				With("from", string(project.Status)).
				With("to", string(domain.ProjectEscrowed))
		}
		return nil
	})
	if err != nil {
		return CreateIntentResult{}, fmt.Errorf("create intent: %w", err)
	}

	pi, err := provider.CreateIntent(ctx, IntentRequest{
		Amount:         quote.Price,
		Currency:       quote.Currency,
		Reference:      "TH-" + quote.ID,
		IdempotencyKey: uuid.NewString(),
		ReturnURL:      in.ReturnURL,
		Metadata: map[string]string{
			"project_id": project.ID,
			"quote_id":   quote.ID,
			"payer_id":   caller.UserID,
			"payee_id":   quote.TradieID,
		},
	})
	if err != nil {
		g.log.Error("provider intent failed",
			"provider", provider.Name(),
			"project_id", project.ID,
			"retryable", domain.IsRetryable(err),
			"err", err,
		)
		return CreateIntentResult{}, fmt.Errorf("create intent: %w", err)
	}

	now := g.now()
	record := domain.PaymentIntent{
		ID:           pi.ID,
		Provider:     provider.Name(),
		Method:       provider.Method(),
		ProjectID:    project.ID,
		QuoteID:      quote.ID,
		PayerID:      caller.UserID,
		PayeeID:      quote.TradieID,
		Amount:       quote.Price,
		Currency:     quote.Currency,
		ClientSecret: pi.ClientSecret,
		RedirectURL:  pi.RedirectURL,
		Status:       domain.IntentCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertIntent(ctx, record)
	})
	if err != nil {
		return CreateIntentResult{}, fmt.Errorf("record intent: %w", err)
	}

	g.log.Info("payment intent created",
		"provider", record.Provider,
		"intent_id", record.ID,
		"project_id", record.ProjectID,
		"amount", record.Amount.String(),
		"currency", record.Currency,
	)
	return CreateIntentResult{
		IntentID:     record.ID,
		Provider:     record.Provider,
		Method:       record.Method,
		Amount:       record.Amount,
		Currency:     record.Currency,
		ClientSecret: record.ClientSecret,
		RedirectURL:  record.RedirectURL,
	}, nil
}

// ConfirmIntent records the provider's verdict on an intent. It is
// idempotent per (provider, intent): a repeat returns the stored payment and
// emits nothing. A success opens the escrow in the same transaction.
func (g *Gateway) ConfirmIntent(ctx context.Context, providerName, intentID string, outcome Outcome, failureReason string) (domain.Payment, error) {
	if outcome != OutcomeSucceeded && outcome != OutcomeFailed {
		return domain.Payment{}, domain.ErrInvalidInput.With("field", "outcome")
	}
	providerName = strings.ToLower(providerName)

	var (
		out    domain.Payment
		events []domain.NotificationEvent
		repeat bool
	)
	now := g.now()
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		intent, err := tx.LockIntent(ctx, providerName, intentID)
		if err != nil {
			return err
		}
		existing, found, err := tx.GetPaymentByIntent(ctx, providerName, intentID)
		if err != nil {
			return err
		}
		// A card intent can fail and then succeed on a second attempt. Only
		// that upgrade is applied; every other repeat is a no-op.
		retried := found && outcome == OutcomeSucceeded && existing.Status == domain.PaymentFailed && !needsRefund(existing)
		if found && !retried {
			out, repeat = existing, true
			return nil
		}

		p := domain.Payment{
			ID:               uuid.NewString(),
			ProjectID:        intent.ProjectID,
			QuoteID:          intent.QuoteID,
			PayerID:          intent.PayerID,
			PayeeID:          intent.PayeeID,
			Amount:           intent.Amount,
			Currency:         intent.Currency,
			Method:           intent.Method,
			Provider:         providerName,
			ProviderIntentID: intentID,
			CreatedAt:        now,
		}
		if retried {
			p = existing
			p.FailureReason = ""
		}

		if outcome == OutcomeFailed {
			p.Status = domain.PaymentFailed
			p.FailureReason = failureReason
			if err := tx.SetIntentStatus(ctx, providerName, intentID, domain.IntentFailed, now); err != nil {
				return err
			}
			if err := tx.InsertPayment(ctx, p); err != nil {
				return err
			}
			out = p
			events = append(events, paymentEvent(domain.EventPaymentFailed, now, p, p.PayerID))
			return nil
		}

		if err := tx.SetIntentStatus(ctx, providerName, intentID, domain.IntentSucceeded, now); err != nil {
			return err
		}
		project, err := tx.LockProject(ctx, intent.ProjectID)
		if err != nil {
			return err
		}
		paid, err := tx.HasConfirmedPayment(ctx, project.ID)
		if err != nil {
			return err
		}
		if paid || project.Status != domain.ProjectAgreed {
			if retried {
				g.log.Error("captured payment needs manual refund",
					"provider", providerName,
					"intent_id", intentID,
					"project_id", project.ID,
					"reason", "retried intent succeeded after project moved on",
				)
				out, repeat = existing, true
				return nil
			}
			p.Status = domain.PaymentFailed
			p.FailureReason = reasonProjectClosed
			if paid {
				p.FailureReason = reasonDuplicatePayment
			}
			if err := tx.InsertPayment(ctx, p); err != nil {
				return err
			}
			g.log.Error("captured payment needs manual refund",
				"provider", providerName,
				"intent_id", intentID,
				"project_id", project.ID,
				"project_status", project.Status,
				"amount", p.Amount.String(),
				"currency", p.Currency,
				"reason", p.FailureReason,
			)
			out = p
			events = append(events, paymentEvent(domain.EventPaymentFailed, now, p, p.PayerID))
			return nil
		}

		p.Status = domain.PaymentConfirmed
		p.ConfirmedAt = &now
		if retried {
			ok, err := tx.ConfirmFailedPayment(ctx, p)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrConflict.With("payment_id", p.ID)
			}
		} else if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		_, escrowEvents, err := g.escrow.OpenEscrow(ctx, tx, p)
		if err != nil {
			return err
		}
		out = p
		events = append(events, paymentEvent(domain.EventPaymentConfirmed, now, p, p.PayerID, p.PayeeID))
		events = append(events, escrowEvents...)
		return nil
	})
	if errors.Is(err, domain.ErrConflict) {
		// Lost a race with a concurrent confirmation of the same intent.
		return g.paymentByIntent(ctx, providerName, intentID)
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("confirm intent: %w", err)
	}
	if repeat {
		g.log.Info("repeat confirmation ignored", "provider", providerName, "intent_id", intentID, "payment_id", out.ID)
		return out, nil
	}

	g.log.Info("payment recorded",
		"provider", providerName,
		"intent_id", intentID,
		"payment_id", out.ID,
		"status", out.Status,
		"project_id", out.ProjectID,
	)
	domain.NotifyAll(ctx, g.notifier, events)
	return out, nil
}

func (g *Gateway) paymentByIntent(ctx context.Context, providerName, intentID string) (domain.Payment, error) {
	var out domain.Payment
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, found, err := tx.GetPaymentByIntent(ctx, providerName, intentID)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrConflict.With("intent_id", intentID)
		}
		out = p
		return nil
	})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("confirm intent: %w", err)
	}
	return out, nil
}

// HandleWebhook verifies and applies one provider callback. A nil error
// means the callback is durably handled and may be acknowledged.
func (g *Gateway) HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) error {
	provider, err := g.providers.get(providerName)
	if err != nil {
		return err
	}
	if !provider.VerifyWebhookSignature(payload, signature) {
		g.log.Warn("webhook signature rejected", "provider", provider.Name())
		return domain.ErrInvalidSignature.With("provider", provider.Name())
	}
	res, err := provider.ParseWebhook(ctx, payload)
	if err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}
	if res.Outcome == OutcomeIgnored {
		g.log.Debug("webhook ignored", "provider", provider.Name(), "intent_id", res.IntentID)
		return nil
	}

	if res.Outcome == OutcomeSucceeded {
		if err := g.checkCaptured(ctx, provider.Name(), res); err != nil {
			return err
		}
	}
	_, err = g.ConfirmIntent(ctx, provider.Name(), res.IntentID, res.Outcome, res.FailureReason)
	if errors.Is(err, domain.ErrNotFound) {
		// Intents created outside this service are acknowledged and dropped.
		g.log.Warn("webhook for unknown intent", "provider", provider.Name(), "intent_id", res.IntentID)
		return nil
	}
	return err
}

// checkCaptured rejects a success whose reported amount or currency differs
// from the intent. Callbacks without an amount, or for unknown intents, pass
// through to ConfirmIntent.
func (g *Gateway) checkCaptured(ctx context.Context, providerName string, res WebhookResult) error {
	if res.Amount.IsZero() {
		return nil
	}
	var intent domain.PaymentIntent
	err := g.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		intent, err = tx.LockIntent(ctx, strings.ToLower(providerName), res.IntentID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check captured amount: %w", err)
	}
	if res.Amount.Equal(intent.Amount) && (res.Currency == "" || strings.EqualFold(res.Currency, intent.Currency)) {
		return nil
	}
	g.log.Error("provider captured a different amount than the intent",
		"provider", providerName,
		"intent_id", res.IntentID,
		"project_id", intent.ProjectID,
		"expected", intent.Amount.String(),
		"expected_currency", intent.Currency,
		"reported", res.Amount.String(),
		"reported_currency", res.Currency,
	)
	return domain.ErrAmountMismatch.
		With("intent_id", res.IntentID).
		With("expected", intent.Amount.String()).
		With("reported", res.Amount.String())
}

// needsRefund reports whether p is money captured for a project that could
// not take it.
func needsRefund(p domain.Payment) bool {
	return p.FailureReason == reasonDuplicatePayment || p.FailureReason == reasonProjectClosed
}

func paymentEvent(t domain.EventType, at time.Time, p domain.Payment, recipients ...string) domain.NotificationEvent {
	data := map[string]string{
		"payment_id": p.ID,
		"project_id": p.ProjectID,
		"quote_id":   p.QuoteID,
		"amount":     p.Amount.StringFixed(fees.MinorUnits(p.Currency)),
		"currency":   p.Currency,
		"provider":   p.Provider,
		"method":     string(p.Method),
		"status":     string(p.Status),
	}
	if p.FailureReason != "" {
		data["reason"] = p.FailureReason
	}
	return domain.NewEvent(t, at, p.ID, data, recipients...)
}
