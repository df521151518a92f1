package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/fees"
)

const stripeName = "stripe"

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// Backend overrides the API backend, mainly to point tests at a local server.
	Backend stripe.Backend
}

// Stripe takes card payments through Stripe PaymentIntents.
type Stripe struct {
	intents       paymentintent.Client
	webhookSecret string
}

func NewStripe(cfg StripeConfig) *Stripe {
	b := cfg.Backend
	if b == nil {
		b = stripe.GetBackend(stripe.APIBackend)
	}
	return &Stripe{
		intents:       paymentintent.Client{B: b, Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
	}
}

func (s *Stripe) Name() string                 { return stripeName }
func (s *Stripe) Method() domain.PaymentMethod { return domain.MethodCard }
func (s *Stripe) SignatureHeader() string      { return "Stripe-Signature" }

func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (ProviderIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinorUnits(req.Amount, req.Currency)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Reference != "" {
		params.Description = stripe.String(req.Reference)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.intents.New(params)
	if err != nil {
		return ProviderIntent{}, domain.ProviderError(stripeName, stripeRetryable(err), err)
	}
	return ProviderIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// stripeRetryable treats rate limits, server errors and transport failures
// as transient. Card declines and bad requests are final.
func stripeRetryable(err error) bool {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return true
	}
	return se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500
}

func (s *Stripe) VerifyWebhookSignature(payload []byte, signature string) bool {
	if s.webhookSecret == "" || signature == "" {
		return false
	}
	return webhook.ValidatePayload(payload, signature, s.webhookSecret) == nil
}

func (s *Stripe) ParseWebhook(_ context.Context, payload []byte) (WebhookResult, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return WebhookResult{}, domain.ErrInvalidInput.With("reason", "malformed stripe event").Wrap(err)
	}

	var outcome Outcome
	switch evt.Type {
	case "payment_intent.succeeded":
		outcome = OutcomeSucceeded
	case "payment_intent.payment_failed":
		outcome = OutcomeFailed
	default:
		return WebhookResult{Outcome: OutcomeIgnored}, nil
	}
	if evt.Data == nil {
		return WebhookResult{}, domain.ErrInvalidInput.With("reason", "stripe event without data")
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return WebhookResult{}, fmt.Errorf("decode payment intent: %w", err)
	}
	res := WebhookResult{IntentID: pi.ID, Outcome: outcome}
	if outcome == OutcomeSucceeded {
		captured := pi.AmountReceived
		if captured == 0 {
			captured = pi.Amount
		}
		if captured > 0 {
			res.Currency = strings.ToUpper(string(pi.Currency))
			res.Amount = fromMinorUnits(captured, res.Currency)
		}
	}
	if outcome == OutcomeFailed {
		res.FailureReason = "card payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			res.FailureReason = pi.LastPaymentError.Msg
		}
	}
	return res, nil
}

// toMinorUnits converts a decimal amount to the integer the card network
// charges, e.g. 12.34 NZD -> 1234.
func toMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(fees.MinorUnits(currency)).IntPart()
}

func fromMinorUnits(units int64, currency string) decimal.Decimal {
	return decimal.New(units, -fees.MinorUnits(currency))
}
