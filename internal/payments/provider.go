// Package payments turns an accepted quote into a provider payment intent and
// reconciles provider callbacks into confirmed payments and escrow holds.
package payments

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

// Outcome is what a provider callback says happened to an intent.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeIgnored covers callbacks that carry no final result.
	OutcomeIgnored Outcome = "ignored"
)

type IntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Reference      string
	IdempotencyKey string
	Metadata       map[string]string
	ReturnURL      string
}

type ProviderIntent struct {
	ID           string
	ClientSecret string
	RedirectURL  string
}

type WebhookResult struct {
	IntentID      string
	Outcome       Outcome
	FailureReason string
	// Amount and Currency are what the provider says it captured. Amount is
	// zero when the callback does not report one.
	Amount   decimal.Decimal
	Currency string
}

// Provider is one payment backend.
type Provider interface {
	Name() string
	Method() domain.PaymentMethod
	CreateIntent(ctx context.Context, req IntentRequest) (ProviderIntent, error)
	// SignatureHeader names the request header carrying the callback
	// signature, or "" when the provider does not sign callbacks.
	SignatureHeader() string
	VerifyWebhookSignature(payload []byte, signature string) bool
	ParseWebhook(ctx context.Context, payload []byte) (WebhookResult, error)
}

// registry looks providers up by case-insensitive name.
type registry map[string]Provider

func newRegistry(ps []Provider) registry {
	r := make(registry, len(ps))
	for _, p := range ps {
		if p != nil {
			r[strings.ToLower(p.Name())] = p
		}
	}
	return r
}

func (r registry) get(name string) (Provider, error) {
	p, ok := r[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, domain.ErrUnknownProvider.With("provider", name)
	}
	return p, nil
}
