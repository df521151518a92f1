package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodBankRedirect PaymentMethod = "bank_redirect"
)

type PaymentStatus string

const (
	PaymentHeld      PaymentStatus = "held"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
)

// PaymentIntent records what was validated when checkout started, so the
// provider callback can be reconciled against it.
type PaymentIntent struct {
	ID           string          `json:"id"` // provider intent id
	Provider     string          `json:"provider"`
	Method       PaymentMethod   `json:"method"`
	ProjectID    string          `json:"project_id"`
	QuoteID      string          `json:"quote_id"`
	PayerID      string          `json:"payer_id"`
	PayeeID      string          `json:"payee_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	ClientSecret string          `json:"client_secret,omitempty"`
	RedirectURL  string          `json:"redirect_url,omitempty"`
	Status       IntentStatus    `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Payment is a captured (or failed) payment tied to one accepted quote.
type Payment struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	QuoteID          string          `json:"quote_id"`
	PayerID          string          `json:"payer_id"`
	PayeeID          string          `json:"payee_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Method           PaymentMethod   `json:"method"`
	Provider         string          `json:"provider"`
	ProviderIntentID string          `json:"provider_intent_id"`
	Status           PaymentStatus   `json:"status"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	ConfirmedAt      *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
