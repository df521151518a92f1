package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowDisputed EscrowStatus = "disputed"
)

// EscrowAccount holds the funds of one confirmed payment until release.
type EscrowAccount struct {
	ID                 string          `json:"id"`
	PaymentID          string          `json:"payment_id"`
	ProjectID          string          `json:"project_id"`
	OwnerID            string          `json:"owner_id"`
	PayeeID            string          `json:"payee_id"`
	AffiliateID        string          `json:"affiliate_id,omitempty"`
	Currency           string          `json:"currency"`
	GrossAmount        decimal.Decimal `json:"gross_amount"`
	PlatformFee        decimal.Decimal `json:"platform_fee"`
	AffiliateFee       decimal.Decimal `json:"affiliate_fee"`
	TaxWithheld        decimal.Decimal `json:"tax_withheld"`
	NetAmount          decimal.Decimal `json:"net_amount"`
	Status             EscrowStatus    `json:"status"`
	ProtectionEndDate  time.Time       `json:"protection_end_date"`
	ReleasedAt         *time.Time      `json:"released_at,omitempty"`
	ReleasedBy         string          `json:"released_by,omitempty"`
	ExpiryNoticeSentAt *time.Time      `json:"expiry_notice_sent_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Balanced reports whether the stored breakdown still sums to the gross.
func (e EscrowAccount) Balanced() bool {
	return e.GrossAmount.Sub(e.PlatformFee).Sub(e.AffiliateFee).Sub(e.TaxWithheld).Equal(e.NetAmount)
}

// Participant reports whether userID is the owner or the payee.
func (e EscrowAccount) Participant(userID string) bool {
	return userID != "" && (userID == e.OwnerID || userID == e.PayeeID)
}

type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

type DisputeOutcome string

const (
	// OutcomeRelease pays the tradie out immediately.
	OutcomeRelease DisputeOutcome = "release"
	// OutcomeReinstate returns the escrow to held; the expiry sweep applies again.
	OutcomeReinstate DisputeOutcome = "reinstate"
)

type Dispute struct {
	ID         string         `json:"id"`
	EscrowID   string         `json:"escrow_id"`
	RaisedBy   string         `json:"raised_by"`
	Reason     string         `json:"reason"`
	Status     DisputeStatus  `json:"status"`
	Outcome    DisputeOutcome `json:"outcome,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}
