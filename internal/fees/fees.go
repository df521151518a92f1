// Package fees splits a gross payment into platform fee, affiliate fee, tax
// withheld and the payee's net amount.
//
// Each fee component is rounded half-up to the currency's minor unit and the
// net amount is the exact remainder, so the four parts always sum back to the
// gross amount.
package fees

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
)

// minor-unit exponents that differ from the ISO 4217 default of 2.
var minorUnitOverrides = map[string]int32{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0,
	"BHD": 3, "KWD": 3, "JOD": 3, "OMR": 3, "TND": 3,
}

// MinorUnits returns the number of decimal places used by currency.
func MinorUnits(currency string) int32 {
	if n, ok := minorUnitOverrides[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return n
	}
	return 2
}

// ValidAmount reports whether amount is positive and carries no precision
// beyond the currency's minor unit.
func ValidAmount(amount decimal.Decimal, currency string) bool {
	if !amount.IsPositive() {
		return false
	}
	return amount.Equal(amount.Round(MinorUnits(currency)))
}

// Rates are fractions in [0, 1].
type Rates struct {
	Platform       decimal.Decimal `json:"platform"`
	Affiliate      decimal.Decimal `json:"affiliate"`
	TaxWithholding decimal.Decimal `json:"tax_withholding"`
}

// Validate fails with InvalidRate when any rate is outside [0, 1].
func (r Rates) Validate() error {
	for name, rate := range map[string]decimal.Decimal{
		"platform":        r.Platform,
		"affiliate":       r.Affiliate,
		"tax_withholding": r.TaxWithholding,
	} {
		if rate.LessThan(zero) || rate.GreaterThan(one) {
			return domain.ErrInvalidRate.With("rate", name).With("value", rate.String())
		}
	}
	return nil
}

// Breakdown is the result of Compute.
type Breakdown struct {
	Currency     string          `json:"currency"`
	Gross        decimal.Decimal `json:"gross"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	AffiliateFee decimal.Decimal `json:"affiliate_fee"`
	TaxWithheld  decimal.Decimal `json:"tax_withheld"`
	Net          decimal.Decimal `json:"net"`
}

// Total sums the four components; it always equals Gross.
func (b Breakdown) Total() decimal.Decimal {
	return b.PlatformFee.Add(b.AffiliateFee).Add(b.TaxWithheld).Add(b.Net)
}

// Compute splits gross according to rates. It has no side effects.
func Compute(gross decimal.Decimal, currency string, rates Rates) (Breakdown, error) {
	if !gross.IsPositive() {
		return Breakdown{}, domain.ErrInvalidAmount.With("amount", gross.String())
	}
	if err := rates.Validate(); err != nil {
		return Breakdown{}, err
	}
	places := MinorUnits(currency)
	out := Breakdown{
		Currency:     currency,
		Gross:        gross,
		PlatformFee:  gross.Mul(rates.Platform).Round(places),
		AffiliateFee: gross.Mul(rates.Affiliate).Round(places),
		TaxWithheld:  gross.Mul(rates.TaxWithholding).Round(places),
	}
	out.Net = gross.Sub(out.PlatformFee).Sub(out.AffiliateFee).Sub(out.TaxWithheld)
	if out.Net.IsNegative() {
		return Breakdown{}, domain.ErrInvalidRate.With("reason", "fees exceed gross amount")
	}
	return out, nil
}
