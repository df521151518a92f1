package fees

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultProtectionPeriod is the window between payment confirmation and
// automatic release.
const DefaultProtectionPeriod = 15 * 24 * time.Hour

// Schedule is the platform's configured fee policy.
type Schedule struct {
	PlatformFeeRate    decimal.Decimal
	AffiliateFeeRate   decimal.Decimal
	TaxWithholdingRate decimal.Decimal
	ProtectionPeriod   time.Duration
}

// RatesFor returns the rates applicable to a payee. The affiliate cut only
// applies when the payee has a referring parent.
func (s Schedule) RatesFor(hasParent bool) Rates {
	r := Rates{
		Platform:       s.PlatformFeeRate,
		TaxWithholding: s.TaxWithholdingRate,
	}
	if hasParent {
		r.Affiliate = s.AffiliateFeeRate
	}
	return r
}

// Validate checks the rates and the protection period.
func (s Schedule) Validate() error {
	if err := (Rates{Platform: s.PlatformFeeRate, Affiliate: s.AffiliateFeeRate, TaxWithholding: s.TaxWithholdingRate}).Validate(); err != nil {
		return err
	}
	if s.ProtectionPeriod <= 0 {
		return fmt.Errorf("protection period must be positive, got %s", s.ProtectionPeriod)
	}
	return nil
}

type scheduleFile struct {
	Fees struct {
		PlatformRate       *string `yaml:"platform_rate"`
		AffiliateRate      *string `yaml:"affiliate_rate"`
		TaxWithholdingRate *string `yaml:"tax_withholding_rate"`
	} `yaml:"fees"`
	Escrow struct {
		ProtectionPeriodDays *int `yaml:"protection_period_days"`
	} `yaml:"escrow"`
}

// LoadScheduleFile overlays the values present in a YAML file onto base.
// Rates are strings in the file so they stay exact.
func LoadScheduleFile(path string, base Schedule) (Schedule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Schedule{}, fmt.Errorf("read fee schedule: %w", err)
	}
	var f scheduleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Schedule{}, fmt.Errorf("parse fee schedule: %w", err)
	}
	out := base
	set := func(dst *decimal.Decimal, v *string, name string) error {
		if v == nil {
			return nil
		}
		d, err := decimal.NewFromString(*v)
		if err != nil {
			return fmt.Errorf("parse fee schedule %s: %w", name, err)
		}
		*dst = d
		return nil
	}
	if err := set(&out.PlatformFeeRate, f.Fees.PlatformRate, "platform_rate"); err != nil {
		return Schedule{}, err
	}
	if err := set(&out.AffiliateFeeRate, f.Fees.AffiliateRate, "affiliate_rate"); err != nil {
		return Schedule{}, err
	}
	if err := set(&out.TaxWithholdingRate, f.Fees.TaxWithholdingRate, "tax_withholding_rate"); err != nil {
		return Schedule{}, err
	}
	if f.Escrow.ProtectionPeriodDays != nil {
		out.ProtectionPeriod = time.Duration(*f.Escrow.ProtectionPeriodDays) * 24 * time.Hour
	}
	if err := out.Validate(); err != nil {
		return Schedule{}, err
	}
	return out, nil
}
