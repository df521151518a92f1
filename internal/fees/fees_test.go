package fees

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeScenarioNoParent(t *testing.T) {
	got, err := Compute(dec("1000"), "NZD", Rates{Platform: dec("0.10"), TaxWithholding: dec("0.05")})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := map[string][2]decimal.Decimal{
		"platform":  {got.PlatformFee, dec("100.00")},
		"affiliate": {got.AffiliateFee, dec("0.00")},
		"tax":       {got.TaxWithheld, dec("50.00")},
		"net":       {got.Net, dec("850.00")},
	}
	for name, pair := range want {
		if !pair[0].Equal(pair[1]) {
			t.Errorf("%s = %s, want %s", name, pair[0], pair[1])
		}
	}
}

func TestComputeRoundsHalfUp(t *testing.T) {
	got, err := Compute(dec("0.05"), "NZD", Rates{Platform: dec("0.5")})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !got.PlatformFee.Equal(dec("0.03")) {
		t.Fatalf("platform fee = %s, want 0.03", got.PlatformFee)
	}
	if !got.Net.Equal(dec("0.02")) {
		t.Fatalf("net = %s, want 0.02", got.Net)
	}
}

func TestComputeZeroDecimalCurrency(t *testing.T) {
	got, err := Compute(dec("1005"), "JPY", Rates{Platform: dec("0.1"), TaxWithholding: dec("0.05")})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !got.PlatformFee.Equal(dec("101")) || !got.TaxWithheld.Equal(dec("50")) {
		t.Fatalf("unexpected breakdown %+v", got)
	}
	if !got.Total().Equal(got.Gross) {
		t.Fatalf("total %s != gross %s", got.Total(), got.Gross)
	}
}

func TestComputeConservesGross(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		gross := decimal.New(rng.Int63n(10_000_000)+1, -2)
		rates := Rates{
			Platform:       decimal.New(rng.Int63n(3000), -4),
			Affiliate:      decimal.New(rng.Int63n(1000), -4),
			TaxWithholding: decimal.New(rng.Int63n(3000), -4),
		}
		b, err := Compute(gross, "NZD", rates)
		if err != nil {
			t.Fatalf("compute(%s, %+v): %v", gross, rates, err)
		}
		if !b.Total().Equal(gross) {
			t.Fatalf("drift: gross %s total %s (%+v)", gross, b.Total(), b)
		}
		for _, part := range []decimal.Decimal{b.PlatformFee, b.AffiliateFee, b.TaxWithheld, b.Net} {
			if !part.Equal(part.Round(2)) {
				t.Fatalf("component %s exceeds minor-unit precision", part)
			}
		}
	}
}

func TestComputeErrors(t *testing.T) {
	tests := []struct {
		name  string
		gross decimal.Decimal
		rates Rates
		want  error
	}{
		{"zero gross", dec("0"), Rates{}, domain.ErrInvalidAmount},
		{"negative gross", dec("-10"), Rates{}, domain.ErrInvalidAmount},
		{"rate above one", dec("10"), Rates{Platform: dec("1.01")}, domain.ErrInvalidRate},
		{"negative rate", dec("10"), Rates{TaxWithholding: dec("-0.01")}, domain.ErrInvalidRate},
		{"rates exceed gross", dec("10"), Rates{Platform: dec("0.6"), TaxWithholding: dec("0.6")}, domain.ErrInvalidRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.gross, "NZD", tt.rates)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if domain.KindOf(err) != domain.KindValidation {
				t.Fatalf("kind = %s, want validation", domain.KindOf(err))
			}
		})
	}
}

func TestValidAmount(t *testing.T) {
	if !ValidAmount(dec("10.50"), "NZD") {
		t.Fatal("10.50 NZD should be valid")
	}
	if ValidAmount(dec("10.505"), "NZD") {
		t.Fatal("10.505 NZD should be invalid")
	}
	if ValidAmount(dec("10.5"), "JPY") {
		t.Fatal("10.5 JPY should be invalid")
	}
	if ValidAmount(dec("0"), "NZD") {
		t.Fatal("zero should be invalid")
	}
}

func TestScheduleRatesFor(t *testing.T) {
	s := Schedule{PlatformFeeRate: dec("0.1"), AffiliateFeeRate: dec("0.02"), TaxWithholdingRate: dec("0.05"), ProtectionPeriod: DefaultProtectionPeriod}
	if !s.RatesFor(false).Affiliate.IsZero() {
		t.Fatal("affiliate rate should be zero without a parent")
	}
	if !s.RatesFor(true).Affiliate.Equal(dec("0.02")) {
		t.Fatal("affiliate rate should apply with a parent")
	}
}

func TestLoadScheduleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fees.yaml")
	body := "fees:\n  platform_rate: \"0.08\"\n  tax_withholding_rate: \"0.105\"\nescrow:\n  protection_period_days: 7\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	base := Schedule{PlatformFeeRate: dec("0.1"), AffiliateFeeRate: dec("0.02"), TaxWithholdingRate: dec("0.05"), ProtectionPeriod: DefaultProtectionPeriod}
	got, err := LoadScheduleFile(path, base)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.PlatformFeeRate.Equal(dec("0.08")) || !got.TaxWithholdingRate.Equal(dec("0.105")) {
		t.Fatalf("rates not overlaid: %+v", got)
	}
	if !got.AffiliateFeeRate.Equal(dec("0.02")) {
		t.Fatalf("affiliate rate should keep base value, got %s", got.AffiliateFeeRate)
	}
	if got.ProtectionPeriod != 7*24*time.Hour {
		t.Fatalf("protection period = %s", got.ProtectionPeriod)
	}
}

func TestLoadScheduleFileRejectsBadRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fees.yaml")
	if err := os.WriteFile(path, []byte("fees:\n  platform_rate: \"1.5\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	base := Schedule{ProtectionPeriod: DefaultProtectionPeriod}
	if _, err := LoadScheduleFile(path, base); !errors.Is(err, domain.ErrInvalidRate) {
		t.Fatalf("err = %v, want invalid rate", err)
	}
}
