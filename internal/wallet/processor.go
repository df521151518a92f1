// Package wallet pays released escrow funds out to tradies.
package wallet

import (
	"encoding/base32"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/fees"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

const (
	defaultEstimate = "1-3 business days"
	// referenceAttempts bounds retries when a generated reference collides.
	referenceAttempts = 3
)

type Dependencies struct {
	Store           store.Store
	Notifier        domain.Notifier
	Logger          *slog.Logger
	Now             func() time.Time
	DefaultCurrency string
	// EstimatedProcessingTime is shown to the payee on every new withdrawal.
	EstimatedProcessingTime string
}

type Processor struct {
	store    store.Store
	notifier domain.Notifier
	log      *slog.Logger
	nowFn    func() time.Time
	currency string
	estimate string
}

func NewProcessor(deps Dependencies) *Processor {
	p := &Processor{
		store:    deps.Store,
		notifier: deps.Notifier,
		log:      deps.Logger,
		nowFn:    deps.Now,
		currency: deps.DefaultCurrency,
		estimate: deps.EstimatedProcessingTime,
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.nowFn == nil {
		p.nowFn = time.Now
	}
	if p.currency == "" {
		p.currency = "NZD"
	}
	if p.estimate == "" {
		p.estimate = defaultEstimate
	}
	return p
}

func (p *Processor) now() time.Time { return p.nowFn().UTC() }

var refEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newReference returns WD-YYYYMMDD-XXXXXXXX: the UTC date and eight
// base32 characters of a random uuid.
func newReference(at time.Time) string {
	id := uuid.New()
	return "WD-" + at.UTC().Format("20060102") + "-" + refEncoding.EncodeToString(id[:5])
}

func withdrawalEvent(t domain.EventType, at time.Time, w domain.Withdrawal) domain.NotificationEvent {
	data := map[string]string{
		"withdrawal_id": w.ID,
		"reference":     w.Reference,
		"amount":        w.Amount.StringFixed(fees.MinorUnits(w.Currency)),
		"currency":      w.Currency,
		"status":        string(w.Status),
		"estimate":      w.EstimatedProcessingTime,
	}
	if w.FailureReason != "" {
		data["reason"] = w.FailureReason
	}
	return domain.NewEvent(t, at, w.Reference, data, w.PayeeID)
}
