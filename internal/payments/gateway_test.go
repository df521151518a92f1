package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/domain/domaintest"
	"github.com/sudo-init-do/tradiehub/internal/escrow"
	"github.com/sudo-init-do/tradiehub/internal/fees"
	"github.com/sudo-init-do/tradiehub/internal/store"
	"github.com/sudo-init-do/tradiehub/internal/store/memory"
)

var (
	owner  = domain.Caller{UserID: "owner-1", Role: domain.RoleOwner}
	tradie = domain.Caller{UserID: "tradie-1", Role: domain.RoleTradie}
)

// fakeProvider hands out sequential intent ids and accepts callbacks
// signed with "ok".
type fakeProvider struct {
	mu       sync.Mutex
	n        int
	err      error
	requests []IntentRequest
}

func (f *fakeProvider) Name() string                 { return "fake" }
func (f *fakeProvider) Method() domain.PaymentMethod { return domain.MethodCard }
func (f *fakeProvider) SignatureHeader() string      { return "X-Fake-Signature" }

func (f *fakeProvider) CreateIntent(_ context.Context, req IntentRequest) (ProviderIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ProviderIntent{}, f.err
	}
	f.n++
	f.requests = append(f.requests, req)
	id := fmt.Sprintf("fk_%d", f.n)
	return ProviderIntent{ID: id, ClientSecret: id + "_secret"}, nil
}

func (f *fakeProvider) VerifyWebhookSignature(_ []byte, sig string) bool { return sig == "ok" }

func (f *fakeProvider) ParseWebhook(_ context.Context, payload []byte) (WebhookResult, error) {
	var body struct {
		Intent   string          `json:"intent"`
		Outcome  string          `json:"outcome"`
		Reason   string          `json:"reason"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return WebhookResult{}, err
	}
	return WebhookResult{
		IntentID:      body.Intent,
		Outcome:       Outcome(body.Outcome),
		FailureReason: body.Reason,
		Amount:        body.Amount,
		Currency:      body.Currency,
	}, nil
}

type fixture struct {
	store    *memory.Store
	gateway  *Gateway
	provider *fakeProvider
	recorder *domaintest.Recorder
	clock    *domaintest.Clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := memory.New()
	s.PutUser(domain.User{ID: tradie.UserID, Role: domain.RoleTradie})
	s.PutProject(domain.Project{ID: "p1", OwnerID: owner.UserID, Status: domain.ProjectAgreed})
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertQuote(ctx, domain.Quote{
			ID: "q1", ProjectID: "p1", TradieID: tradie.UserID,
			Price: decimal.RequireFromString("1000.00"), Currency: "NZD", Status: domain.QuoteAccepted,
		}); err != nil {
			return err
		}
		return tx.InsertQuote(ctx, domain.Quote{
			ID: "q2", ProjectID: "p1", TradieID: "tradie-2",
			Price: decimal.RequireFromString("900"), Currency: "NZD", Status: domain.QuoteRejected,
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	clock := domaintest.NewClock(time.Date(2025, 5, 2, 8, 0, 0, 0, time.UTC))
	rec := &domaintest.Recorder{}
	ledger := escrow.NewLedger(escrow.Dependencies{
		Store:    s,
		Notifier: rec,
		Now:      clock.Now,
		Schedule: fees.Schedule{
			PlatformFeeRate:    decimal.RequireFromString("0.10"),
			TaxWithholdingRate: decimal.RequireFromString("0.05"),
			ProtectionPeriod:   fees.DefaultProtectionPeriod,
		},
	})
	fp := &fakeProvider{}
	return fixture{
		store:    s,
		provider: fp,
		recorder: rec,
		clock:    clock,
		gateway: NewGateway(Dependencies{
			Store:           s,
			Escrow:          ledger,
			Notifier:        rec,
			Providers:       []Provider{fp},
			DefaultProvider: "fake",
			Now:             clock.Now,
		}),
	}
}

func (f fixture) checkout(t *testing.T) CreateIntentResult {
	t.Helper()
	res, err := f.gateway.CreateIntent(context.Background(), owner, CreateIntentInput{
		ProjectID: "p1",
		QuoteID:   "q1",
		TradieID:  tradie.UserID,
		Amount:    decimal.RequireFromString("1000"),
		Currency:  "nzd",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	return res
}

func (f fixture) read(t *testing.T, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := f.store.WithTx(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
}

func (f fixture) projectStatus(t *testing.T) domain.ProjectStatus {
	var p domain.Project
	f.read(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.GetProject(ctx, "p1")
		return err
	})
	return p.Status
}

func (f fixture) escrowsFor(t *testing.T, userID string) []domain.EscrowAccount {
	var out []domain.EscrowAccount
	f.read(t, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListEscrowsForUser(ctx, userID)
		return err
	})
	return out
}

func TestCreateIntent(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t)
	if res.IntentID != "fk_1" || res.ClientSecret != "fk_1_secret" || res.Provider != "fake" {
		t.Fatalf("result = %+v", res)
	}
	req := f.provider.requests[0]
	if !req.Amount.Equal(decimal.NewFromInt(1000)) || req.Currency != "NZD" || req.Metadata["payee_id"] != tradie.UserID {
		t.Fatalf("provider request = %+v", req)
	}
	f.read(t, func(ctx context.Context, tx store.Tx) error {
		pi, err := tx.LockIntent(ctx, "fake", "fk_1")
		if err != nil {
			return err
		}
		if pi.Status != domain.IntentCreated || pi.PayeeID != tradie.UserID || pi.QuoteID != "q1" {
			t.Errorf("intent = %+v", pi)
		}
		return nil
	})
}

func TestCreateIntentValidation(t *testing.T) {
	base := CreateIntentInput{ProjectID: "p1", QuoteID: "q1", Amount: decimal.NewFromInt(1000), Currency: "NZD"}
	tests := []struct {
		name   string
		caller domain.Caller
		mutate func(*CreateIntentInput)
		want   error
	}{
		{"payer is not owner", tradie, nil, domain.ErrPayerMismatch},
		{"amount differs", owner, func(in *CreateIntentInput) { in.Amount = decimal.NewFromInt(999) }, domain.ErrAmountMismatch},
		{"currency differs", owner, func(in *CreateIntentInput) { in.Currency = "AUD" }, domain.ErrAmountMismatch},
		{"quote rejected", owner, func(in *CreateIntentInput) { in.QuoteID = "q2"; in.Amount = decimal.NewFromInt(900) }, domain.ErrQuoteNotAccepted},
		{"wrong tradie", owner, func(in *CreateIntentInput) { in.TradieID = "tradie-2" }, domain.ErrInvalidInput},
		{"sub-cent amount", owner, func(in *CreateIntentInput) { in.Amount = decimal.RequireFromString("1000.001") }, domain.ErrInvalidAmount},
		{"zero amount", owner, func(in *CreateIntentInput) { in.Amount = decimal.Zero }, domain.ErrInvalidAmount},
		{"unknown provider", owner, func(in *CreateIntentInput) { in.Provider = "paypal" }, domain.ErrUnknownProvider},
		{"unknown project", owner, func(in *CreateIntentInput) { in.ProjectID = "nope" }, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := base
			if tt.mutate != nil {
				tt.mutate(&in)
			}
			_, err := f.gateway.CreateIntent(context.Background(), tt.caller, in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(f.provider.requests) != 0 {
				t.Fatal("provider called for an invalid checkout")
			}
		})
	}
}

func TestCreateIntentProviderFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.provider.err = domain.ProviderError("fake", true, errors.New("timeout"))
	_, err := f.gateway.CreateIntent(context.Background(), owner, CreateIntentInput{
		ProjectID: "p1", QuoteID: "q1", Amount: decimal.NewFromInt(1000), Currency: "NZD",
	})
	if !errors.Is(err, domain.ErrProviderFailure) || !domain.IsRetryable(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestConfirmIntentOpensEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t)

	p, err := f.gateway.ConfirmIntent(ctx, "fake", res.IntentID, OutcomeSucceeded, "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.PaymentConfirmed || p.ConfirmedAt == nil || p.PayeeID != tradie.UserID {
		t.Fatalf("payment = %+v", p)
	}
	if s := f.projectStatus(t); s != domain.ProjectEscrowed {
		t.Fatalf("project = %s", s)
	}
	escrows := f.escrowsFor(t, tradie.UserID)
	if len(escrows) != 1 || !escrows[0].NetAmount.Equal(decimal.NewFromInt(850)) || escrows[0].PaymentID != p.ID {
		t.Fatalf("escrows = %+v", escrows)
	}
	if len(f.recorder.OfType(domain.EventPaymentConfirmed)) != 1 || len(f.recorder.OfType(domain.EventEscrowOpened)) != 1 {
		t.Fatalf("events = %+v", f.recorder.Events())
	}

	f.recorder.Reset()
	again, err := f.gateway.ConfirmIntent(ctx, "fake", res.IntentID, OutcomeSucceeded, "")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != p.ID {
		t.Fatalf("repeat returned payment %s, want %s", again.ID, p.ID)
	}
	if n := len(f.recorder.Events()); n != 0 {
		t.Fatalf("repeat emitted %d events", n)
	}
	if n := len(f.escrowsFor(t, tradie.UserID)); n != 1 {
		t.Fatalf("escrows after repeat = %d", n)
	}
}

func TestConfirmIntentConcurrentCallbacks(t *testing.T) {
	f := newFixture(t)
	res := f.checkout(t)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.gateway.ConfirmIntent(context.Background(), "fake", res.IntentID, OutcomeSucceeded, "")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = p.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("payment ids differ: %v", ids)
		}
	}
	if n := len(f.escrowsFor(t, tradie.UserID)); n != 1 {
		t.Fatalf("escrows = %d, want 1", n)
	}
}

func TestConfirmIntentFailureThenRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t)

	failed, err := f.gateway.ConfirmIntent(ctx, "fake", res.IntentID, OutcomeFailed, "card declined")
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != domain.PaymentFailed || failed.FailureReason != "card declined" {
		t.Fatalf("payment = %+v", failed)
	}
	if s := f.projectStatus(t); s != domain.ProjectAgreed {
		t.Fatalf("project = %s after failure", s)
	}
	if len(f.recorder.OfType(domain.EventPaymentFailed)) != 1 {
		t.Fatal("no payment.failed event")
	}

	ok, err := f.gateway.ConfirmIntent(ctx, "fake", res.IntentID, OutcomeSucceeded, "")
	if err != nil {
		t.Fatal(err)
	}
	if ok.ID != failed.ID || ok.Status != domain.PaymentConfirmed || ok.FailureReason != "" {
		t.Fatalf("payment = %+v", ok)
	}
	if s := f.projectStatus(t); s != domain.ProjectEscrowed {
		t.Fatalf("project = %s", s)
	}
}

func TestConfirmIntentSecondPaymentForProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.checkout(t)
	second := f.checkout(t)

	if _, err := f.gateway.ConfirmIntent(ctx, "fake", first.IntentID, OutcomeSucceeded, ""); err != nil {
		t.Fatal(err)
	}
	dup, err := f.gateway.ConfirmIntent(ctx, "fake", second.IntentID, OutcomeSucceeded, "")
	if err != nil {
		t.Fatal(err)
	}
	if dup.Status != domain.PaymentFailed || dup.FailureReason != reasonDuplicatePayment {
		t.Fatalf("duplicate = %+v", dup)
	}
	if n := len(f.escrowsFor(t, tradie.UserID)); n != 1 {
		t.Fatalf("escrows = %d, want 1", n)
	}

	// Checkout is closed once the project is paid.
	_, err = f.gateway.CreateIntent(ctx, owner, CreateIntentInput{
		ProjectID: "p1", QuoteID: "q1", Amount: decimal.NewFromInt(1000), Currency: "NZD",
	})
	if !errors.Is(err, domain.ErrProjectAlreadyPaid) {
		t.Fatalf("checkout after payment err = %v", err)
	}
}

func TestConfirmIntentForCancelledProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.checkout(t)
	f.read(t, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.SetProjectStatus(ctx, "p1", []domain.ProjectStatus{domain.ProjectAgreed}, domain.ProjectCancelled, f.clock.Now())
		return err
	})

	p, err := f.gateway.ConfirmIntent(ctx, "fake", res.IntentID, OutcomeSucceeded, "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.PaymentFailed || p.FailureReason != reasonProjectClosed {
		t.Fatalf("payment = %+v", p)
	}
	if s := f.projectStatus(t); s != domain.ProjectCancelled {
		t.Fatalf("project = %s", s)
	}
}

func TestHandleWebhook(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature", func(t *testing.T) {
		f := newFixture(t)
		res := f.checkout(t)
		body := []byte(`{"intent":"` + res.IntentID + `","outcome":"succeeded"}`)
		if err := f.gateway.HandleWebhook(ctx, "fake", body, "forged"); !errors.Is(err, domain.ErrInvalidSignature) {
			t.Fatalf("err = %v", err)
		}
		if s := f.projectStatus(t); s != domain.ProjectAgreed {
			t.Fatalf("project = %s", s)
		}
	})

	t.Run("confirms", func(t *testing.T) {
		f := newFixture(t)
		res := f.checkout(t)
		body := []byte(`{"intent":"` + res.IntentID + `","outcome":"succeeded"}`)
		if err := f.gateway.HandleWebhook(ctx, "FAKE", body, "ok"); err != nil {
			t.Fatal(err)
		}
		if s := f.projectStatus(t); s != domain.ProjectEscrowed {
			t.Fatalf("project = %s", s)
		}
	})

	t.Run("captured amount matches", func(t *testing.T) {
		f := newFixture(t)
		res := f.checkout(t)
		body := []byte(`{"intent":"` + res.IntentID + `","outcome":"succeeded","amount":"1000.00","currency":"nzd"}`)
		if err := f.gateway.HandleWebhook(ctx, "fake", body, "ok"); err != nil {
			t.Fatal(err)
		}
		if s := f.projectStatus(t); s != domain.ProjectEscrowed {
			t.Fatalf("project = %s", s)
		}
	})

	t.Run("captured amount differs", func(t *testing.T) {
		f := newFixture(t)
		res := f.checkout(t)
		for _, body := range []string{
			`{"intent":"` + res.IntentID + `","outcome":"succeeded","amount":"10.00","currency":"NZD"}`,
			`{"intent":"` + res.IntentID + `","outcome":"succeeded","amount":"1000.00","currency":"AUD"}`,
		} {
			if err := f.gateway.HandleWebhook(ctx, "fake", []byte(body), "ok"); !errors.Is(err, domain.ErrAmountMismatch) {
				t.Fatalf("err = %v, want amount mismatch", err)
			}
		}
		if s := f.projectStatus(t); s != domain.ProjectAgreed {
			t.Fatalf("project = %s", s)
		}
		if n := len(f.escrowsFor(t, tradie.UserID)); n != 0 {
			t.Fatalf("escrows = %d, want 0", n)
		}
	})

	t.Run("unknown intent acknowledged", func(t *testing.T) {
		f := newFixture(t)
		body := []byte(`{"intent":"fk_404","outcome":"succeeded"}`)
		if err := f.gateway.HandleWebhook(ctx, "fake", body, "ok"); err != nil {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("ignored outcome", func(t *testing.T) {
		f := newFixture(t)
		body := []byte(`{"intent":"fk_1","outcome":"ignored"}`)
		if err := f.gateway.HandleWebhook(ctx, "fake", body, "ok"); err != nil {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := newFixture(t)
		if err := f.gateway.HandleWebhook(ctx, "paypal", nil, ""); !errors.Is(err, domain.ErrUnknownProvider) {
			t.Fatalf("err = %v", err)
		}
	})
}
