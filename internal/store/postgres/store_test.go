package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/db"
	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/domain/domaintest"
	"github.com/sudo-init-do/tradiehub/internal/escrow"
	"github.com/sudo-init-do/tradiehub/internal/fees"
	"github.com/sudo-init-do/tradiehub/internal/marketplace"
	"github.com/sudo-init-do/tradiehub/internal/payments"
	"github.com/sudo-init-do/tradiehub/internal/store"
	"github.com/sudo-init-do/tradiehub/internal/store/postgres"
	"github.com/sudo-init-do/tradiehub/internal/wallet"
)

// These tests run against a real database and are skipped unless
// TEST_DATABASE_URL points at one. Every test uses fresh ids so runs can
// share a database.
func skipIfNoDatabase(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL required")
	}
	return url
}

// testProvider approves every intent it creates.
type testProvider struct {
	mu sync.Mutex
	n  int
}

func (p *testProvider) Name() string                 { return "test" }
func (p *testProvider) Method() domain.PaymentMethod { return domain.MethodCard }
func (p *testProvider) SignatureHeader() string      { return "" }

func (p *testProvider) VerifyWebhookSignature([]byte, string) bool { return true }

func (p *testProvider) CreateIntent(context.Context, payments.IntentRequest) (payments.ProviderIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return payments.ProviderIntent{ID: fmt.Sprintf("pi_%s_%d", uuid.NewString()[:8], p.n)}, nil
}

func (p *testProvider) ParseWebhook(context.Context, []byte) (payments.WebhookResult, error) {
	return payments.WebhookResult{Outcome: payments.OutcomeIgnored}, nil
}

type env struct {
	store    *postgres.Store
	clock    *domaintest.Clock
	recorder *domaintest.Recorder
	quotes   *marketplace.Ledger
	escrow   *escrow.Ledger
	gateway  *payments.Gateway
	wallet   *wallet.Processor
	owner    domain.Caller
	tradie   domain.Caller
}

func newEnv(t *testing.T) env {
	t.Helper()
	url := skipIfNoDatabase(t)
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}

	st := postgres.New(pool)
	clock := domaintest.NewClock(time.Now().UTC().Truncate(time.Microsecond))
	rec := &domaintest.Recorder{}
	ledger := escrow.NewLedger(escrow.Dependencies{
		Store:    st,
		Notifier: rec,
		Now:      clock.Now,
		Schedule: fees.Schedule{
			PlatformFeeRate:    decimal.RequireFromString("0.10"),
			AffiliateFeeRate:   decimal.RequireFromString("0.02"),
			TaxWithholdingRate: decimal.RequireFromString("0.05"),
			ProtectionPeriod:   fees.DefaultProtectionPeriod,
		},
	})
	e := env{
		store:    st,
		clock:    clock,
		recorder: rec,
		escrow:   ledger,
		quotes:   marketplace.NewLedger(marketplace.Dependencies{Store: st, Notifier: rec, Now: clock.Now}),
		gateway: payments.NewGateway(payments.Dependencies{
			Store:           st,
			Escrow:          ledger,
			Notifier:        rec,
			Providers:       []payments.Provider{&testProvider{}},
			DefaultProvider: "test",
			Now:             clock.Now,
		}),
		wallet: wallet.NewProcessor(wallet.Dependencies{Store: st, Notifier: rec, Now: clock.Now}),
		owner:  domain.Caller{UserID: "owner-" + uuid.NewString(), Role: domain.RoleOwner},
		tradie: domain.Caller{UserID: "tradie-" + uuid.NewString(), Role: domain.RoleTradie},
	}
	e.mirror(t, e.owner)
	e.mirror(t, e.tradie)
	return e
}

func (e env) mirror(t *testing.T, c domain.Caller) {
	t.Helper()
	u := domain.User{ID: c.UserID, Email: c.UserID + "@example.com", Role: c.Role}
	if err := e.store.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("mirror %s: %v", c.UserID, err)
	}
}

func (e env) project(t *testing.T) domain.Project {
	t.Helper()
	p, err := e.quotes.CreateProject(context.Background(), e.owner, marketplace.CreateProjectInput{Description: "retile bathroom"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (e env) quote(t *testing.T, who domain.Caller, projectID, price string) domain.Quote {
	t.Helper()
	q, err := e.quotes.SubmitQuote(context.Background(), who, marketplace.SubmitQuoteInput{
		ProjectID: projectID,
		Price:     decimal.RequireFromString(price),
	})
	if err != nil {
		t.Fatalf("submit quote: %v", err)
	}
	return q
}

// checkout takes a fresh project to agreed and returns an unconfirmed intent.
func (e env) checkout(t *testing.T, price string) (domain.Project, payments.CreateIntentResult) {
	t.Helper()
	ctx := context.Background()
	p := e.project(t)
	q := e.quote(t, e.tradie, p.ID, price)
	if _, err := e.quotes.AcceptQuote(ctx, e.owner, q.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	res, err := e.gateway.CreateIntent(ctx, e.owner, payments.CreateIntentInput{
		ProjectID: p.ID,
		QuoteID:   q.ID,
		TradieID:  e.tradie.UserID,
		Amount:    q.Price,
		Currency:  q.Currency,
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	return p, res
}

func (e env) escrowsFor(t *testing.T, projectID string) []domain.EscrowAccount {
	t.Helper()
	var out []domain.EscrowAccount
	err := e.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		all, err := tx.ListEscrowsForUser(ctx, e.tradie.UserID)
		for _, a := range all {
			if a.ProjectID == projectID {
				out = append(out, a)
			}
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestPostgresUnmirroredOwnerIsNotFound(t *testing.T) {
	e := newEnv(t)
	ghost := domain.Caller{UserID: "ghost-" + uuid.NewString(), Role: domain.RoleOwner}
	_, err := e.quotes.CreateProject(context.Background(), ghost, marketplace.CreateProjectInput{Description: "fence"})
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("err = %v, want user not found", err)
	}
}

func TestPostgresConcurrentAcceptsHaveOneWinner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.project(t)
	var quotes []domain.Quote
	for i := 0; i < 6; i++ {
		tr := domain.Caller{UserID: fmt.Sprintf("tradie-%d-%s", i, uuid.NewString()), Role: domain.RoleTradie}
		e.mirror(t, tr)
		quotes = append(quotes, e.quote(t, tr, p.ID, fmt.Sprintf("%d00", 10+i)))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, q := range quotes {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.quotes.AcceptQuote(ctx, e.owner, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrProjectAlreadyAgreed), errors.Is(err, domain.ErrQuoteNotEditable), errors.Is(err, domain.ErrConflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(q.ID)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}

	all, err := e.quotes.ListQuotes(ctx, e.owner, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	accepted := 0
	for _, q := range all {
		switch q.Status {
		case domain.QuoteAccepted:
			accepted++
		case domain.QuotePending:
			t.Fatalf("quote %s still pending", q.ID)
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d", accepted)
	}
}

func TestPostgresDuplicateConfirmOpensOneEscrow(t *testing.T) {
	e := newEnv(t)
	p, res := e.checkout(t, "1000")

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pay, err := e.gateway.ConfirmIntent(context.Background(), "test", res.IntentID, payments.OutcomeSucceeded, "")
			if err != nil {
				t.Error(err)
				return
			}
			ids[i] = pay.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("payment ids differ: %v", ids)
		}
	}
	escrows := e.escrowsFor(t, p.ID)
	if len(escrows) != 1 {
		t.Fatalf("escrows = %d, want 1", len(escrows))
	}
	got := escrows[0]
	sum := got.PlatformFee.Add(got.AffiliateFee).Add(got.TaxWithheld).Add(got.NetAmount)
	if !sum.Equal(got.GrossAmount) || !got.GrossAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("breakdown does not add up: %+v", got)
	}
}

func TestPostgresSweepReleasesOnceAcrossConcurrentRuns(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p, res := e.checkout(t, "250")
	if _, err := e.gateway.ConfirmIntent(ctx, "test", res.IntentID, payments.OutcomeSucceeded, ""); err != nil {
		t.Fatal(err)
	}
	held := e.escrowsFor(t, p.ID)[0]

	e.clock.Advance(fees.DefaultProtectionPeriod + time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.escrow.ReleaseOnExpiry(ctx); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	released := 0
	for _, evt := range e.recorder.OfType(domain.EventEscrowReleased) {
		if evt.Reference == held.ID {
			released++
		}
	}
	if released != 1 {
		t.Fatalf("release events for %s = %d, want 1", held.ID, released)
	}
	if got := e.escrowsFor(t, p.ID)[0]; got.Status != domain.EscrowReleased || got.ReleasedBy != domain.SystemActor {
		t.Fatalf("escrow = %+v", got)
	}
}

func TestPostgresConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	var available decimal.Decimal
	for _, price := range []string{"600", "600"} {
		p, res := e.checkout(t, price)
		if _, err := e.gateway.ConfirmIntent(ctx, "test", res.IntentID, payments.OutcomeSucceeded, ""); err != nil {
			t.Fatal(err)
		}
		held := e.escrowsFor(t, p.ID)[0]
		if _, err := e.escrow.ReleaseEarly(ctx, e.owner, held.ID); err != nil {
			t.Fatalf("release: %v", err)
		}
		available = available.Add(held.NetAmount)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved decimal.Decimal
	)
	amount := decimal.NewFromInt(300)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.wallet.RequestWithdrawal(ctx, e.tradie, wallet.RequestInput{Amount: amount})
			switch {
			case err == nil:
				mu.Lock()
				reserved = reserved.Add(amount)
				mu.Unlock()
			case !errors.Is(err, domain.ErrInsufficientBalance):
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if reserved.GreaterThan(available) {
		t.Fatalf("reserved %s of %s available", reserved, available)
	}
	b, err := e.wallet.Balance(ctx, e.tradie, "", "NZD")
	if err != nil {
		t.Fatal(err)
	}
	if !b.Available.Equal(available.Sub(reserved)) || b.Available.GreaterThanOrEqual(amount) {
		t.Fatalf("balance = %+v, reserved %s of %s", b, reserved, available)
	}
}
