package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/domain/domaintest"
	"github.com/sudo-init-do/tradiehub/internal/fees"
	"github.com/sudo-init-do/tradiehub/internal/store"
	"github.com/sudo-init-do/tradiehub/internal/store/memory"
)

var (
	owner  = domain.Caller{UserID: "owner-1", Role: domain.RoleOwner}
	tradie = domain.Caller{UserID: "tradie-1", Role: domain.RoleTradie}
	other  = domain.Caller{UserID: "stranger", Role: domain.RoleOwner}
	admin  = domain.Caller{UserID: "admin-1", Role: domain.RoleAdmin}

	confirmedAt = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
)

func testSchedule() fees.Schedule {
	return fees.Schedule{
		PlatformFeeRate:    decimal.RequireFromString("0.10"),
		AffiliateFeeRate:   decimal.RequireFromString("0.02"),
		TaxWithholdingRate: decimal.RequireFromString("0.05"),
		ProtectionPeriod:   15 * 24 * time.Hour,
	}
}

type fixture struct {
	store    *memory.Store
	ledger   *Ledger
	clock    *domaintest.Clock
	recorder *domaintest.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := memory.New()
	s.PutUser(domain.User{ID: owner.UserID, Role: domain.RoleOwner})
	s.PutUser(domain.User{ID: tradie.UserID, Role: domain.RoleTradie})
	s.PutUser(domain.User{ID: "tradie-child", Role: domain.RoleTradie, ParentID: "tradie-parent"})
	clock := domaintest.NewClock(confirmedAt)
	rec := &domaintest.Recorder{}
	return fixture{
		store:    s,
		clock:    clock,
		recorder: rec,
		ledger: NewLedger(Dependencies{
			Store:    s,
			Notifier: rec,
			Schedule: testSchedule(),
			Now:      clock.Now,
		}),
	}
}

// open seeds an agreed project and opens an escrow for a confirmed payment.
func (f fixture) open(t *testing.T, projectID, payeeID, amount string) domain.EscrowAccount {
	t.Helper()
	f.store.PutProject(domain.Project{ID: projectID, OwnerID: owner.UserID, Status: domain.ProjectAgreed})
	at := f.clock.Now()
	p := domain.Payment{
		ID:               "pay-" + projectID,
		ProjectID:        projectID,
		QuoteID:          "q-" + projectID,
		PayerID:          owner.UserID,
		PayeeID:          payeeID,
		Amount:           decimal.RequireFromString(amount),
		Currency:         "NZD",
		Method:           domain.MethodCard,
		Provider:         "stripe",
		ProviderIntentID: "pi_" + projectID,
		Status:           domain.PaymentConfirmed,
		ConfirmedAt:      &at,
		CreatedAt:        at,
	}
	var (
		e      domain.EscrowAccount
		events []domain.NotificationEvent
	)
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		var err error
		e, events, err = f.ledger.OpenEscrow(ctx, tx, p)
		return err
	})
	if err != nil {
		t.Fatalf("open escrow: %v", err)
	}
	domain.NotifyAll(context.Background(), f.recorder, events)
	return e
}

func (f fixture) escrow(t *testing.T, id string) domain.EscrowAccount {
	t.Helper()
	e, err := f.ledger.Get(context.Background(), admin, id)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	return e
}

func (f fixture) projectStatus(t *testing.T, id string) domain.ProjectStatus {
	t.Helper()
	var p domain.Project
	_ = f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.GetProject(ctx, id)
		return err
	})
	return p.Status
}

func TestOpenEscrowBreakdown(t *testing.T) {
	f := newFixture(t)
	e := f.open(t, "p1", tradie.UserID, "1000")

	want := map[string]string{
		"gross":    "1000",
		"platform": "100",
		"affil":    "0",
		"tax":      "50",
		"net":      "850",
	}
	got := map[string]decimal.Decimal{
		"gross":    e.GrossAmount,
		"platform": e.PlatformFee,
		"affil":    e.AffiliateFee,
		"tax":      e.TaxWithheld,
		"net":      e.NetAmount,
	}
	for k, v := range want {
		if !got[k].Equal(decimal.RequireFromString(v)) {
			t.Errorf("%s = %s, want %s", k, got[k], v)
		}
	}
	if !e.Balanced() {
		t.Fatal("breakdown does not balance")
	}
	if e.Status != domain.EscrowHeld || e.AffiliateID != "" {
		t.Fatalf("escrow = %+v", e)
	}
	if !e.ProtectionEndDate.Equal(confirmedAt.Add(15 * 24 * time.Hour)) {
		t.Fatalf("protection end = %s", e.ProtectionEndDate)
	}
	if got := f.projectStatus(t, "p1"); got != domain.ProjectEscrowed {
		t.Fatalf("project status = %s, want escrowed", got)
	}
	if n := len(f.recorder.OfType(domain.EventEscrowOpened)); n != 1 {
		t.Fatalf("escrow.opened events = %d, want 1", n)
	}
}

func TestOpenEscrowAppliesAffiliateFeeForChildTradie(t *testing.T) {
	f := newFixture(t)
	e := f.open(t, "p1", "tradie-child", "1000")
	if e.AffiliateID != "tradie-parent" {
		t.Fatalf("affiliate = %q", e.AffiliateID)
	}
	if !e.AffiliateFee.Equal(decimal.NewFromInt(20)) || !e.NetAmount.Equal(decimal.NewFromInt(830)) {
		t.Fatalf("affiliate fee %s net %s", e.AffiliateFee, e.NetAmount)
	}
}

func TestOpenEscrowUnknownPayeeSkipsAffiliateFee(t *testing.T) {
	f := newFixture(t)
	e := f.open(t, "p1", "not-mirrored", "99.99")
	if !e.AffiliateFee.IsZero() || !e.Balanced() {
		t.Fatalf("escrow = %+v", e)
	}
}

func TestOpenEscrowRequiresAgreedProject(t *testing.T) {
	f := newFixture(t)
	f.store.PutProject(domain.Project{ID: "p1", OwnerID: owner.UserID, Status: domain.ProjectCancelled})
	at := confirmedAt
	p := domain.Payment{
		ID: "pay", ProjectID: "p1", PayerID: owner.UserID, PayeeID: tradie.UserID,
		Amount: decimal.NewFromInt(100), Currency: "NZD", Status: domain.PaymentConfirmed, ConfirmedAt: &at,
	}
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, _, err := f.ledger.OpenEscrow(ctx, tx, p)
		return err
	})
	if !errors.Is(err, domain.ErrInvalidProjectTransition) {
		t.Fatalf("err = %v, want InvalidProjectTransition", err)
	}
}

func TestReleaseOnExpiryAfterProtectionPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.open(t, "p1", tradie.UserID, "1000")

	f.clock.Set(confirmedAt.Add(14 * 24 * time.Hour))
	res, err := f.ledger.ReleaseOnExpiry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Released != 0 || f.escrow(t, e.ID).Status != domain.EscrowHeld {
		t.Fatalf("released before protection end: %+v", res)
	}

	sweepAt := confirmedAt.Add(16 * 24 * time.Hour)
	f.clock.Set(sweepAt)
	res, err = f.ledger.ReleaseOnExpiry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Released != 1 {
		t.Fatalf("sweep = %+v, want 1 released", res)
	}
	got := f.escrow(t, e.ID)
	if got.Status != domain.EscrowReleased || got.ReleasedBy != domain.SystemActor {
		t.Fatalf("escrow = %+v", got)
	}
	if got.ReleasedAt == nil || !got.ReleasedAt.Equal(sweepAt) {
		t.Fatalf("released_at = %v, want %s", got.ReleasedAt, sweepAt)
	}
	if s := f.projectStatus(t, "p1"); s != domain.ProjectReleased {
		t.Fatalf("project status = %s", s)
	}

	res, err = f.ledger.ReleaseOnExpiry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Released != 0 || res.Scanned != 0 {
		t.Fatalf("second sweep = %+v, want nothing", res)
	}
	if n := len(f.recorder.OfType(domain.EventEscrowReleased)); n != 1 {
		t.Fatalf("released events = %d, want 1", n)
	}
}

func TestReleaseOnExpirySkipsDisputed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	held := f.open(t, "p1", tradie.UserID, "500")
	disputed := f.open(t, "p2", tradie.UserID, "300")
	if _, err := f.ledger.OpenDispute(ctx, owner, disputed.ID, "leaking tap"); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(20 * 24 * time.Hour)
	res, err := f.ledger.ReleaseOnExpiry(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Released != 1 {
		t.Fatalf("sweep = %+v", res)
	}
	if f.escrow(t, held.ID).Status != domain.EscrowReleased {
		t.Fatal("held escrow not released")
	}
	if f.escrow(t, disputed.ID).Status != domain.EscrowDisputed {
		t.Fatal("disputed escrow was touched")
	}
}

func TestReleaseOnExpiryPagesThroughBatches(t *testing.T) {
	f := newFixture(t)
	f.ledger.batch = 2
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		f.open(t, id, tradie.UserID, "10")
	}
	f.clock.Advance(16 * 24 * time.Hour)
	res, err := f.ledger.ReleaseOnExpiry(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Released != 5 || res.Failed != 0 {
		t.Fatalf("sweep = %+v", res)
	}
}

func TestReleaseOnExpiryFailingRowsDoNotBlockLaterRows(t *testing.T) {
	f := newFixture(t)
	f.ledger.batch = 2
	// Two older escrows whose projects were never stored fail on every run.
	for _, id := range []string{"orphan-a", "orphan-b"} {
		f.store.PutEscrow(domain.EscrowAccount{
			ID:                id,
			PaymentID:         "pay-" + id,
			ProjectID:         "missing-" + id,
			OwnerID:           owner.UserID,
			PayeeID:           tradie.UserID,
			Currency:          "NZD",
			GrossAmount:       decimal.RequireFromString("10"),
			NetAmount:         decimal.RequireFromString("10"),
			Status:            domain.EscrowHeld,
			ProtectionEndDate: confirmedAt.Add(-time.Hour),
			CreatedAt:         confirmedAt.Add(-16 * 24 * time.Hour),
		})
	}
	good := f.open(t, "p-good", tradie.UserID, "100")
	f.clock.Advance(16 * 24 * time.Hour)

	res, err := f.ledger.ReleaseOnExpiry(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Scanned != 3 || res.Failed != 2 || res.Released != 1 {
		t.Fatalf("sweep = %+v", res)
	}
	if got := f.escrow(t, good.ID).Status; got != domain.EscrowReleased {
		t.Fatalf("good escrow status = %s, want released", got)
	}
}

func TestConcurrentSweepsReleaseOnce(t *testing.T) {
	f := newFixture(t)
	f.open(t, "p1", tradie.UserID, "10")
	f.open(t, "p2", tradie.UserID, "20")
	f.clock.Advance(16 * 24 * time.Hour)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.ReleaseOnExpiry(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			total += res.Released
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 2 {
		t.Fatalf("released %d times, want 2", total)
	}
}

func TestReleaseEarly(t *testing.T) {
	ctx := context.Background()

	t.Run("owner releases", func(t *testing.T) {
		f := newFixture(t)
		e := f.open(t, "p1", tradie.UserID, "1000")
		got, err := f.ledger.ReleaseEarly(ctx, owner, e.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.EscrowReleased || got.ReleasedBy != owner.UserID {
			t.Fatalf("escrow = %+v", got)
		}
		if _, err := f.ledger.ReleaseEarly(ctx, owner, e.ID); !errors.Is(err, domain.ErrAlreadyReleased) {
			t.Fatalf("second release err = %v", err)
		}
	})

	t.Run("only the owner", func(t *testing.T) {
		f := newFixture(t)
		e := f.open(t, "p1", tradie.UserID, "1000")
		for _, c := range []domain.Caller{tradie, other} {
			if _, err := f.ledger.ReleaseEarly(ctx, c, e.ID); !errors.Is(err, domain.ErrNotAuthorized) {
				t.Fatalf("%s: err = %v", c.UserID, err)
			}
		}
	})

	t.Run("project in protection", func(t *testing.T) {
		f := newFixture(t)
		e := f.open(t, "p1", tradie.UserID, "1000")
		_ = f.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.SetProjectStatus(ctx, "p1", []domain.ProjectStatus{domain.ProjectEscrowed}, domain.ProjectProtection, confirmedAt)
			return err
		})
		if _, err := f.ledger.ReleaseEarly(ctx, owner, e.ID); !errors.Is(err, domain.ErrProjectNotReleasable) {
			t.Fatalf("err = %v, want ProjectNotReleasable", err)
		}
	})

	t.Run("disputed", func(t *testing.T) {
		f := newFixture(t)
		e := f.open(t, "p1", tradie.UserID, "1000")
		if _, err := f.ledger.OpenDispute(ctx, tradie, e.ID, "not paid for extras"); err != nil {
			t.Fatal(err)
		}
		if _, err := f.ledger.ReleaseEarly(ctx, owner, e.ID); !errors.Is(err, domain.ErrAlreadyReleased) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestDisputeResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("release", func(t *testing.T) {
		f := newFixture(t)
		e := f.open(t, "p1", tradie.UserID, "1000")
		if _, err := f.ledger.OpenDispute(ctx, owner, e.ID, "unfinished"); err != nil {
			t.Fatal(err)
		}
		if _, err := f.ledger.ResolveDispute(ctx, owner, e.ID, Resolution{Outcome: domain.OutcomeRelease}); !errors.Is(err, domain.ErrNotAuthorized) {
			t.Fatalf("owner resolve err = %v", err)
		}
		got, err := f.ledger.ResolveDispute(ctx, admin, e.ID, Resolution{Outcome: domain.OutcomeRelease, Notes: "photos show completion"})
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.EscrowReleased || got.ReleasedBy != admin.UserID {
			t.Fatalf("escrow = %+v", got)
		}
		open, err := f.ledger.ListDisputes(ctx, admin, domain.DisputeOpen)
		if err != nil || len(open) != 0 {
			t.Fatalf("open disputes = %v, %v", open, err)
		}
		all, _ := f.ledger.ListDisputes(ctx, admin, "")
		if len(all) != 1 || all[0].Outcome != domain.OutcomeRelease || all[0].ResolvedBy != admin.UserID {
			t.Fatalf("disputes = %+v", all)
		}
		if len(f.recorder.OfType(domain.EventDisputeResolved)) != 1 || len(f.recorder.OfType(domain.EventEscrowReleased)) != 1 {
			t.Fatalf("events = %+v", f.recorder.Events())
		}
	})

	t.Run("reinstate returns to sweep", func(t *testing.T) {
		f := newFixture(t)
		e := f.open(t, "p1", tradie.UserID, "1000")
		if _, err := f.ledger.OpenDispute(ctx, tradie, e.ID, "owner unresponsive"); err != nil {
			t.Fatal(err)
		}
		got, err := f.ledger.ResolveDispute(ctx, admin, e.ID, Resolution{Outcome: domain.OutcomeReinstate})
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.EscrowHeld {
			t.Fatalf("status = %s", got.Status)
		}
		f.clock.Advance(16 * 24 * time.Hour)
		res, err := f.ledger.ReleaseOnExpiry(ctx)
		if err != nil || res.Released != 1 {
			t.Fatalf("sweep = %+v, %v", res, err)
		}
	})

	t.Run("rules", func(t *testing.T) {
		f := newFixture(t)
		e := f.open(t, "p1", tradie.UserID, "1000")
		if _, err := f.ledger.OpenDispute(ctx, other, e.ID, "nosy"); !errors.Is(err, domain.ErrNotAuthorized) {
			t.Fatalf("stranger dispute err = %v", err)
		}
		if _, err := f.ledger.OpenDispute(ctx, owner, e.ID, "  "); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("blank reason err = %v", err)
		}
		if _, err := f.ledger.ResolveDispute(ctx, admin, e.ID, Resolution{Outcome: domain.OutcomeRelease}); !errors.Is(err, domain.ErrEscrowNotDisputed) {
			t.Fatalf("resolve held err = %v", err)
		}
		if _, err := f.ledger.OpenDispute(ctx, owner, e.ID, "first"); err != nil {
			t.Fatal(err)
		}
		if _, err := f.ledger.OpenDispute(ctx, tradie, e.ID, "second"); !errors.Is(err, domain.ErrEscrowNotHeld) {
			t.Fatalf("second dispute err = %v", err)
		}
		if _, err := f.ledger.ResolveDispute(ctx, admin, e.ID, Resolution{Outcome: "refund"}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("bad outcome err = %v", err)
		}
	})
}

func TestNotifyExpiringSendsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "p1", tradie.UserID, "1000")

	n, err := f.ledger.NotifyExpiring(ctx, 48*time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("early notice = %d, %v", n, err)
	}
	f.clock.Advance(14 * 24 * time.Hour)
	if n, err = f.ledger.NotifyExpiring(ctx, 48*time.Hour); err != nil || n != 1 {
		t.Fatalf("notice = %d, %v", n, err)
	}
	if n, err = f.ledger.NotifyExpiring(ctx, 48*time.Hour); err != nil || n != 0 {
		t.Fatalf("repeat notice = %d, %v", n, err)
	}
	evts := f.recorder.OfType(domain.EventProtectionExpiring)
	if len(evts) != 1 || len(evts[0].Recipients) != 2 {
		t.Fatalf("events = %+v", evts)
	}
}

func TestVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.open(t, "p1", tradie.UserID, "1000")
	if _, err := f.ledger.Get(ctx, other, e.ID); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("stranger get err = %v", err)
	}
	list, err := f.ledger.ListForUser(ctx, tradie)
	if err != nil || len(list) != 1 {
		t.Fatalf("tradie list = %v, %v", list, err)
	}
	list, _ = f.ledger.ListForUser(ctx, other)
	if len(list) != 0 {
		t.Fatalf("stranger list = %v", list)
	}
}
