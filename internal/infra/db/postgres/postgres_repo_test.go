//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

func seedMember(t *testing.T, ctx context.Context) (*model.User, *model.MembershipPlan) {
	t.Helper()
	u, _ := model.NewUser("u-1", "member@example.com", model.RoleMember)
	if err := NewPostgresUserRepo(testPool).Save(ctx, nil, u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	plan, _ := model.NewMembershipPlan("plan-credits", "Ten Pack", model.CreditRules{InitialAmount: 10}, 3, "price_10")
	if err := NewPostgresPlanRepo(testPool).Save(ctx, nil, plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	return u, plan
}

func TestPlanRepo_Integration(t *testing.T) {
	ctx := context.Background()
	cleanup(t)
	_, plan := seedMember(t, ctx)

	got, err := NewPostgresPlanRepo(testPool).FindByID(ctx, nil, plan.ID)
	if err != nil {
		t.Fatalf("find plan: %v", err)
	}
	if r, ok := got.Rules.(model.CreditRules); !ok || r.InitialAmount != 10 {
		t.Errorf("rules not decoded, got %#v", got.Rules)
	}
	if _, err := NewPostgresPlanRepo(testPool).FindByID(ctx, nil, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMembershipRepo_VersionCAS(t *testing.T) {
	ctx := context.Background()
	cleanup(t)
	u, plan := seedMember(t, ctx)
	repo := NewPostgresMembershipRepo(testPool)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m, _ := model.NewMembership("m-1", u.ID, plan, model.MembershipStatusActive, start, start.AddDate(0, 3, -1))
	if err := repo.Save(ctx, nil, m); err != nil {
		t.Fatalf("save: %v", err)
	}

	m.Usage.RemainingCredits = 9
	ok, err := repo.UpdateIfVersion(ctx, nil, m, 1)
	if err != nil || !ok {
		t.Fatalf("first CAS: ok=%v err=%v", ok, err)
	}
	stale := *m
	stale.Usage.RemainingCredits = 8
	ok, err = repo.UpdateIfVersion(ctx, nil, &stale, 1)
	if err != nil || ok {
		t.Fatalf("stale CAS must miss: ok=%v err=%v", ok, err)
	}

	got, err := repo.FindActiveByUser(ctx, nil, u.ID)
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if got.Version != 2 || got.Usage.RemainingCredits != 9 {
		t.Errorf("unexpected row %+v", got)
	}

	second, _ := model.NewMembership("m-2", u.ID, plan, model.MembershipStatusActive, start, start.AddDate(0, 3, -1))
	if err := repo.Save(ctx, nil, second); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("second active membership must be rejected, got %v", err)
	}
}

func TestRegistrationRepo_SeatRankAndWaitlist(t *testing.T) {
	ctx := context.Background()
	cleanup(t)
	users := NewPostgresUserRepo(testPool)
	for _, id := range []string{"a", "b", "c"} {
		u, _ := model.NewUser(id, id+"@example.com", model.RoleMember)
		if err := users.Save(ctx, nil, u); err != nil {
			t.Fatalf("save user: %v", err)
		}
	}
	starts := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	s, _ := model.NewCourseSession("s-1", "Pilates", 1, starts, starts.Add(time.Hour))
	if err := NewPostgresSessionRepo(testPool).Save(ctx, nil, s); err != nil {
		t.Fatalf("save session: %v", err)
	}

	regs := NewPostgresRegistrationRepo(testPool)
	now := time.Now().UTC()
	for i, row := range []struct {
		id, user string
		status   model.RegistrationStatus
	}{
		{"r1", "a", model.RegistrationStatusRegistered},
		{"r2", "b", model.RegistrationStatusWaitlist},
		{"r3", "c", model.RegistrationStatusWaitlist},
	} {
		r, _ := model.NewRegistration(row.id, row.user, s.ID, nil, row.status, now.Add(time.Duration(i)*time.Second))
		if err := regs.Save(ctx, nil, r); err != nil {
			t.Fatalf("save registration: %v", err)
		}
	}

	dup, _ := model.NewRegistration("r4", "a", s.ID, nil, model.RegistrationStatusRegistered, now)
	if err := regs.Save(ctx, nil, dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("duplicate registration must be rejected, got %v", err)
	}

	if rank, err := regs.SeatRank(ctx, nil, s.ID, "r1"); err != nil || rank != 1 {
		t.Errorf("rank of r1 = %d, %v", rank, err)
	}
	if rank, err := regs.SeatRank(ctx, nil, s.ID, "r2"); err != nil || rank != 0 {
		t.Errorf("waitlisted row must have rank 0, got %d, %v", rank, err)
	}

	wl, err := regs.ListWaitlist(ctx, nil, s.ID, 5)
	if err != nil || len(wl) != 2 || wl[0].ID != "r2" {
		t.Fatalf("waitlist order wrong: %v %v", wl, err)
	}

	err = NewTxManager(testPool).WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := NewPostgresSessionRepo(testPool).LockByID(ctx, tx, s.ID); err != nil {
			return err
		}
		ok, err := regs.UpdateStatusIf(ctx, tx, "r1", model.RegistrationStatusRegistered, model.RegistrationStatusCancelled, model.CancelReasonUser, time.Now())
		if err != nil || !ok {
			t.Errorf("cancel r1: ok=%v err=%v", ok, err)
		}
		ok, err = regs.UpdateStatusIf(ctx, tx, "r1", model.RegistrationStatusRegistered, model.RegistrationStatusCancelled, model.CancelReasonUser, time.Now())
		if err != nil || ok {
			t.Errorf("second cancel must be a no-op: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if n, _ := regs.CountRegistered(ctx, nil, s.ID); n != 0 {
		t.Errorf("expected no registered rows, got %d", n)
	}
}

func TestProcessedEventRepo_Duplicate(t *testing.T) {
	ctx := context.Background()
	cleanup(t)
	repo := NewPostgresProcessedEventRepo(testPool)
	if err := repo.Insert(ctx, nil, &model.ProcessedEvent{EventID: "evt_1", EventType: "invoice.paid"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := repo.Insert(ctx, nil, &model.ProcessedEvent{EventID: "evt_1", EventType: "invoice.paid"}); !errors.Is(err, domain.ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent, got %v", err)
	}
}

func TestLedgerAndProduct_Integration(t *testing.T) {
	ctx := context.Background()
	cleanup(t)
	u, plan := seedMember(t, ctx)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m, _ := model.NewMembership("m-1", u.ID, plan, model.MembershipStatusActive, start, start.AddDate(0, 3, -1))
	if err := NewPostgresMembershipRepo(testPool).Save(ctx, nil, m); err != nil {
		t.Fatalf("save membership: %v", err)
	}

	ledger := NewPostgresLedgerRepo(testPool)
	e := &model.LedgerEntry{ID: "l-1", MembershipID: m.ID, IdempotencyKey: "debit:r1", Delta: -1, BalanceAfter: 9, Reason: "booking"}
	if err := ledger.Append(ctx, nil, e); err != nil {
		t.Fatalf("append: %v", err)
	}
	e2 := *e
	e2.ID = "l-2"
	if err := ledger.Append(ctx, nil, &e2); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("reused key must be rejected, got %v", err)
	}
	if got, err := ledger.FindByKey(ctx, nil, "debit:r1"); err != nil || got.BalanceAfter != 9 {
		t.Errorf("find by key: %+v %v", got, err)
	}

	products := NewPostgresProductRepo(testPool)
	if err := products.Save(ctx, nil, &model.Product{ID: "mat", Name: "Mat", Stock: 1}); err != nil {
		t.Fatalf("save product: %v", err)
	}
	if ok, err := products.DecrementStock(ctx, nil, "mat", 1); err != nil || !ok {
		t.Fatalf("first decrement: ok=%v err=%v", ok, err)
	}
	if ok, err := products.DecrementStock(ctx, nil, "mat", 1); err != nil || ok {
		t.Fatalf("stock must not go negative: ok=%v err=%v", ok, err)
	}
}
