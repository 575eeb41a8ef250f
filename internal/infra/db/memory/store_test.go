//go:build !integration

package memory

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

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := s.Events().Insert(ctx, tx, &model.ProcessedEvent{EventID: "evt_1", EventType: "invoice.paid"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	// the insert was undone, so the id is free again
	if err := s.Events().Insert(ctx, nil, &model.ProcessedEvent{EventID: "evt_1"}); err != nil {
		t.Fatalf("expected rolled back insert, got %v", err)
	}
	if err := s.Events().Insert(ctx, nil, &model.ProcessedEvent{EventID: "evt_1"}); !errors.Is(err, domain.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
}

func TestMembershipRepo_OneActivePerUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	plan := &model.MembershipPlan{ID: "p", Name: "Unlimited", Rules: model.UnlimitedRules{}, DurationMonths: 1}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a, _ := model.NewMembership("a", "u", plan, model.MembershipStatusActive, start, start.AddDate(0, 1, -1))
	b, _ := model.NewMembership("b", "u", plan, model.MembershipStatusPendingActivation, start, start.AddDate(0, 1, -1))
	if err := s.Memberships().Save(ctx, nil, a); err != nil {
		t.Fatal(err)
	}
	if err := s.Memberships().Save(ctx, nil, b); err != nil {
		t.Fatal(err)
	}

	b.Status = model.MembershipStatusActive
	if _, err := s.Memberships().UpdateIfVersion(ctx, nil, b, 1); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("activating a second membership must fail, got %v", err)
	}

	a.Status = model.MembershipStatusUpgraded
	if ok, err := s.Memberships().UpdateIfVersion(ctx, nil, a, 1); err != nil || !ok {
		t.Fatalf("retire a: ok=%v err=%v", ok, err)
	}
	if ok, err := s.Memberships().UpdateIfVersion(ctx, nil, b, 1); err != nil || !ok {
		t.Fatalf("activate b: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.Memberships().UpdateIfVersion(ctx, nil, b, 1); ok {
		t.Fatal("stale version must not match")
	}
}

func TestRegistrationRepo_Ordering(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"r3", "r1", "r2"} {
		status := model.RegistrationStatusWaitlist
		if id == "r3" {
			status = model.RegistrationStatusRegistered
		}
		r, _ := model.NewRegistration(id, "u"+id, "s", nil, status, base.Add(time.Duration(i)*time.Minute))
		if err := s.Registrations().Save(ctx, nil, r); err != nil {
			t.Fatal(err)
		}
	}
	wl, _ := s.Registrations().ListWaitlist(ctx, nil, "s", 10)
	if len(wl) != 2 || wl[0].ID != "r1" || wl[1].ID != "r2" {
		t.Fatalf("waitlist not FIFO: %+v", wl)
	}
	if rank, _ := s.Registrations().SeatRank(ctx, nil, "s", "r3"); rank != 1 {
		t.Errorf("rank = %d, want 1", rank)
	}
	if rank, _ := s.Registrations().SeatRank(ctx, nil, "s", "r1"); rank != 0 {
		t.Errorf("waitlisted rank = %d, want 0", rank)
	}
}
