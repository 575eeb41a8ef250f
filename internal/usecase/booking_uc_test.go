//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/adapter"
	"course-booking-engine/internal/domain/ports/repository"
	"course-booking-engine/internal/usecase"
)

var bookingNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func evening(d time.Time) time.Time { return d.Add(18 * time.Hour) }

func TestBookingUseCase_Credits(t *testing.T) {
	f := newFixture(t, bookingNow)
	f.user("u1", model.RoleMember)
	m := f.membership("u1", f.plan("ten", model.CreditRules{InitialAmount: 10}), 2)

	for i, d := range []int{4, 5} {
		s := f.session(fmt.Sprintf("s%d", i), 10, evening(day(2024, 3, d)))
		res, err := f.booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID})
		if err != nil {
			t.Fatalf("booking %d: %v", i, err)
		}
		if res.Status != usecase.BookStatusConfirmed || res.State != usecase.StateConfirmed {
			t.Fatalf("booking %d: got %+v", i, res)
		}
		if res.Remaining == nil || *res.Remaining != 1-i {
			t.Errorf("booking %d: remaining = %v, want %d", i, res.Remaining, 1-i)
		}
	}

	s := f.session("s2", 10, evening(day(2024, 3, 6)))
	res, err := f.booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID})
	if !errors.Is(err, domain.ErrNotEntitled) {
		t.Fatalf("expected ErrNotEntitled, got %v", err)
	}
	if res == nil || res.Status != usecase.BookStatusDenied || res.Reason != "no credits left (0)" || res.Kind != domain.KindNotEntitled {
		t.Fatalf("unexpected denial %+v", res)
	}
	if got := f.reload(m.ID).Usage.RemainingCredits; got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	if n, _ := f.store.Registrations().CountRegistered(f.ctx, nil, s.ID); n != 0 {
		t.Errorf("denied booking must not hold a seat, got %d", n)
	}
}

func TestBookingUseCase_MeteredMonthly(t *testing.T) {
	f := newFixture(t, bookingNow)
	f.user("u1", model.RoleMember)
	f.membership("u1", f.plan("twice", model.MeteredRules{Period: model.PeriodMonth, Count: 2}), 0)

	book := func(id string, at time.Time) (*usecase.BookResult, error) {
		s := f.session(id, 10, at)
		return f.booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID})
	}

	if _, err := book("mar-4", evening(day(2024, 3, 4))); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := f.booking.RecordCheckIn(f.ctx, "u1", evening(day(2024, 3, 2))); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	res, err := book("mar-20", evening(day(2024, 3, 20)))
	if !errors.Is(err, domain.ErrNotEntitled) || res.Reason != "limit reached (2/2)" {
		t.Fatalf("booking plus check-in use the period: got %+v, %v", res, err)
	}

	res, err = book("apr-2", evening(day(2024, 4, 2)))
	if err != nil || res.Status != usecase.BookStatusConfirmed {
		t.Fatalf("next period should be open: got %+v, %v", res, err)
	}
}

func TestBookingUseCase_BookCancelRoundTrip(t *testing.T) {
	f := newFixture(t, bookingNow)
	f.user("u1", model.RoleMember)
	m := f.membership("u1", f.plan("ten", model.CreditRules{InitialAmount: 10}), 1)
	s := f.session("s1", 5, evening(day(2024, 3, 6)))

	res, err := f.booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if got := f.reload(m.ID).Usage.RemainingCredits; got != 0 {
		t.Fatalf("balance after book = %d, want 0", got)
	}

	cres, err := f.booking.Cancel(f.ctx, res.RegistrationID, "u1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cres.Status != usecase.CancelStatusCancelled || !cres.Refunded {
		t.Errorf("unexpected cancel result %+v", cres)
	}
	if got := f.reload(m.ID).Usage.RemainingCredits; got != 1 {
		t.Errorf("balance after cancel = %d, want 1", got)
	}
	reg := f.registration(res.RegistrationID)
	if reg.Status != model.RegistrationStatusCancelled || reg.CancelReason != model.CancelReasonUser || reg.CancelledAt == nil {
		t.Errorf("registration not soft-cancelled: %+v", reg)
	}

	// cancelling twice does not refund twice
	if _, err := f.booking.Cancel(f.ctx, res.RegistrationID, "u1"); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if got := f.reload(m.ID).Usage.RemainingCredits; got != 1 {
		t.Errorf("balance after second cancel = %d, want 1", got)
	}

	again, err := f.booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID})
	if err != nil || again.Status != usecase.BookStatusConfirmed {
		t.Fatalf("rebooking after cancel: %+v, %v", again, err)
	}
	if again.RegistrationID == res.RegistrationID {
		t.Error("rebooking must create a new registration")
	}

	kinds := f.notifier.Kinds()
	want := []adapter.NotificationKind{adapter.NotifyBookingConfirmed, adapter.NotifyBookingCancelled, adapter.NotifyBookingConfirmed}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("notifications = %v, want %v", kinds, want)
	}
}

func TestBookingUseCase_Rules(t *testing.T) {
	t.Run("duplicate booking is rejected", func(t *testing.T) {
		f := newFixture(t, bookingNow)
		f.user("u1", model.RoleMember)
		f.membership("u1", f.plan("all", model.UnlimitedRules{}), 0)
		s := f.session("s1", 5, evening(day(2024, 3, 6)))
		if _, err := f.booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID}); err != nil {
			t.Fatalf("book: %v", err)
		}
		_, err := f.booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID})
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("registration deadline", func(t *testing.T) {
		f := newFixture(t, bookingNow)
		f.user("u1", model.RoleMember)
		f.membership("u1", f.plan("all", model.UnlimitedRules{}), 0)
		s := f.session("s1", 5, bookingNow.Add(30*time.Minute))
		s.RegistrationDeadlineMinutes = 60
		if err := f.store.Sessions().Save(f.ctx, nil, s); err != nil {
			t.Fatal(err)
		}
		res, err := f.booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID})
		if !errors.Is(err, domain.ErrDeadlinePassed) || res.Kind != domain.KindDeadlinePassed {
			t.Fatalf("expected deadline denial, got %+v, %v", res, err)
		}
	})

	t.Run("coach books without membership", func(t *testing.T) {
		f := newFixture(t, bookingNow)
		f.user("coach", model.RoleCoach)
		s := f.session("s1", 5, evening(day(2024, 3, 6)))
		res, err := f.booking.Book(f.ctx, usecase.BookRequest{UserID: "coach", SessionID: s.ID})
		if err != nil || res.Status != usecase.BookStatusConfirmed {
			t.Fatalf("got %+v, %v", res, err)
		}
	})

	t.Run("payment_failed membership is denied", func(t *testing.T) {
		f := newFixture(t, bookingNow)
		f.user("u1", model.RoleMember)
		m := f.membership("u1", f.plan("all", model.UnlimitedRules{}), 0)
		m.Status = model.MembershipStatusPaymentFailed
		if ok, err := f.store.Memberships().UpdateIfVersion(f.ctx, nil, m, m.Version); err != nil || !ok {
			t.Fatalf("update: %v", err)
		}
		s := f.session("s1", 5, evening(day(2024, 3, 6)))
		view, err := f.booking.CheckEntitlement(f.ctx, "u1", s.ID)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if view.Allow || view.Reason != "membership payment failed" {
			t.Errorf("unexpected view %+v", view)
		}
	})

	t.Run("cancel after the deadline", func(t *testing.T) {
		f := newFixture(t, bookingNow)
		f.user("u1", model.RoleMember)
		f.membership("u1", f.plan("all", model.UnlimitedRules{}), 0)
		s := f.session("s1", 5, evening(day(2024, 3, 6)))
		s.CancellationDeadlineMinutes = 24 * 60
		if err := f.store.Sessions().Save(f.ctx, nil, s); err != nil {
			t.Fatal(err)
		}
		res, err := f.booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID})
		if err != nil {
			t.Fatalf("book: %v", err)
		}
		f.now = evening(day(2024, 3, 5)).Add(time.Hour)
		cres, err := f.booking.Cancel(f.ctx, res.RegistrationID, "u1")
		if !errors.Is(err, domain.ErrDeadlinePassed) || cres.Status != usecase.CancelStatusDeadlinePassed {
			t.Fatalf("got %+v, %v", cres, err)
		}
		if r := f.registration(res.RegistrationID); r.Status != model.RegistrationStatusRegistered {
			t.Errorf("registration changed: %+v", r)
		}
	})

	t.Run("only the owner or staff may cancel", func(t *testing.T) {
		f := newFixture(t, bookingNow)
		f.user("u1", model.RoleMember)
		f.user("u2", model.RoleMember)
		f.user("admin", model.RoleAdmin)
		f.membership("u1", f.plan("all", model.UnlimitedRules{}), 0)
		s := f.session("s1", 5, evening(day(2024, 3, 6)))
		res, err := f.booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID})
		if err != nil {
			t.Fatalf("book: %v", err)
		}
		if _, err := f.booking.Cancel(f.ctx, res.RegistrationID, "u2"); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		if _, err := f.booking.Cancel(f.ctx, res.RegistrationID, "admin"); err != nil {
			t.Fatalf("admin cancel: %v", err)
		}
	})
}

// A failed debit after the seat was reserved releases the seat again.
func TestBookingUseCase_RollbackOnDebitFailure(t *testing.T) {
	f := newFixture(t, bookingNow)
	f.user("u1", model.RoleMember)
	m := f.membership("u1", f.plan("ten", model.CreditRules{InitialAmount: 10}), 3)
	s := f.session("s1", 5, evening(day(2024, 3, 6)))

	st := f.store
	repo := &MockMembershipRepo{MembershipRepo: st.Memberships()}
	repo.UpdateIfVersionFunc = func(ctx context.Context, tx repository.Tx, mm *model.Membership, expected int64) (bool, error) {
		return false, nil
	}
	log := newTestLogger()
	clock := usecase.WithClock(func() time.Time { return f.now })
	ledger := usecase.NewLedgerUseCase(st, repo, st.Ledger(), 3, log)
	allowance := usecase.NewAllowanceService(ledger, st.Registrations(), st.CheckIns(), time.UTC)
	booking := usecase.NewBookingUseCase(st, st.Users(), st.Sessions(), st.Registrations(), st.CheckIns(), st.Memberships(), st.Plans(),
		allowance, f.waitlist, f.notifier, log, clock)

	res, err := booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if res == nil || res.Status != usecase.BookStatusDenied || res.State != usecase.StateFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if n, _ := st.Registrations().CountRegistered(f.ctx, nil, s.ID); n != 0 {
		t.Errorf("seat still held after rollback: %d", n)
	}
	if got := f.reload(m.ID).Usage.RemainingCredits; got != 3 {
		t.Errorf("balance = %d, want 3", got)
	}
	if len(f.notifier.Sent) != 0 {
		t.Errorf("no confirmation expected, got %v", f.notifier.Kinds())
	}
}

// The member cancels after the debit but before the seat is confirmed. The
// debit is refunded once and the booking reports the conflict.
func TestBookingUseCase_CancelWhileConfirming(t *testing.T) {
	f := newFixture(t, bookingNow)
	f.user("u1", model.RoleMember)
	m := f.membership("u1", f.plan("ten", model.CreditRules{InitialAmount: 10}), 3)
	s := f.session("s1", 5, evening(day(2024, 3, 6)))

	st := f.store
	regs := &MockRegistrationRepo{RegistrationRepo: st.Registrations()}
	log := newTestLogger()
	clock := usecase.WithClock(func() time.Time { return f.now })
	booking := usecase.NewBookingUseCase(st, st.Users(), st.Sessions(), regs, st.CheckIns(), st.Memberships(), st.Plans(),
		f.allowance, f.waitlist, f.notifier, log, clock)

	var cancelled *usecase.CancelResult
	regs.SeatRankFunc = func(ctx context.Context, tx repository.Tx, sessionID, registrationID string) (int, error) {
		if cancelled == nil {
			var err error
			if cancelled, err = booking.Cancel(ctx, registrationID, "u1"); err != nil {
				t.Fatalf("cancel: %v", err)
			}
		}
		return regs.RegistrationRepo.SeatRank(ctx, tx, sessionID, registrationID)
	}

	res, err := booking.Book(f.ctx, usecase.BookRequest{UserID: "u1", SessionID: s.ID})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if res == nil || res.Status != usecase.BookStatusDenied || res.Kind != domain.KindConflict {
		t.Fatalf("unexpected result %+v", res)
	}
	if cancelled == nil || !cancelled.Refunded {
		t.Fatalf("unexpected cancel result %+v", cancelled)
	}
	if got := f.reload(m.ID).Usage.RemainingCredits; got != 3 {
		t.Errorf("balance = %d, want 3", got)
	}
	reg := f.registration(cancelled.RegistrationID)
	if reg.Status != model.RegistrationStatusCancelled || reg.CancelReason != model.CancelReasonUser {
		t.Errorf("unexpected registration %+v", reg)
	}
}

// Many members race for the single seat of a session: one wins.
func TestBookingUseCase_ConcurrentLastSeat(t *testing.T) {
	f := newFixture(t, bookingNow)
	plan := f.plan("all", model.UnlimitedRules{})
	const members = 10
	for i := 0; i < members; i++ {
		id := fmt.Sprintf("u%d", i)
		f.user(id, model.RoleMember)
		f.membership(id, plan, 0)
	}
	s := f.session("s1", 1, evening(day(2024, 3, 6)))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		confirmed int
		full      int
	)
	for i := 0; i < members; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.booking.Book(f.ctx, usecase.BookRequest{UserID: fmt.Sprintf("u%d", i), SessionID: s.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Status == usecase.BookStatusConfirmed:
				confirmed++
			case errors.Is(err, domain.ErrCapacityExceeded):
				full++
			default:
				t.Errorf("member %d: unexpected %+v, %v", i, res, err)
			}
		}(i)
	}
	wg.Wait()

	if confirmed != 1 || full != members-1 {
		t.Errorf("confirmed=%d full=%d", confirmed, full)
	}
	if n, _ := f.store.Registrations().CountRegistered(f.ctx, nil, s.ID); n != 1 {
		t.Errorf("registered = %d, want 1", n)
	}
}
