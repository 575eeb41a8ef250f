//go:build !integration

package entitlement

import (
	"testing"
	"time"

	"course-booking-engine/internal/domain/model"
)

func activeMembership(credits int) *model.Membership {
	return &model.Membership{
		ID:        "m1",
		UserID:    "u1",
		PlanID:    "p1",
		Status:    model.MembershipStatusActive,
		StartDate: day(2024, 1, 1),
		EndDate:   day(2024, 12, 31),
		Usage:     model.UsageData{RemainingCredits: credits},
	}
}

func sessionAt(at time.Time, capacity int) model.CourseSession {
	return model.CourseSession{ID: "s1", Capacity: capacity, StartsAt: at, EndsAt: at.Add(time.Hour)}
}

func planWith(r model.BookingRules) *model.MembershipPlan {
	return &model.MembershipPlan{ID: "p1", Name: "plan", Rules: r, DurationMonths: 12}
}

func TestEvaluate_RoleAndMembership(t *testing.T) {
	at := day(2024, 3, 6).Add(18 * time.Hour)

	t.Run("elevated role is allowed without membership", func(t *testing.T) {
		d := Evaluate(Input{Session: sessionAt(at, 10), AsOf: at, ElevatedRole: true})
		if d.Outcome != OutcomeAllow || d.Debit != 0 {
			t.Fatalf("got %+v", d)
		}
	})

	t.Run("no membership is denied", func(t *testing.T) {
		d := Evaluate(Input{Session: sessionAt(at, 10), AsOf: at})
		if d.Outcome != OutcomeDeny || d.Reason != ReasonNoMembership {
			t.Fatalf("got %+v", d)
		}
	})

	t.Run("payment_failed is treated as not active", func(t *testing.T) {
		m := activeMembership(5)
		m.Status = model.MembershipStatusPaymentFailed
		d := Evaluate(Input{Membership: m, Plan: planWith(model.UnlimitedRules{}), Session: sessionAt(at, 10), AsOf: at})
		if d.Outcome != OutcomeDeny || d.Reason != ReasonPaymentFailed {
			t.Fatalf("got %+v", d)
		}
	})

	t.Run("pending activation is denied", func(t *testing.T) {
		m := activeMembership(5)
		m.Status = model.MembershipStatusPendingActivation
		d := Evaluate(Input{Membership: m, Plan: planWith(model.UnlimitedRules{}), Session: sessionAt(at, 10), AsOf: at})
		if d.Outcome != OutcomeDeny {
			t.Fatalf("got %+v", d)
		}
	})

	t.Run("session after membership end is denied", func(t *testing.T) {
		m := activeMembership(5)
		m.EndDate = day(2024, 3, 5)
		d := Evaluate(Input{Membership: m, Plan: planWith(model.UnlimitedRules{}), Session: sessionAt(at, 10), AsOf: day(2024, 3, 1)})
		if d.Outcome != OutcomeDeny || d.Reason != ReasonNotCovered {
			t.Fatalf("got %+v", d)
		}
	})
}

func TestEvaluate_Rules(t *testing.T) {
	at := day(2024, 3, 6).Add(18 * time.Hour)

	t.Run("unlimited allows without debit", func(t *testing.T) {
		d := Evaluate(Input{Membership: activeMembership(0), Plan: planWith(model.UnlimitedRules{}), Session: sessionAt(at, 10), AsOf: at})
		if d.Outcome != OutcomeAllow || d.Debit != 0 {
			t.Fatalf("got %+v", d)
		}
	})

	t.Run("restricted access denies gated sessions", func(t *testing.T) {
		s := sessionAt(at, 10)
		s.Gated = true
		d := Evaluate(Input{Membership: activeMembership(0), Plan: planWith(model.RestrictedAccessRules{}), Session: s, AsOf: at})
		if d.Outcome != OutcomeDeny || d.Reason != ReasonGated {
			t.Fatalf("got %+v", d)
		}
		s.Gated = false
		d = Evaluate(Input{Membership: activeMembership(0), Plan: planWith(model.RestrictedAccessRules{}), Session: s, AsOf: at})
		if d.Outcome != OutcomeAllow {
			t.Fatalf("open session: got %+v", d)
		}
	})

	t.Run("credits debit one while balance lasts", func(t *testing.T) {
		d := Evaluate(Input{Membership: activeMembership(1), Plan: planWith(model.CreditRules{InitialAmount: 10}), Session: sessionAt(at, 10), AsOf: at})
		if d.Outcome != OutcomeAllowWithDebit || d.Debit != 1 || *d.Remaining != 1 {
			t.Fatalf("got %+v", d)
		}
		d = Evaluate(Input{Membership: activeMembership(0), Plan: planWith(model.CreditRules{InitialAmount: 10}), Session: sessionAt(at, 10), AsOf: at})
		if d.Outcome != OutcomeDeny || d.Reason != "no credits left (0)" {
			t.Fatalf("empty balance: got %+v", d)
		}
	})

	t.Run("metered denies at the limit with used/count", func(t *testing.T) {
		rules := model.MeteredRules{Period: model.PeriodMonth, Count: 8}
		d := Evaluate(Input{Membership: activeMembership(0), Plan: planWith(rules), Session: sessionAt(at, 10), AsOf: at, UsedInPeriod: 7})
		if d.Outcome != OutcomeAllowWithDebit || *d.Remaining != 1 || d.Window == nil {
			t.Fatalf("got %+v", d)
		}
		d = Evaluate(Input{Membership: activeMembership(0), Plan: planWith(rules), Session: sessionAt(at, 10), AsOf: at, UsedInPeriod: 8})
		if d.Outcome != OutcomeDeny || d.Reason != "limit reached (8/8)" {
			t.Fatalf("got %+v", d)
		}
	})
}

func TestEvaluate_FullSessionOffersWaitlist(t *testing.T) {
	at := day(2024, 3, 6).Add(18 * time.Hour)

	d := Evaluate(Input{Membership: activeMembership(3), Plan: planWith(model.CreditRules{}), Session: sessionAt(at, 2), AsOf: at, RegisteredCount: 2})
	if !d.CanWaitlist() || d.Allowed() {
		t.Fatalf("expected waitlist only, got %+v", d)
	}

	// not entitled and full stays a plain deny
	d = Evaluate(Input{Membership: activeMembership(0), Plan: planWith(model.CreditRules{}), Session: sessionAt(at, 2), AsOf: at, RegisteredCount: 2})
	if d.Outcome != OutcomeDeny {
		t.Fatalf("expected deny, got %+v", d)
	}

	d = Evaluate(Input{Session: sessionAt(at, 1), AsOf: at, RegisteredCount: 1, ElevatedRole: true})
	if !d.CanWaitlist() {
		t.Fatalf("elevated users still respect capacity, got %+v", d)
	}
}

// A member on a 2-per-week plan books Monday and Wednesday; Friday of the same
// ISO week is denied and the following Monday is allowed again.
func TestEvaluate_WeeklyMeteredScenario(t *testing.T) {
	rules := model.MeteredRules{Period: model.PeriodWeek, Count: 2}
	m := activeMembership(0)
	plan := planWith(rules)

	var booked []time.Time
	used := func(at time.Time) int {
		w := MeteredWindow(rules, m.StartDate, at, time.UTC)
		n := 0
		for _, b := range booked {
			if w.Contains(b) {
				n++
			}
		}
		return n
	}

	for _, at := range []time.Time{day(2024, 3, 4).Add(18 * time.Hour), day(2024, 3, 6).Add(18 * time.Hour)} {
		d := Evaluate(Input{Membership: m, Plan: plan, Session: sessionAt(at, 10), AsOf: at, UsedInPeriod: used(at)})
		if !d.Allowed() {
			t.Fatalf("%s should be allowed, got %+v", at.Weekday(), d)
		}
		booked = append(booked, at)
	}

	friday := day(2024, 3, 8).Add(18 * time.Hour)
	d := Evaluate(Input{Membership: m, Plan: plan, Session: sessionAt(friday, 10), AsOf: friday, UsedInPeriod: used(friday)})
	if d.Outcome != OutcomeDeny || d.Reason != "limit reached (2/2)" {
		t.Fatalf("friday: got %+v", d)
	}

	nextMonday := day(2024, 3, 11).Add(18 * time.Hour)
	d = Evaluate(Input{Membership: m, Plan: plan, Session: sessionAt(nextMonday, 10), AsOf: nextMonday, UsedInPeriod: used(nextMonday)})
	if !d.Allowed() {
		t.Fatalf("next monday: got %+v", d)
	}
}
