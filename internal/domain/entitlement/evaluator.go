// Package entitlement decides whether a member may book a session. It is pure:
// callers load state and pass the clock in.
package entitlement

import (
	"fmt"
	"time"

	"course-booking-engine/internal/domain/model"
)

type Outcome string

const (
	OutcomeAllow             Outcome = "allow"
	OutcomeAllowWithDebit    Outcome = "allow_with_debit"
	OutcomeDeny              Outcome = "deny"
	OutcomeAllowWaitlistOnly Outcome = "allow_waitlist_only"
)

const (
	ReasonNoMembership  = "no valid membership"
	ReasonNotActive     = "membership is not active"
	ReasonPaymentFailed = "membership payment failed"
	ReasonNotCovered    = "membership does not cover the session date"
	ReasonExpired       = "membership expired"
	ReasonGated         = "plan does not include this session type"
	ReasonSessionFull   = "session is full"
)

type Input struct {
	Membership *model.Membership // nil when the user has none
	Plan       *model.MembershipPlan
	Session    model.CourseSession
	AsOf       time.Time
	Location   *time.Location

	RegisteredCount int
	// UsedInPeriod is the member's metered usage in the window of the
	// session date, see MeteredWindow.
	UsedInPeriod int
	ElevatedRole bool
}

type Decision struct {
	Outcome   Outcome
	Debit     int
	Reason    string
	Remaining *int
	Window    *Window
}

func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow || d.Outcome == OutcomeAllowWithDebit
}

// CanWaitlist is true when the member is entitled but no seat is free.
func (d Decision) CanWaitlist() bool { return d.Outcome == OutcomeAllowWaitlistOnly }

// Evaluate applies the plan's booking rules and then the seat check.
func Evaluate(in Input) Decision {
	d := evaluateRules(in)
	if d.Allowed() && in.RegisteredCount >= in.Session.Capacity {
		d.Outcome = OutcomeAllowWaitlistOnly
		if d.Reason == "" {
			d.Reason = ReasonSessionFull
		}
	}
	return d
}

func evaluateRules(in Input) Decision {
	if in.ElevatedRole {
		return Decision{Outcome: OutcomeAllow}
	}
	m := in.Membership
	if m == nil || in.Plan == nil {
		return deny(ReasonNoMembership)
	}
	switch m.Status {
	case model.MembershipStatusActive:
	case model.MembershipStatusPaymentFailed:
		return deny(ReasonPaymentFailed)
	default:
		return deny(ReasonNotActive)
	}
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	if model.DateOf(in.AsOf, loc).After(model.CalendarDay(m.EndDate, loc)) {
		return deny(ReasonExpired)
	}
	if !m.Covers(in.Session.StartsAt, loc) {
		return deny(ReasonNotCovered)
	}

	switch r := in.Plan.Rules.(type) {
	case model.UnlimitedRules:
		return Decision{Outcome: OutcomeAllow}
	case model.RestrictedAccessRules:
		if in.Session.Gated {
			return deny(ReasonGated)
		}
		return Decision{Outcome: OutcomeAllow}
	case model.CreditRules:
		balance := m.Usage.RemainingCredits
		if balance < 1 {
			d := deny(fmt.Sprintf("no credits left (%d)", balance))
			d.Remaining = intPtr(balance)
			return d
		}
		return Decision{Outcome: OutcomeAllowWithDebit, Debit: 1, Remaining: intPtr(balance)}
	case model.MeteredRules:
		w := MeteredWindow(r, m.StartDate, in.Session.StartsAt, loc)
		left := r.Count - in.UsedInPeriod
		if left < 0 {
			left = 0
		}
		if in.UsedInPeriod >= r.Count {
			d := deny(fmt.Sprintf("limit reached (%d/%d)", in.UsedInPeriod, r.Count))
			d.Remaining, d.Window = intPtr(left), &w
			return d
		}
		return Decision{Outcome: OutcomeAllowWithDebit, Debit: 1, Remaining: intPtr(left), Window: &w}
	default:
		return deny(ReasonNoMembership)
	}
}

func deny(reason string) Decision { return Decision{Outcome: OutcomeDeny, Reason: reason} }

func intPtr(v int) *int { return &v }
