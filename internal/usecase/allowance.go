package usecase

import (
	"context"
	"errors"
	"time"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/entitlement"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

// Usage is what a membership has used and has left for one session date.
type Usage struct {
	UsedInPeriod int
	Remaining    *int // nil for unlimited plans
	Window       *entitlement.Window
}

// AllowanceService hides how a plan keeps count. Credit plans store a
// balance and change it through the ledger; metered plans derive usage from
// registrations and check-ins and never write.
type AllowanceService interface {
	Remaining(ctx context.Context, tx repository.Tx, m *model.Membership, plan *model.MembershipPlan, sessionAt time.Time) (Usage, error)
	Consume(ctx context.Context, tx repository.Tx, m *model.Membership, plan *model.MembershipPlan, key string) error
	Restore(ctx context.Context, tx repository.Tx, originalKey, reason string) error
}

var _ AllowanceService = (*allowanceService)(nil)

type allowanceService struct {
	ledger        LedgerUseCase
	registrations repository.RegistrationRepository
	checkIns      repository.CheckInRepository
	loc           *time.Location
}

func NewAllowanceService(ledger LedgerUseCase, registrations repository.RegistrationRepository, checkIns repository.CheckInRepository, loc *time.Location) *allowanceService {
	if loc == nil {
		loc = time.UTC
	}
	return &allowanceService{ledger: ledger, registrations: registrations, checkIns: checkIns, loc: loc}
}

func (a *allowanceService) Remaining(ctx context.Context, tx repository.Tx, m *model.Membership, plan *model.MembershipPlan, sessionAt time.Time) (Usage, error) {
	switch r := plan.Rules.(type) {
	case model.CreditRules:
		left := m.Usage.RemainingCredits
		return Usage{Remaining: &left}, nil
	case model.MeteredRules:
		w := entitlement.MeteredWindow(r, m.StartDate, sessionAt, a.loc)
		booked, err := a.registrations.CountUserActiveBetween(ctx, tx, m.UserID, w.Start, w.End)
		if err != nil {
			return Usage{}, err
		}
		visits, err := a.checkIns.CountByUserBetween(ctx, tx, m.UserID, w.Start, w.End)
		if err != nil {
			return Usage{}, err
		}
		used := booked + visits
		left := r.Count - used
		if left < 0 {
			left = 0
		}
		return Usage{UsedInPeriod: used, Remaining: &left, Window: &w}, nil
	default:
		return Usage{}, nil
	}
}

func (a *allowanceService) Consume(ctx context.Context, tx repository.Tx, m *model.Membership, plan *model.MembershipPlan, key string) error {
	if _, ok := plan.Rules.(model.CreditRules); !ok {
		return nil
	}
	_, err := a.ledger.Debit(ctx, tx, m.ID, 1, key)
	return err
}

// Restore is a no-op when nothing was consumed under originalKey or when it
// was already restored.
func (a *allowanceService) Restore(ctx context.Context, tx repository.Tx, originalKey, reason string) error {
	_, err := a.ledger.Reverse(ctx, tx, originalKey, reason)
	return err
}

// gate gathers what the evaluator needs for one user and session.
type gate struct {
	memberships repository.MembershipRepository
	plans       repository.MembershipPlanRepository
	allowance   AllowanceService
	loc         *time.Location
}

type verdict struct {
	decision   entitlement.Decision
	membership *model.Membership
	plan       *model.MembershipPlan
}

// debits reports whether confirming the booking must consume allowance.
func (v verdict) debits() bool {
	return v.decision.Debit > 0 && v.membership != nil && v.plan != nil
}

// check evaluates user against s. holding means the user already has a
// non-cancelled row on s (a waitlist row being promoted); metered usage then
// leaves that row out so it is not counted against its own promotion.
func (g *gate) check(ctx context.Context, tx repository.Tx, user *model.User, s *model.CourseSession, now time.Time, registered int, holding bool) (verdict, error) {
	in := entitlement.Input{
		Session:         *s,
		AsOf:            now,
		Location:        g.loc,
		RegisteredCount: registered,
		ElevatedRole:    user.Elevated(),
	}
	var v verdict
	if !user.Elevated() {
		m, err := g.memberships.FindCurrentByUser(ctx, tx, user.ID)
		switch {
		case err == nil:
			plan, err := g.plans.FindByID(ctx, tx, m.PlanID)
			if err != nil {
				return v, err
			}
			usage, err := g.allowance.Remaining(ctx, tx, m, plan, s.StartsAt)
			if err != nil {
				return v, err
			}
			used := usage.UsedInPeriod
			if holding && usage.Window != nil && used > 0 {
				used--
			}
			in.Membership, in.Plan, in.UsedInPeriod = m, plan, used
			v.membership, v.plan = m, plan
		case errors.Is(err, domain.ErrNotFound):
		default:
			return v, err
		}
	}
	v.decision = entitlement.Evaluate(in)
	return v, nil
}
