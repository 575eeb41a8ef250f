// Package seed loads a small demo catalog: one plan per rule kind, a week of
// evening sessions and two accounts.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

// ErrAlreadySeeded is returned when plans exist already.
var ErrAlreadySeeded = errors.New("catalog already seeded")

type Repos struct {
	Users       repository.UserRepository
	Plans       repository.MembershipPlanRepository
	Products    repository.ProductRepository
	Sessions    repository.CourseSessionRepository
	Memberships repository.MembershipRepository
}

type Result struct {
	MemberID string
	CoachID  string
	Plans    int
	Sessions int
}

const (
	MemberID = "member-1"
	CoachID  = "coach-1"
)

var plans = []struct {
	id, name string
	rules    model.BookingRules
	months   int
}{
	{"unlimited", "Unlimited", model.UnlimitedRules{}, 1},
	{"ten-pack", "Ten classes", model.CreditRules{InitialAmount: 10}, 3},
	{"twice-weekly", "Twice a week", model.MeteredRules{Period: model.PeriodWeek, Count: 2}, 1},
	{"open-gym", "Open gym", model.RestrictedAccessRules{}, 1},
}

// Seed writes the catalog. Sessions start tomorrow at 18:00 in loc. The member
// holds an active ten-pack starting today.
func Seed(ctx context.Context, r Repos, now time.Time, loc *time.Location) (*Result, error) {
	existing, err := r.Plans.ListAll(ctx, repository.NoTX)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	if len(existing) > 0 {
		return nil, ErrAlreadySeeded
	}

	byID := map[string]*model.MembershipPlan{}
	for _, p := range plans {
		plan, err := model.NewMembershipPlan(p.id, p.name, p.rules, p.months, "price_"+p.id)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", p.id, err)
		}
		if err := r.Plans.Save(ctx, repository.NoTX, plan); err != nil {
			return nil, fmt.Errorf("save plan %s: %w", p.id, err)
		}
		byID[p.id] = plan
	}

	if err := r.Products.Save(ctx, repository.NoTX, &model.Product{ID: "mat", Name: "Yoga mat", PriceRef: "price_mat", Stock: 20}); err != nil {
		return nil, fmt.Errorf("save product: %w", err)
	}

	local := now.In(loc)
	sessions := 0
	for d := 1; d <= 7; d++ {
		starts := time.Date(local.Year(), local.Month(), local.Day()+d, 18, 0, 0, 0, loc)
		s, err := model.NewCourseSession(fmt.Sprintf("s-%s", starts.Format("20060102")), "Evening flow", 12, starts, starts.Add(time.Hour))
		if err != nil {
			return nil, err
		}
		s.RegistrationDeadlineMinutes = 60
		s.CancellationDeadlineMinutes = 120
		s.Gated = d%2 == 0
		if err := r.Sessions.Save(ctx, repository.NoTX, s); err != nil {
			return nil, fmt.Errorf("save session %s: %w", s.ID, err)
		}
		sessions++
	}

	for id, role := range map[string]model.Role{MemberID: model.RoleMember, CoachID: model.RoleCoach} {
		u, err := model.NewUser(id, id+"@club.example", role)
		if err != nil {
			return nil, err
		}
		if err := r.Users.Save(ctx, repository.NoTX, u); err != nil {
			return nil, fmt.Errorf("save user %s: %w", id, err)
		}
	}

	start := model.DateOf(now, loc)
	plan := byID["ten-pack"]
	end := start.AddDate(0, plan.DurationMonths, -1)
	m, err := model.NewMembership("m-"+MemberID, MemberID, plan, model.MembershipStatusActive, start, end)
	if err != nil {
		return nil, err
	}
	if err := r.Memberships.Save(ctx, repository.NoTX, m); err != nil {
		return nil, fmt.Errorf("save membership: %w", err)
	}

	return &Result{MemberID: MemberID, CoachID: CoachID, Plans: len(plans), Sessions: sessions}, nil
}
