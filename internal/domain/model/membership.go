package model

import (
	"time"

	"course-booking-engine/internal/domain"
)

type MembershipStatus string

const (
	MembershipStatusPendingActivation MembershipStatus = "pending_activation"
	MembershipStatusActive            MembershipStatus = "active"
	MembershipStatusPaymentFailed     MembershipStatus = "payment_failed"
	MembershipStatusCancelled         MembershipStatus = "cancelled"
	MembershipStatusSuperseded        MembershipStatus = "superseded"
	MembershipStatusUpgraded          MembershipStatus = "upgraded"
)

var membershipTransitions = map[MembershipStatus][]MembershipStatus{
	MembershipStatusPendingActivation: {MembershipStatusActive, MembershipStatusCancelled},
	MembershipStatusActive: {
		MembershipStatusPaymentFailed, MembershipStatusCancelled,
		MembershipStatusSuperseded, MembershipStatusUpgraded,
	},
	MembershipStatusPaymentFailed: {
		MembershipStatusActive, MembershipStatusCancelled,
		MembershipStatusSuperseded, MembershipStatusUpgraded,
	},
}

// CanTransition reports whether a membership may move from one status to another.
func CanTransition(from, to MembershipStatus) bool {
	for _, s := range membershipTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal statuses are never left again.
func (s MembershipStatus) Terminal() bool {
	return s == MembershipStatusCancelled || s == MembershipStatusSuperseded || s == MembershipStatusUpgraded
}

type UsageData struct {
	RemainingCredits int `json:"remaining_credits"`
}

// Membership binds a user to a plan for a date range. StartDate and EndDate
// are calendar days, both inclusive. Version guards every write.
type Membership struct {
	ID                     string
	UserID                 string
	PlanID                 string
	Status                 MembershipStatus
	StartDate              time.Time
	EndDate                time.Time
	OriginalEndDate        *time.Time // set when shortened for an upgrade
	Usage                  UsageData
	ExternalSubscriptionID string
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func NewMembership(id, userID string, plan *MembershipPlan, status MembershipStatus, start, end time.Time) (*Membership, error) {
	if id == "" || userID == "" || plan.IsZero() || end.Before(start) {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &Membership{
		ID:        id,
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    status,
		StartDate: start,
		EndDate:   end,
		Usage:     UsageData{RemainingCredits: plan.InitialCredits()},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Covers reports whether the calendar day of t (in loc) lies within the membership.
func (m *Membership) Covers(t time.Time, loc *time.Location) bool {
	day := DateOf(t, loc)
	return !day.Before(CalendarDay(m.StartDate, loc)) && !day.After(CalendarDay(m.EndDate, loc))
}

// CalendarDay places the date fields of d at midnight in loc without converting
// the instant. Membership start and end dates are plain dates.
func CalendarDay(d time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}

// DateOf truncates t to midnight of its calendar day in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
