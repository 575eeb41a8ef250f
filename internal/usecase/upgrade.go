package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/adapter"
	"course-booking-engine/internal/domain/ports/repository"
	"course-booking-engine/internal/infra/logging"
)

type UpgradeRequest struct {
	UserID          string
	NewPlanID       string
	OldMembershipID string // empty: the user's current membership
	// ExternalSubscriptionID is the processor subscription billing the new plan.
	ExternalSubscriptionID string
	// BillingStartDate comes from checkout metadata; nil asks the processor.
	BillingStartDate *time.Time
}

type UpgradeResult struct {
	Membership *model.Membership
	Immediate  bool
	// StaleSubscriptions are processor subscriptions of cancelled pending
	// memberships. Cancel them after commit.
	StaleSubscriptions []string
}

// BillingStart reports whether an upgrade billed from billingStartDate takes
// effect now. Both arguments are calendar dates.
func BillingStart(billingStartDate, today time.Time) (immediate bool) {
	return !model.CalendarDay(billingStartDate, time.UTC).After(model.CalendarDay(today, time.UTC))
}

// UpgradeScheduler switches a member to a new plan without two memberships
// ever overlapping: either at once, or deferred to the next billing date with
// the old membership shortened to end the day before.
type UpgradeScheduler struct {
	memberships repository.MembershipRepository
	plans       repository.MembershipPlanRepository
	processor   adapter.PaymentProcessor
	log         *zerolog.Logger
	opt         options
}

func NewUpgradeScheduler(memberships repository.MembershipRepository, plans repository.MembershipPlanRepository, processor adapter.PaymentProcessor, logger *zerolog.Logger, opts ...Option) *UpgradeScheduler {
	return &UpgradeScheduler{
		memberships: memberships,
		plans:       plans,
		processor:   processor,
		log:         logging.Component(logger, "upgrade"),
		opt:         buildOptions(opts),
	}
}

// Apply runs inside the caller's transaction.
func (s *UpgradeScheduler) Apply(ctx context.Context, tx repository.Tx, req UpgradeRequest) (*UpgradeResult, error) {
	ctx, span := tracer.Start(ctx, "UpgradeScheduler.Apply")
	defer span.End()

	if req.UserID == "" || req.NewPlanID == "" {
		return nil, domain.ErrInvalidArgument
	}
	plan, err := s.plans.FindByID(ctx, tx, req.NewPlanID)
	if err != nil {
		return nil, err
	}

	var old *model.Membership
	if req.OldMembershipID != "" {
		old, err = s.memberships.FindByID(ctx, tx, req.OldMembershipID)
	} else {
		old, err = s.memberships.FindCurrentByUser(ctx, tx, req.UserID)
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		old = nil
	case err != nil:
		return nil, err
	case old.UserID != req.UserID:
		return nil, domain.WithReason(domain.ErrForbidden, "membership belongs to another user")
	case old.Status.Terminal():
		old = nil
	}

	res := &UpgradeResult{}
	// a newer upgrade replaces an earlier deferred one
	if pending, err := s.memberships.FindPendingByUser(ctx, tx, req.UserID); err == nil {
		if err := transition(ctx, tx, s.memberships, pending, model.MembershipStatusCancelled); err != nil {
			return nil, err
		}
		if sub := pending.ExternalSubscriptionID; sub != "" && sub != req.ExternalSubscriptionID {
			res.StaleSubscriptions = append(res.StaleSubscriptions, sub)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	today := s.opt.today()
	start := s.billingStart(ctx, req, old, today)
	res.Immediate = old == nil || BillingStart(start, today)

	if res.Immediate {
		if old != nil {
			if err := transition(ctx, tx, s.memberships, old, model.MembershipStatusUpgraded); err != nil {
				return nil, err
			}
		}
		m, err := model.NewMembership(uuid.NewString(), req.UserID, plan, model.MembershipStatusActive, today, lastDayOf(today, plan.DurationMonths))
		if err != nil {
			return nil, err
		}
		m.ExternalSubscriptionID = req.ExternalSubscriptionID
		if err := s.memberships.Save(ctx, tx, m); err != nil {
			return nil, err
		}
		res.Membership = m
		s.log.Info().Str("user_id", req.UserID).Str("membership_id", m.ID).Msg("upgrade applied immediately")
		return res, nil
	}

	m, err := model.NewMembership(uuid.NewString(), req.UserID, plan, model.MembershipStatusPendingActivation, start, lastDayOf(start, plan.DurationMonths))
	if err != nil {
		return nil, err
	}
	m.ExternalSubscriptionID = req.ExternalSubscriptionID

	// a replaced pending upgrade may have shortened old already; start over
	// from its original end
	orig := old.EndDate
	if old.OriginalEndDate != nil {
		orig = *old.OriginalEndDate
	}
	end, shortened := orig, (*time.Time)(nil)
	if lastOld := start.AddDate(0, 0, -1); orig.After(lastOld) {
		end, shortened = lastOld, &orig
	}
	if !end.Equal(old.EndDate) || (shortened == nil) != (old.OriginalEndDate == nil) {
		old.EndDate, old.OriginalEndDate = end, shortened
		expected := old.Version
		ok, err := s.memberships.UpdateIfVersion(ctx, tx, old, expected)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrConflict
		}
	}
	if err := s.memberships.Save(ctx, tx, m); err != nil {
		return nil, err
	}
	res.Membership = m
	s.log.Info().Str("user_id", req.UserID).Str("membership_id", m.ID).
		Time("billing_start", start).Msg("upgrade deferred to billing start")
	return res, nil
}

// billingStart resolves the first billing day of the new plan. Without a
// date from checkout the processor is asked; if it cannot answer the upgrade
// applies today.
func (s *UpgradeScheduler) billingStart(ctx context.Context, req UpgradeRequest, old *model.Membership, today time.Time) time.Time {
	if req.BillingStartDate != nil {
		return model.CalendarDay(*req.BillingStartDate, time.UTC)
	}
	if old == nil || old.ExternalSubscriptionID == "" || s.processor == nil {
		return today
	}
	next, err := s.processor.NextRenewal(ctx, old.ExternalSubscriptionID)
	if err != nil {
		s.log.Warn().Err(err).Str("kind", string(domain.KindExternalUnavailable)).
			Str("subscription_id", old.ExternalSubscriptionID).Msg("next renewal unknown, upgrading immediately")
		return today
	}
	return model.CalendarDay(model.DateOf(next, s.opt.loc), time.UTC)
}
