package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/adapter"
	"course-booking-engine/internal/domain/ports/repository"
	"course-booking-engine/internal/infra/logging"
	"course-booking-engine/internal/infra/metrics"
)

// ActivationUseCase turns deferred upgrades into the active membership once
// their billing start date is reached.
type ActivationUseCase struct {
	tm          repository.TransactionManager
	memberships repository.MembershipRepository
	users       repository.UserRepository
	notifier    adapter.Notifier
	log         *zerolog.Logger
	opt         options
}

func NewActivationUseCase(tm repository.TransactionManager, memberships repository.MembershipRepository, users repository.UserRepository, notifier adapter.Notifier, logger *zerolog.Logger, opts ...Option) *ActivationUseCase {
	return &ActivationUseCase{
		tm:          tm,
		memberships: memberships,
		users:       users,
		notifier:    notifier,
		log:         logging.Component(logger, "activation"),
		opt:         buildOptions(opts),
	}
}

// ActivateDue activates every pending membership whose start date is on or
// before the calendar day of now. Each one runs in its own transaction.
func (u *ActivationUseCase) ActivateDue(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "ActivationUseCase.ActivateDue")
	defer span.End()

	today := model.CalendarDay(model.DateOf(now, u.opt.loc), time.UTC)
	due, err := u.memberships.ListPendingDue(ctx, repository.NoTX, today)
	if err != nil {
		return 0, err
	}
	activated := 0
	var firstErr error
	for _, p := range due {
		var m *model.Membership
		err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
			cur, err := u.memberships.FindByID(ctx, tx, p.ID)
			if err != nil {
				return err
			}
			if cur.Status != model.MembershipStatusPendingActivation {
				return nil
			}
			m = cur
			return u.ActivatePending(ctx, tx, cur)
		})
		if err != nil {
			u.log.Error().Err(err).Str("membership_id", p.ID).Msg("activation failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if m == nil {
			continue
		}
		activated++
		u.announce(ctx, m)
	}
	metrics.AddMembershipsActivated(activated)
	if activated > 0 {
		u.log.Info().Int("activated", activated).Int("due", len(due)).Msg("pending memberships activated")
	}
	return activated, firstErr
}

// ActivatePending retires the user's current membership as upgraded and
// makes m active, inside tx, so two memberships are never active together.
func (u *ActivationUseCase) ActivatePending(ctx context.Context, tx repository.Tx, m *model.Membership) error {
	if m.Status != model.MembershipStatusPendingActivation {
		return domain.WithReason(domain.ErrInvalidArgument, fmt.Sprintf("membership %s is %s", m.ID, m.Status))
	}
	old, err := u.memberships.FindCurrentByUser(ctx, tx, m.UserID)
	switch {
	case err == nil && old.ID != m.ID:
		if err := transition(ctx, tx, u.memberships, old, model.MembershipStatusUpgraded); err != nil {
			return err
		}
	case err == nil, errors.Is(err, domain.ErrNotFound):
	default:
		return err
	}
	return transition(ctx, tx, u.memberships, m, model.MembershipStatusActive)
}

func (u *ActivationUseCase) announce(ctx context.Context, m *model.Membership) {
	user, err := u.users.FindByID(ctx, repository.NoTX, m.UserID)
	if err != nil {
		return
	}
	send(ctx, u.notifier, u.log, adapter.Notification{
		Kind: adapter.NotifyMembershipActive, UserID: user.ID, ChatID: user.TelegramChatID,
		MembershipID: m.ID, At: u.opt.now(),
		Text: fmt.Sprintf("Your new membership is active until %s.", m.EndDate.Format("2 Jan 2006")),
	})
}

// transition moves m to status with a version check. A missed check is a
// conflict: the caller's transaction is retried as a whole.
func transition(ctx context.Context, tx repository.Tx, memberships repository.MembershipRepository, m *model.Membership, status model.MembershipStatus) error {
	if !model.CanTransition(m.Status, status) {
		return domain.WithReason(domain.ErrInvalidArgument, fmt.Sprintf("membership %s cannot go from %s to %s", m.ID, m.Status, status))
	}
	m.Status = status
	ok, err := memberships.UpdateIfVersion(ctx, tx, m, m.Version)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("membership %s: %w", m.ID, domain.ErrConflict)
	}
	return nil
}
