package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/adapter"
	"course-booking-engine/internal/domain/ports/repository"
	"course-booking-engine/internal/infra/logging"
	"course-booking-engine/internal/infra/metrics"
)

// WaitlistPromoter fills a freed seat from the waitlist.
type WaitlistPromoter interface {
	// Promote returns the promoted registration, or nil when no candidate
	// could take the seat.
	Promote(ctx context.Context, sessionID string) (*model.Registration, error)
}

var _ WaitlistPromoter = (*waitlistUC)(nil)

var (
	errNoSeat      = errors.New("no free seat")
	errNoCandidate = errors.New("no waitlist candidate")
	errSkip        = errors.New("candidate skipped")
)

type waitlistUC struct {
	tm            repository.TransactionManager
	users         repository.UserRepository
	sessions      repository.CourseSessionRepository
	registrations repository.RegistrationRepository
	allowance     AllowanceService
	gate          *gate
	notifier      adapter.Notifier
	maxAttempts   int
	log           *zerolog.Logger
	opt           options
}

func NewWaitlistPromoter(
	tm repository.TransactionManager,
	users repository.UserRepository,
	sessions repository.CourseSessionRepository,
	registrations repository.RegistrationRepository,
	memberships repository.MembershipRepository,
	plans repository.MembershipPlanRepository,
	allowance AllowanceService,
	notifier adapter.Notifier,
	maxAttempts int,
	logger *zerolog.Logger,
	opts ...Option,
) *waitlistUC {
	o := buildOptions(opts)
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &waitlistUC{
		tm:            tm,
		users:         users,
		sessions:      sessions,
		registrations: registrations,
		allowance:     allowance,
		gate:          &gate{memberships: memberships, plans: plans, allowance: allowance, loc: o.loc},
		notifier:      notifier,
		maxAttempts:   maxAttempts,
		log:           logging.Component(logger, "waitlist"),
		opt:           o,
	}
}

// Promote walks the waitlist oldest first. A candidate who is not entitled or
// whose debit fails keeps the waitlist row and the next one is tried.
func (u *waitlistUC) Promote(ctx context.Context, sessionID string) (*model.Registration, error) {
	ctx, span := tracer.Start(ctx, "WaitlistPromoter.Promote")
	defer span.End()

	log := logging.With(ctx, u.log).With().Str("session_id", sessionID).Logger()
	tried := make(map[string]bool)

	for attempt := 0; attempt < u.maxAttempts; attempt++ {
		promoted, err := u.promoteOne(ctx, log, sessionID, tried)
		switch {
		case err == nil:
			metrics.IncWaitlistPromotion("promoted")
			return promoted, nil
		case errors.Is(err, errNoSeat), errors.Is(err, errNoCandidate):
			return nil, nil
		case errors.Is(err, errSkip):
			continue
		default:
			metrics.IncWaitlistPromotion("error")
			return nil, err
		}
	}
	log.Info().Int("attempts", u.maxAttempts).Msg("waitlist promotion gave up")
	return nil, nil
}

func (u *waitlistUC) promoteOne(ctx context.Context, log zerolog.Logger, sessionID string, tried map[string]bool) (*model.Registration, error) {
	flow := newBookingFlow("promote", log)
	now := u.opt.now()

	var (
		cand    *model.Registration
		user    *model.User
		session *model.CourseSession
		v       verdict
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		flow.to(StateChecking)
		s, err := u.sessions.LockByID(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		session = s
		count, err := u.registrations.CountRegistered(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		if count >= s.Capacity {
			return errNoSeat
		}
		rows, err := u.registrations.ListWaitlist(ctx, tx, s.ID, len(tried)+1)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if !tried[r.ID] {
				cand = r
				break
			}
		}
		if cand == nil {
			return errNoCandidate
		}
		tried[cand.ID] = true

		user, err = u.users.FindByID(ctx, tx, cand.UserID)
		if err != nil {
			return err
		}
		v, err = u.gate.check(ctx, tx, user, s, now, count, true)
		if err != nil {
			return err
		}
		if !v.decision.Allowed() {
			metrics.IncWaitlistPromotion("not_entitled")
			log.Info().Str("registration_id", cand.ID).Str("reason", v.decision.Reason).Msg("waitlist candidate not entitled")
			return errSkip
		}

		flow.to(StateReserving)
		ok, err := u.registrations.UpdateStatusIf(ctx, tx, cand.ID, model.RegistrationStatusWaitlist, model.RegistrationStatusRegistered, "", now)
		if err != nil {
			return err
		}
		if !ok {
			return errSkip
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if v.debits() {
		flow.to(StateDebiting)
		if err := u.allowance.Consume(ctx, repository.NoTX, v.membership, v.plan, debitKey(cand.ID)); err != nil {
			metrics.IncWaitlistPromotion("debit_failed")
			log.Info().Err(err).Str("registration_id", cand.ID).Msg("waitlist candidate debit failed")
			u.demote(ctx, flow, log, cand)
			return nil, errSkip
		}
	}

	flow.to(StateConfirmed)
	rank, err := u.registrations.SeatRank(ctx, repository.NoTX, session.ID, cand.ID)
	if err != nil || rank == 0 || rank > session.Capacity {
		log.Warn().Err(err).Int("rank", rank).Msg("promoted seat lost")
		u.release(ctx, flow, log, cand)
		return nil, errNoSeat
	}

	log.Info().Str("registration_id", cand.ID).Str("user_id", cand.UserID).Msg("promoted from waitlist")
	send(ctx, u.notifier, &log, adapter.Notification{
		Kind: adapter.NotifyPromoted, UserID: user.ID, ChatID: user.TelegramChatID,
		SessionID: session.ID, RegistrationID: cand.ID, At: now,
		Text: fmt.Sprintf("A seat opened up: you are booked for %s.", session.Title),
	})
	cand.Status = model.RegistrationStatusRegistered
	return cand, nil
}

// demote puts a promoted row back on the waitlist. Only used when nothing
// was debited.
func (u *waitlistUC) demote(ctx context.Context, flow *bookingFlow, log zerolog.Logger, cand *model.Registration) {
	flow.to(StateRollingBack)
	ok, err := u.registrations.UpdateStatusIf(context.WithoutCancel(ctx), repository.NoTX, cand.ID,
		model.RegistrationStatusRegistered, model.RegistrationStatusWaitlist, "", u.opt.now())
	if err != nil || !ok {
		metrics.IncRollbackFailure()
		log.Error().Bool("critical", true).Err(err).Str("registration_id", cand.ID).Msg("promotion rollback: returning row to waitlist failed")
	}
	flow.to(StateFailed)
}

// release restores the debit of a promoted row and cancels it, as a booking
// rollback does.
func (u *waitlistUC) release(ctx context.Context, flow *bookingFlow, log zerolog.Logger, cand *model.Registration) {
	flow.to(StateRollingBack)
	ctx = context.WithoutCancel(ctx)
	if err := u.allowance.Restore(ctx, repository.NoTX, debitKey(cand.ID), model.CancelReasonRollback); err != nil {
		metrics.IncRollbackFailure()
		log.Error().Bool("critical", true).Err(err).Str("registration_id", cand.ID).Msg("promotion rollback: restoring allowance failed")
	}
	ok, err := u.registrations.UpdateStatusIf(ctx, repository.NoTX, cand.ID, model.RegistrationStatusRegistered,
		model.RegistrationStatusCancelled, model.CancelReasonRollback, u.opt.now())
	if err == nil && !ok {
		if cur, ferr := u.registrations.FindByID(ctx, repository.NoTX, cand.ID); ferr == nil && cur.Status == model.RegistrationStatusCancelled {
			log.Info().Str("registration_id", cand.ID).Msg("promotion rollback: registration already cancelled")
			ok = true
		}
	}
	if err != nil || !ok {
		metrics.IncRollbackFailure()
		log.Error().Bool("critical", true).Err(err).Str("registration_id", cand.ID).Msg("promotion rollback: cancelling registration failed")
	}
	flow.to(StateFailed)
}
