package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/adapter"
	"course-booking-engine/internal/domain/ports/repository"
	"course-booking-engine/internal/infra/logging"
	"course-booking-engine/internal/infra/metrics"
)

// Compile-time check
var _ BookingUseCase = (*bookingUC)(nil)

type BookRequest struct {
	UserID       string
	SessionID    string
	JoinWaitlist bool
}

type BookStatus string

const (
	BookStatusConfirmed  BookStatus = "confirmed"
	BookStatusWaitlisted BookStatus = "waitlisted"
	BookStatusDenied     BookStatus = "denied"
)

type BookResult struct {
	Status         BookStatus   `json:"status"`
	RegistrationID string       `json:"registration_id,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Kind           domain.Kind  `json:"kind,omitempty"`
	State          BookingState `json:"state"`
	Remaining      *int         `json:"remaining,omitempty"`
}

type CancelStatus string

const (
	CancelStatusCancelled      CancelStatus = "cancelled"
	CancelStatusDeadlinePassed CancelStatus = "deadline_passed"
)

type CancelResult struct {
	Status         CancelStatus `json:"status"`
	RegistrationID string       `json:"registration_id"`
	Refunded       bool         `json:"refunded"`
	PromotedID     string       `json:"promoted_registration_id,omitempty"`
}

type EntitlementView struct {
	Allow       bool   `json:"allow"`
	CanWaitlist bool   `json:"can_waitlist"`
	Reason      string `json:"reason,omitempty"`
	Remaining   *int   `json:"remaining,omitempty"`
}

type BookingUseCase interface {
	// CheckEntitlement is the read-only form of Book.
	CheckEntitlement(ctx context.Context, userID, sessionID string) (*EntitlementView, error)
	// Book returns a result for every decided outcome. Denials come back with
	// both a denied result and an error classified by domain.KindOf.
	Book(ctx context.Context, req BookRequest) (*BookResult, error)
	// Cancel soft-cancels a registration of the actor, or of anyone when the
	// actor has an elevated role, refunds it and promotes the waitlist.
	Cancel(ctx context.Context, registrationID, actorUserID string) (*CancelResult, error)
	// RecordCheckIn logs a free-session visit; metered plans count it.
	RecordCheckIn(ctx context.Context, userID string, at time.Time) (*model.CheckIn, error)
}

type bookingUC struct {
	tm            repository.TransactionManager
	users         repository.UserRepository
	sessions      repository.CourseSessionRepository
	registrations repository.RegistrationRepository
	checkIns      repository.CheckInRepository
	allowance     AllowanceService
	gate          *gate
	waitlist      WaitlistPromoter
	notifier      adapter.Notifier
	log           *zerolog.Logger
	opt           options
}

func NewBookingUseCase(
	tm repository.TransactionManager,
	users repository.UserRepository,
	sessions repository.CourseSessionRepository,
	registrations repository.RegistrationRepository,
	checkIns repository.CheckInRepository,
	memberships repository.MembershipRepository,
	plans repository.MembershipPlanRepository,
	allowance AllowanceService,
	waitlist WaitlistPromoter,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
	opts ...Option,
) *bookingUC {
	o := buildOptions(opts)
	return &bookingUC{
		tm:            tm,
		users:         users,
		sessions:      sessions,
		registrations: registrations,
		checkIns:      checkIns,
		allowance:     allowance,
		gate:          &gate{memberships: memberships, plans: plans, allowance: allowance, loc: o.loc},
		waitlist:      waitlist,
		notifier:      notifier,
		log:           logging.Component(logger, "booking"),
		opt:           o,
	}
}

func (u *bookingUC) CheckEntitlement(ctx context.Context, userID, sessionID string) (*EntitlementView, error) {
	ctx, span := tracer.Start(ctx, "BookingUseCase.CheckEntitlement")
	defer span.End()

	user, err := u.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	s, err := u.sessions.FindByID(ctx, repository.NoTX, sessionID)
	if err != nil {
		return nil, err
	}
	now := u.opt.now()
	if s.RegistrationClosed(now) {
		return &EntitlementView{Reason: "registration closed"}, nil
	}
	count, err := u.registrations.CountRegistered(ctx, repository.NoTX, s.ID)
	if err != nil {
		return nil, err
	}
	v, err := u.gate.check(ctx, repository.NoTX, user, s, now, count, false)
	if err != nil {
		return nil, err
	}
	d := v.decision
	return &EntitlementView{Allow: d.Allowed(), CanWaitlist: d.CanWaitlist(), Reason: d.Reason, Remaining: d.Remaining}, nil
}

func (u *bookingUC) Book(ctx context.Context, req BookRequest) (*BookResult, error) {
	ctx, span := tracer.Start(ctx, "BookingUseCase.Book")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID), attribute.String("user.id", req.UserID))

	log := logging.With(ctx, u.log).With().Str("session_id", req.SessionID).Str("user_id", req.UserID).Logger()
	flow := newBookingFlow("book", log)
	defer logging.TraceDuration(&log, "BookingUseCase.Book")()

	user, err := u.users.FindByID(ctx, repository.NoTX, req.UserID)
	if err != nil {
		return nil, err
	}
	now := u.opt.now()

	var (
		reg     *model.Registration
		session *model.CourseSession
		v       verdict
	)
	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		flow.to(StateChecking)
		s, err := u.sessions.LockByID(ctx, tx, req.SessionID)
		if err != nil {
			return err
		}
		session = s
		if s.RegistrationClosed(now) {
			return domain.WithReason(domain.ErrDeadlinePassed, "registration closed")
		}
		if _, err := u.registrations.FindActiveByUserAndSession(ctx, tx, user.ID, s.ID); err == nil {
			return domain.WithReason(domain.ErrAlreadyExists, "already registered for this session")
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		count, err := u.registrations.CountRegistered(ctx, tx, s.ID)
		if err != nil {
			return err
		}
		v, err = u.gate.check(ctx, tx, user, s, now, count, false)
		if err != nil {
			return err
		}

		d := v.decision
		switch {
		case d.CanWaitlist():
			flow.to(StateWaitlistOffered)
			if !req.JoinWaitlist {
				return domain.WithReason(domain.ErrCapacityExceeded, d.Reason)
			}
			reg, err = u.newRegistration(user.ID, s.ID, v.membership, model.RegistrationStatusWaitlist, now)
			if err != nil {
				return err
			}
			return u.registrations.Save(ctx, tx, reg)
		case !d.Allowed():
			return domain.WithReason(domain.ErrNotEntitled, d.Reason)
		}

		flow.to(StateReserving)
		reg, err = u.newRegistration(user.ID, s.ID, v.membership, model.RegistrationStatusRegistered, now)
		if err != nil {
			return err
		}
		return u.registrations.Save(ctx, tx, reg)
	})
	if err != nil {
		return u.fail(flow, &log, err)
	}

	if reg.Status == model.RegistrationStatusWaitlist {
		metrics.IncBookingOutcome(string(BookStatusWaitlisted), "")
		log.Info().Str("registration_id", reg.ID).Msg("joined waitlist")
		send(ctx, u.notifier, &log, adapter.Notification{
			Kind: adapter.NotifyWaitlisted, UserID: user.ID, ChatID: user.TelegramChatID,
			SessionID: session.ID, RegistrationID: reg.ID, At: now,
			Text: fmt.Sprintf("You are on the waitlist for %s.", session.Title),
		})
		return &BookResult{Status: BookStatusWaitlisted, RegistrationID: reg.ID, Reason: v.decision.Reason, State: flow.state}, nil
	}

	if v.debits() {
		flow.to(StateDebiting)
		if err := u.allowance.Consume(ctx, repository.NoTX, v.membership, v.plan, debitKey(reg.ID)); err != nil {
			u.rollback(ctx, flow, &log, reg)
			return u.fail(flow, &log, err)
		}
	}

	flow.to(StateConfirmed)
	rank, err := u.registrations.SeatRank(ctx, repository.NoTX, session.ID, reg.ID)
	if err != nil || rank == 0 || rank > session.Capacity {
		log.Warn().Err(err).Int("rank", rank).Int("capacity", session.Capacity).Msg("seat lost after reservation")
		if cancelled := u.rollback(ctx, flow, &log, reg); cancelled {
			return u.fail(flow, &log, domain.WithReason(domain.ErrConflict, "registration was cancelled while booking"))
		}
		return u.fail(flow, &log, domain.WithReason(domain.ErrCapacityExceeded, entitlementSessionFull))
	}

	metrics.IncBookingOutcome(string(BookStatusConfirmed), "")
	log.Info().Str("registration_id", reg.ID).Msg("booking confirmed")
	send(ctx, u.notifier, &log, adapter.Notification{
		Kind: adapter.NotifyBookingConfirmed, UserID: user.ID, ChatID: user.TelegramChatID,
		SessionID: session.ID, RegistrationID: reg.ID, At: now,
		Text: fmt.Sprintf("Booked: %s on %s.", session.Title, session.StartsAt.In(u.opt.loc).Format("Mon 2 Jan 15:04")),
	})
	res := &BookResult{Status: BookStatusConfirmed, RegistrationID: reg.ID, State: flow.state}
	if rem := v.decision.Remaining; rem != nil && v.debits() {
		left := *rem - v.decision.Debit
		res.Remaining = &left
	}
	return res, nil
}

const entitlementSessionFull = "session is full"

// fail finishes a flow as FAILED. Decided denials return a result next to the
// error; storage and infrastructure errors return no result.
func (u *bookingUC) fail(flow *bookingFlow, log *zerolog.Logger, err error) (*BookResult, error) {
	if canMove(flow.state, StateFailed) {
		flow.to(StateFailed)
	} else {
		flow.state = StateFailed
	}
	kind := domain.KindOf(err)
	metrics.IncBookingOutcome(string(BookStatusDenied), string(kind))
	switch kind {
	case domain.KindInternal, domain.KindNotFound:
		log.Error().Err(err).Msg("booking failed")
		return nil, err
	}
	log.Info().Str("kind", string(kind)).Str("reason", domain.ReasonOf(err)).Msg("booking denied")
	return &BookResult{Status: BookStatusDenied, Reason: domain.ReasonOf(err), Kind: kind, State: flow.state}, err
}

// rollback undoes a reservation: any debit is restored first, then the row is
// cancelled. It reports true when the row had already been cancelled by
// someone else, which leaves nothing to undo. Other failures leave state that
// needs an operator.
func (u *bookingUC) rollback(ctx context.Context, flow *bookingFlow, log *zerolog.Logger, reg *model.Registration) bool {
	flow.to(StateRollingBack)
	ctx = context.WithoutCancel(ctx)
	if err := u.allowance.Restore(ctx, repository.NoTX, debitKey(reg.ID), model.CancelReasonRollback); err != nil {
		metrics.IncRollbackFailure()
		log.Error().Bool("critical", true).Err(err).Str("registration_id", reg.ID).Msg("rollback: restoring allowance failed")
	}
	ok, err := u.registrations.UpdateStatusIf(ctx, repository.NoTX, reg.ID, model.RegistrationStatusRegistered,
		model.RegistrationStatusCancelled, model.CancelReasonRollback, u.opt.now())
	if err == nil && !ok {
		if cur, ferr := u.registrations.FindByID(ctx, repository.NoTX, reg.ID); ferr == nil && cur.Status == model.RegistrationStatusCancelled {
			log.Info().Str("registration_id", reg.ID).Str("cancel_reason", cur.CancelReason).Msg("rollback: registration already cancelled")
			return true
		}
	}
	if err != nil || !ok {
		metrics.IncRollbackFailure()
		log.Error().Bool("critical", true).Err(err).Str("registration_id", reg.ID).Msg("rollback: cancelling registration failed")
		return false
	}
	// the freed seat may belong to someone on the waitlist
	if _, err := u.waitlist.Promote(ctx, reg.SessionID); err != nil {
		log.Warn().Err(err).Msg("waitlist promotion after rollback failed")
	}
	return false
}

func (u *bookingUC) Cancel(ctx context.Context, registrationID, actorUserID string) (*CancelResult, error) {
	ctx, span := tracer.Start(ctx, "BookingUseCase.Cancel")
	defer span.End()

	log := logging.With(ctx, u.log).With().Str("registration_id", registrationID).Logger()

	reg, err := u.registrations.FindByID(ctx, repository.NoTX, registrationID)
	if err != nil {
		return nil, err
	}
	actor, err := u.users.FindByID(ctx, repository.NoTX, actorUserID)
	if err != nil {
		return nil, err
	}
	if reg.UserID != actor.ID && !actor.Elevated() {
		return nil, domain.ErrForbidden
	}
	res := &CancelResult{Status: CancelStatusCancelled, RegistrationID: reg.ID}
	if reg.Status == model.RegistrationStatusCancelled {
		return res, nil
	}

	now := u.opt.now()
	var session *model.CourseSession
	var wasRegistered bool
	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		s, err := u.sessions.LockByID(ctx, tx, reg.SessionID)
		if err != nil {
			return err
		}
		session = s
		if s.CancellationClosed(now) {
			return domain.WithReason(domain.ErrDeadlinePassed, "cancellation closed")
		}
		cur, err := u.registrations.FindByID(ctx, tx, reg.ID)
		if err != nil {
			return err
		}
		if cur.Status == model.RegistrationStatusCancelled {
			return nil
		}
		ok, err := u.registrations.UpdateStatusIf(ctx, tx, cur.ID, cur.Status, model.RegistrationStatusCancelled, model.CancelReasonUser, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConflict
		}
		if cur.Status != model.RegistrationStatusRegistered {
			return nil
		}
		wasRegistered = true
		// refund in the same transaction as the cancel
		return u.allowance.Restore(ctx, tx, debitKey(cur.ID), refundReason)
	})
	if errors.Is(err, domain.ErrDeadlinePassed) {
		log.Info().Msg("cancellation after deadline")
		return &CancelResult{Status: CancelStatusDeadlinePassed, RegistrationID: reg.ID}, err
	}
	if err != nil {
		log.Error().Err(err).Msg("cancel failed")
		return nil, err
	}
	res.Refunded = wasRegistered
	log.Info().Bool("was_registered", wasRegistered).Msg("registration cancelled")

	if owner, err := u.users.FindByID(ctx, repository.NoTX, reg.UserID); err == nil {
		send(ctx, u.notifier, &log, adapter.Notification{
			Kind: adapter.NotifyBookingCancelled, UserID: owner.ID, ChatID: owner.TelegramChatID,
			SessionID: session.ID, RegistrationID: reg.ID, At: now,
			Text: fmt.Sprintf("Your booking for %s was cancelled.", session.Title),
		})
	}

	if wasRegistered {
		promoted, err := u.waitlist.Promote(ctx, session.ID)
		if err != nil {
			log.Warn().Err(err).Msg("waitlist promotion failed")
		} else if promoted != nil {
			res.PromotedID = promoted.ID
		}
	}
	return res, nil
}

func (u *bookingUC) RecordCheckIn(ctx context.Context, userID string, at time.Time) (*model.CheckIn, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := u.users.FindByID(ctx, repository.NoTX, userID); err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = u.opt.now()
	}
	c := &model.CheckIn{ID: uuid.NewString(), UserID: userID, CheckedInAt: at.UTC()}
	if err := u.checkIns.Save(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (u *bookingUC) newRegistration(userID, sessionID string, m *model.Membership, status model.RegistrationStatus, now time.Time) (*model.Registration, error) {
	var membershipID *string
	if m != nil {
		id := m.ID
		membershipID = &id
	}
	return model.NewRegistration(ulid.Make().String(), userID, sessionID, membershipID, status, now)
}

func debitKey(registrationID string) string { return "debit:" + registrationID }

// ledger reasons of reversal entries
const refundReason = "refund"
