package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/adapter"
	"course-booking-engine/internal/domain/ports/repository"
	"course-booking-engine/internal/infra/logging"
	"course-booking-engine/internal/infra/metrics"
)

// Compile-time check
var _ EventUseCase = (*eventUC)(nil)

type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout.session.completed"
	EventCheckoutExpired      EventType = "checkout.session.expired"
	EventSubscriptionUpdated  EventType = "customer.subscription.updated"
	EventSubscriptionDeleted  EventType = "customer.subscription.deleted"
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
)

// Event is one webhook delivery from the payment processor.
type Event struct {
	ID       string            `json:"event_id"`
	Type     string            `json:"event_type"`
	Payload  json.RawMessage   `json:"payload"`
	Metadata map[string]string `json:"metadata"`
}

type EventOutcome string

const (
	EventProcessed EventOutcome = "processed"
	EventDuplicate EventOutcome = "duplicate"
	EventIgnored   EventOutcome = "ignored"
)

type EventUseCase interface {
	// Process applies ev exactly once. A replayed event id is reported as
	// EventDuplicate without touching any state.
	Process(ctx context.Context, ev Event) (EventOutcome, error)
}

// afterCommit collects processor calls that must only run once the event's
// transaction has committed.
type afterCommit []func(ctx context.Context)

func (a *afterCommit) add(fn func(ctx context.Context)) { *a = append(*a, fn) }

type eventHandler func(ctx context.Context, tx repository.Tx, ev Event, after *afterCommit) error

type eventUC struct {
	tm          repository.TransactionManager
	events      repository.ProcessedEventRepository
	memberships repository.MembershipRepository
	plans       repository.MembershipPlanRepository
	products    repository.ProductRepository
	purchases   repository.PurchaseRepository
	ledger      LedgerUseCase
	upgrades    *UpgradeScheduler
	activation  *ActivationUseCase
	processor   adapter.PaymentProcessor
	handlers    map[EventType]eventHandler
	log         *zerolog.Logger
	opt         options
}

func NewEventUseCase(
	tm repository.TransactionManager,
	events repository.ProcessedEventRepository,
	memberships repository.MembershipRepository,
	plans repository.MembershipPlanRepository,
	products repository.ProductRepository,
	purchases repository.PurchaseRepository,
	ledger LedgerUseCase,
	upgrades *UpgradeScheduler,
	activation *ActivationUseCase,
	processor adapter.PaymentProcessor,
	logger *zerolog.Logger,
	opts ...Option,
) *eventUC {
	u := &eventUC{
		tm:          tm,
		events:      events,
		memberships: memberships,
		plans:       plans,
		products:    products,
		purchases:   purchases,
		ledger:      ledger,
		upgrades:    upgrades,
		activation:  activation,
		processor:   processor,
		log:         logging.Component(logger, "events"),
		opt:         buildOptions(opts),
	}
	u.handlers = map[EventType]eventHandler{
		EventCheckoutCompleted:    u.onCheckoutCompleted,
		EventCheckoutExpired:      u.onCheckoutExpired,
		EventSubscriptionUpdated:  u.onSubscriptionChanged,
		EventSubscriptionDeleted:  u.onSubscriptionChanged,
		EventInvoicePaid:          u.onInvoicePaid,
		EventInvoicePaymentFailed: u.onInvoicePaymentFailed,
	}
	return u
}

func (u *eventUC) Process(ctx context.Context, ev Event) (EventOutcome, error) {
	ctx, span := tracer.Start(ctx, "EventUseCase.Process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(attribute.String("event.id", ev.ID), attribute.String("event.type", ev.Type))

	if ev.ID == "" || ev.Type == "" {
		return "", domain.WithReason(domain.ErrInvalidArgument, "event_id and event_type are required")
	}
	log := logging.With(ctx, u.log).With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	var after afterCommit
	outcome := EventProcessed
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		after = after[:0]
		outcome = EventProcessed
		// the insert is the commit point: a replay stops here
		if err := u.events.Insert(ctx, tx, &model.ProcessedEvent{EventID: ev.ID, EventType: ev.Type, ProcessedAt: u.opt.now().UTC()}); err != nil {
			return err
		}
		h, ok := u.handlers[EventType(ev.Type)]
		if !ok {
			outcome = EventIgnored
			return nil
		}
		return h(ctx, tx, ev, &after)
	})
	switch {
	case errors.Is(err, domain.ErrDuplicateEvent):
		metrics.IncPaymentEvent(ev.Type, string(EventDuplicate))
		log.Info().Msg("duplicate event ignored")
		return EventDuplicate, nil
	case err != nil:
		metrics.IncPaymentEvent(ev.Type, "failed")
		log.Error().Err(err).Str("kind", string(domain.KindOf(err))).Msg("event processing failed")
		return "", err
	}

	metrics.IncPaymentEvent(ev.Type, string(outcome))
	log.Info().Str("outcome", string(outcome)).Msg("event recorded")
	for _, fn := range after {
		fn(context.WithoutCancel(ctx))
	}
	return outcome, nil
}

type checkoutPayload struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	Customer     string `json:"customer"`
}

type subscriptionPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type invoicePayload struct {
	ID            string `json:"id"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
}

func decodePayload(ev Event, v interface{}) error {
	if len(ev.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return domain.WithReason(domain.ErrInvalidArgument, fmt.Sprintf("payload: %v", err))
	}
	return nil
}

func (u *eventUC) onCheckoutCompleted(ctx context.Context, tx repository.Tx, ev Event, after *afterCommit) error {
	var p checkoutPayload
	if err := decodePayload(ev, &p); err != nil {
		return err
	}
	md := ev.Metadata
	userID := md["user_id"]
	if userID == "" {
		return domain.WithReason(domain.ErrInvalidArgument, "metadata.user_id missing")
	}

	status := model.PurchaseStatusCompleted
	switch model.PurchaseType(md["purchase_type"]) {
	case model.PurchaseTypeMembership:
		if err := u.startMembership(ctx, tx, userID, md["plan_id"], p.Subscription); err != nil {
			return err
		}
	case model.PurchaseTypeTopUp:
		if err := u.topUp(ctx, tx, userID, md["plan_id"], ev.ID); err != nil {
			return err
		}
	case model.PurchaseTypeUpgrade:
		req := UpgradeRequest{
			UserID:                 userID,
			NewPlanID:              md["plan_id"],
			OldMembershipID:        md["old_membership_id"],
			ExternalSubscriptionID: p.Subscription,
		}
		if raw := md["billing_start_date"]; raw != "" {
			d, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return domain.WithReason(domain.ErrInvalidArgument, "metadata.billing_start_date must be YYYY-MM-DD")
			}
			req.BillingStartDate = &d
		}
		res, err := u.upgrades.Apply(ctx, tx, req)
		if err != nil {
			return err
		}
		for _, sub := range res.StaleSubscriptions {
			sub := sub
			after.add(func(ctx context.Context) { u.cancelExternal(ctx, sub) })
		}
	case model.PurchaseTypeProduct:
		ok, err := u.products.DecrementStock(ctx, tx, md["product_id"], 1)
		if err != nil {
			return err
		}
		if !ok {
			u.log.Warn().Str("product_id", md["product_id"]).Str("event_id", ev.ID).Msg("product sold out, purchase marked failed")
			status = model.PurchaseStatusFailed
		}
	default:
		u.log.Warn().Str("purchase_type", md["purchase_type"]).Str("event_id", ev.ID).Msg("unknown purchase type")
		return nil
	}

	if id := md["purchase_id"]; id != "" {
		if _, err := u.purchases.UpdateStatusIfPending(ctx, tx, id, status); err != nil {
			return err
		}
	}
	return nil
}

// startMembership creates an active membership and supersedes the current one.
func (u *eventUC) startMembership(ctx context.Context, tx repository.Tx, userID, planID, subscriptionID string) error {
	plan, err := u.plans.FindByID(ctx, tx, planID)
	if err != nil {
		return err
	}
	cur, err := u.memberships.FindCurrentByUser(ctx, tx, userID)
	switch {
	case err == nil:
		if err := transition(ctx, tx, u.memberships, cur, model.MembershipStatusSuperseded); err != nil {
			return err
		}
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	today := u.opt.today()
	m, err := model.NewMembership(uuid.NewString(), userID, plan, model.MembershipStatusActive, today, lastDayOf(today, plan.DurationMonths))
	if err != nil {
		return err
	}
	m.ExternalSubscriptionID = subscriptionID
	return u.memberships.Save(ctx, tx, m)
}

// topUp credits the plan's credit amount to the active membership. The key
// derives from the event id, so the same top-up never lands twice.
func (u *eventUC) topUp(ctx context.Context, tx repository.Tx, userID, planID, eventID string) error {
	plan, err := u.plans.FindByID(ctx, tx, planID)
	if err != nil {
		return err
	}
	amount := plan.InitialCredits()
	if amount <= 0 {
		return domain.WithReason(domain.ErrInvalidArgument, "plan carries no credits")
	}
	m, err := u.memberships.FindCurrentByUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	_, err = u.ledger.Credit(ctx, tx, m.ID, amount, "topup:"+eventID)
	return err
}

func (u *eventUC) onCheckoutExpired(ctx context.Context, tx repository.Tx, ev Event, _ *afterCommit) error {
	id := ev.Metadata["purchase_id"]
	if id == "" {
		return nil
	}
	_, err := u.purchases.UpdateStatusIfPending(ctx, tx, id, model.PurchaseStatusFailed)
	return err
}

// externalStatus maps processor subscription states onto membership states.
func externalStatus(s string) (model.MembershipStatus, bool) {
	switch s {
	case "active", "trialing":
		return model.MembershipStatusActive, true
	case "past_due", "unpaid", "incomplete":
		return model.MembershipStatusPaymentFailed, true
	case "canceled", "incomplete_expired":
		return model.MembershipStatusCancelled, true
	}
	return "", false
}

func (u *eventUC) onSubscriptionChanged(ctx context.Context, tx repository.Tx, ev Event, _ *afterCommit) error {
	var p subscriptionPayload
	if err := decodePayload(ev, &p); err != nil {
		return err
	}
	target, ok := externalStatus(p.Status)
	if EventType(ev.Type) == EventSubscriptionDeleted {
		target, ok = model.MembershipStatusCancelled, true
	}
	if !ok {
		u.log.Warn().Str("status", p.Status).Str("event_id", ev.ID).Msg("unknown subscription status")
		return nil
	}
	m, err := u.findBySubscription(ctx, tx, p.ID)
	if err != nil || m == nil {
		return err
	}
	switch {
	case m.Status.Terminal(), m.Status == target:
		return nil
	case m.Status == model.MembershipStatusPendingActivation && target == model.MembershipStatusActive:
		// activation follows the billing start, not the processor state
		return nil
	case !model.CanTransition(m.Status, target):
		u.log.Warn().Str("from", string(m.Status)).Str("to", string(target)).Msg("subscription change ignored")
		return nil
	}
	return transition(ctx, tx, u.memberships, m, target)
}

func (u *eventUC) onInvoicePaid(ctx context.Context, tx repository.Tx, ev Event, _ *afterCommit) error {
	var p invoicePayload
	if err := decodePayload(ev, &p); err != nil {
		return err
	}
	if p.BillingReason != "subscription_cycle" {
		return nil
	}
	m, err := u.findBySubscription(ctx, tx, p.Subscription)
	if err != nil || m == nil {
		return err
	}

	switch m.Status {
	case model.MembershipStatusPendingActivation:
		if !BillingStart(m.StartDate, u.opt.today()) {
			return nil
		}
		return u.activation.ActivatePending(ctx, tx, m)
	case model.MembershipStatusActive, model.MembershipStatusPaymentFailed:
		if m.OriginalEndDate != nil {
			// shortened for an upgrade; it ends as scheduled
			return nil
		}
		plan, err := u.plans.FindByID(ctx, tx, m.PlanID)
		if err != nil {
			return err
		}
		m.EndDate = lastDayOf(m.EndDate.AddDate(0, 0, 1), plan.DurationMonths)
		m.Status = model.MembershipStatusActive
		expected := m.Version
		ok, err := u.memberships.UpdateIfVersion(ctx, tx, m, expected)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConflict
		}
		return nil
	}
	return nil
}

func (u *eventUC) onInvoicePaymentFailed(ctx context.Context, tx repository.Tx, ev Event, _ *afterCommit) error {
	var p invoicePayload
	if err := decodePayload(ev, &p); err != nil {
		return err
	}
	m, err := u.findBySubscription(ctx, tx, p.Subscription)
	if err != nil || m == nil {
		return err
	}
	if m.Status != model.MembershipStatusActive {
		return nil
	}
	return transition(ctx, tx, u.memberships, m, model.MembershipStatusPaymentFailed)
}

// findBySubscription returns nil, nil for subscriptions this store never saw.
func (u *eventUC) findBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.Membership, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	m, err := u.memberships.FindByExternalSubscription(ctx, tx, subscriptionID)
	if errors.Is(err, domain.ErrNotFound) {
		u.log.Warn().Str("subscription_id", subscriptionID).Msg("no membership for subscription")
		return nil, nil
	}
	return m, err
}

func (u *eventUC) cancelExternal(ctx context.Context, subscriptionID string) {
	if u.processor == nil {
		return
	}
	if err := u.processor.CancelSubscription(ctx, subscriptionID); err != nil {
		u.log.Warn().Err(err).Str("kind", string(domain.KindExternalUnavailable)).
			Str("subscription_id", subscriptionID).Msg("cancelling stale subscription failed, local state stands")
	}
}
