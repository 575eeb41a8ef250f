package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/adapter"
	"course-booking-engine/internal/domain/ports/repository"
	"course-booking-engine/internal/infra/logging"
)

// Compile-time check
var _ CheckoutUseCase = (*checkoutUC)(nil)

type CheckoutRequest struct {
	UserID    string `json:"-"`
	PlanID    string `json:"plan_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

type CheckoutResult struct {
	RedirectURL string             `json:"redirect_url"`
	PurchaseID  string             `json:"purchase_id"`
	Type        model.PurchaseType `json:"purchase_type"`
}

type CheckoutUseCase interface {
	// CreateCheckout records a pending purchase and opens a hosted checkout
	// at the payment processor.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
}

type checkoutUC struct {
	users       repository.UserRepository
	plans       repository.MembershipPlanRepository
	products    repository.ProductRepository
	memberships repository.MembershipRepository
	purchases   repository.PurchaseRepository
	processor   adapter.PaymentProcessor
	log         *zerolog.Logger
	opt         options
}

func NewCheckoutUseCase(
	users repository.UserRepository,
	plans repository.MembershipPlanRepository,
	products repository.ProductRepository,
	memberships repository.MembershipRepository,
	purchases repository.PurchaseRepository,
	processor adapter.PaymentProcessor,
	logger *zerolog.Logger,
	opts ...Option,
) *checkoutUC {
	return &checkoutUC{
		users:       users,
		plans:       plans,
		products:    products,
		memberships: memberships,
		purchases:   purchases,
		processor:   processor,
		log:         logging.Component(logger, "checkout"),
		opt:         buildOptions(opts),
	}
}

func (u *checkoutUC) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := tracer.Start(ctx, "CheckoutUseCase.CreateCheckout")
	defer span.End()

	if req.UserID == "" || (req.PlanID == "") == (req.ProductID == "") {
		return nil, domain.WithReason(domain.ErrInvalidArgument, "exactly one of plan_id and product_id is required")
	}
	if _, err := u.users.FindByID(ctx, repository.NoTX, req.UserID); err != nil {
		return nil, err
	}

	md := map[string]string{"user_id": req.UserID}
	var (
		typ      model.PurchaseType
		priceRef string
		mode     = adapter.CheckoutModePayment
		planID   *string
		product  *string
	)

	if req.ProductID != "" {
		p, err := u.products.FindByID(ctx, repository.NoTX, req.ProductID)
		if err != nil {
			return nil, err
		}
		if p.Stock <= 0 {
			return nil, domain.WithReason(domain.ErrCapacityExceeded, "product is sold out")
		}
		typ, priceRef, product = model.PurchaseTypeProduct, p.PriceRef, &p.ID
		md["product_id"] = p.ID
	} else {
		plan, err := u.plans.FindByID(ctx, repository.NoTX, req.PlanID)
		if err != nil {
			return nil, err
		}
		typ, err = u.planPurchaseType(ctx, req.UserID, plan, md)
		if err != nil {
			return nil, err
		}
		if typ != model.PurchaseTypeTopUp {
			mode = adapter.CheckoutModeSubscription
		}
		priceRef, planID = plan.PriceRef, &plan.ID
		md["plan_id"] = plan.ID
	}
	span.SetAttributes(attribute.String("purchase.type", string(typ)))

	rec, err := model.NewPurchaseRecord(uuid.NewString(), req.UserID, typ, planID, product)
	if err != nil {
		return nil, err
	}
	if err := u.purchases.Save(ctx, repository.NoTX, rec); err != nil {
		return nil, err
	}
	md["purchase_type"] = string(typ)
	md["purchase_id"] = rec.ID

	sess, err := u.processor.CreateCheckoutSession(ctx, adapter.CheckoutSessionParams{
		CustomerRef: req.UserID,
		PriceRef:    priceRef,
		Mode:        mode,
		Metadata:    md,
	})
	if err != nil {
		if _, uerr := u.purchases.UpdateStatusIfPending(ctx, repository.NoTX, rec.ID, model.PurchaseStatusFailed); uerr != nil {
			u.log.Error().Err(uerr).Str("purchase_id", rec.ID).Msg("mark purchase failed")
		}
		u.log.Warn().Err(err).Str("kind", string(domain.KindExternalUnavailable)).Str("purchase_id", rec.ID).Msg("checkout session not created")
		return nil, fmt.Errorf("create checkout session: %w", domain.ErrExternalUnavailable)
	}
	if err := u.purchases.SetExternalSession(ctx, repository.NoTX, rec.ID, sess.ID); err != nil {
		return nil, err
	}

	u.log.Info().Str("user_id", req.UserID).Str("purchase_id", rec.ID).Str("purchase_type", string(typ)).Msg("checkout created")
	return &CheckoutResult{RedirectURL: sess.URL, PurchaseID: rec.ID, Type: typ}, nil
}

// planPurchaseType decides what buying plan means for the user right now and
// fills the upgrade metadata.
func (u *checkoutUC) planPurchaseType(ctx context.Context, userID string, plan *model.MembershipPlan, md map[string]string) (model.PurchaseType, error) {
	cur, err := u.memberships.FindActiveByUser(ctx, repository.NoTX, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return model.PurchaseTypeMembership, nil
	case err != nil:
		return "", err
	}

	if cur.PlanID == plan.ID {
		if _, ok := plan.Rules.(model.CreditRules); ok {
			return model.PurchaseTypeTopUp, nil
		}
		return "", domain.WithReason(domain.ErrAlreadyExists, "membership on this plan is already active")
	}
	if cur.ExternalSubscriptionID == "" {
		return model.PurchaseTypeMembership, nil
	}

	md["old_membership_id"] = cur.ID
	next, err := u.processor.NextRenewal(ctx, cur.ExternalSubscriptionID)
	if err != nil {
		// the event processor asks again, or applies the upgrade at once
		u.log.Warn().Err(err).Str("kind", string(domain.KindExternalUnavailable)).
			Str("subscription_id", cur.ExternalSubscriptionID).Msg("next renewal unknown at checkout")
		return model.PurchaseTypeUpgrade, nil
	}
	md["billing_start_date"] = model.DateOf(next, u.opt.loc).Format("2006-01-02")
	return model.PurchaseTypeUpgrade, nil
}
