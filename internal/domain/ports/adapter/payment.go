package adapter

import (
	"context"
	"time"
)

type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

type CheckoutSessionParams struct {
	CustomerRef string
	PriceRef    string
	Mode        CheckoutMode
	Metadata    map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentProcessor is the hex port for the external billing provider.
type PaymentProcessor interface {
	Name() string

	// CreateCheckoutSession returns a hosted checkout the member is redirected to.
	CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (CheckoutSession, error)
	// NextRenewal is the next billing date of an external subscription.
	NextRenewal(ctx context.Context, subscriptionID string) (time.Time, error)
	// CancelSubscription stops an external subscription immediately.
	CancelSubscription(ctx context.Context, subscriptionID string) error
}
