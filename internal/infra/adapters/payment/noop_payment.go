package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"course-booking-engine/internal/domain/ports/adapter"
)

var _ adapter.PaymentProcessor = (*NoopProcessor)(nil)

// NoopProcessor hands out fake hosted checkouts. Used in dev mode.
type NoopProcessor struct {
	mu        sync.Mutex
	seq       int64
	cancelled map[string]bool
	now       func() time.Time
}

func NewNoopProcessor() *NoopProcessor {
	return &NoopProcessor{cancelled: make(map[string]bool), now: time.Now}
}

func (p *NoopProcessor) Name() string { return "noop" }

func (p *NoopProcessor) CreateCheckoutSession(ctx context.Context, in adapter.CheckoutSessionParams) (adapter.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("noop-cs-%d", p.seq)
	return adapter.CheckoutSession{ID: id, URL: "https://example.test/checkout/" + id}, nil
}

// NextRenewal reports the first day of next month.
func (p *NoopProcessor) NextRenewal(ctx context.Context, subscriptionID string) (time.Time, error) {
	now := p.now().UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC), nil
}

func (p *NoopProcessor) CancelSubscription(ctx context.Context, subscriptionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled[subscriptionID] = true
	return nil
}

func (p *NoopProcessor) Cancelled(subscriptionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled[subscriptionID]
}
