//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/adapter"
	"course-booking-engine/internal/domain/ports/repository"
	"course-booking-engine/internal/infra/db/memory"
	"course-booking-engine/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

var txOpts = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

// -----------------------------
// Adapters
// -----------------------------

type MockNotifier struct {
	mu   sync.Mutex
	Sent []adapter.Notification

	NotifyFunc func(ctx context.Context, n adapter.Notification) error
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) Notify(ctx context.Context, n adapter.Notification) error {
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, n)
	return nil
}

func (m *MockNotifier) Kinds() []adapter.NotificationKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.NotificationKind, len(m.Sent))
	for i, n := range m.Sent {
		out[i] = n.Kind
	}
	return out
}

type MockProcessor struct {
	mu        sync.Mutex
	Sessions  []adapter.CheckoutSessionParams
	Cancelled []string

	CreateCheckoutSessionFunc func(ctx context.Context, p adapter.CheckoutSessionParams) (adapter.CheckoutSession, error)
	NextRenewalFunc           func(ctx context.Context, subscriptionID string) (time.Time, error)
	CancelSubscriptionFunc    func(ctx context.Context, subscriptionID string) error
}

var _ adapter.PaymentProcessor = (*MockProcessor)(nil)

func (m *MockProcessor) Name() string { return "mock" }

func (m *MockProcessor) CreateCheckoutSession(ctx context.Context, p adapter.CheckoutSessionParams) (adapter.CheckoutSession, error) {
	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions = append(m.Sessions, p)
	return adapter.CheckoutSession{ID: "cs_test", URL: "https://pay.example/cs_test"}, nil
}

func (m *MockProcessor) NextRenewal(ctx context.Context, subscriptionID string) (time.Time, error) {
	if m.NextRenewalFunc != nil {
		return m.NextRenewalFunc(ctx, subscriptionID)
	}
	return time.Time{}, context.DeadlineExceeded
}

func (m *MockProcessor) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, subscriptionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, subscriptionID)
	return nil
}

// -----------------------------
// Repositories
// -----------------------------

// MockMembershipRepo delegates to the memory store unless a hook is set.
type MockMembershipRepo struct {
	*memory.MembershipRepo

	UpdateIfVersionFunc func(ctx context.Context, tx repository.Tx, m *model.Membership, expected int64) (bool, error)
}

var _ repository.MembershipRepository = (*MockMembershipRepo)(nil)

func (r *MockMembershipRepo) UpdateIfVersion(ctx context.Context, tx repository.Tx, m *model.Membership, expected int64) (bool, error) {
	if r.UpdateIfVersionFunc != nil {
		return r.UpdateIfVersionFunc(ctx, tx, m, expected)
	}
	return r.MembershipRepo.UpdateIfVersion(ctx, tx, m, expected)
}

// MockRegistrationRepo delegates to the memory store unless a hook is set.
type MockRegistrationRepo struct {
	*memory.RegistrationRepo

	SeatRankFunc func(ctx context.Context, tx repository.Tx, sessionID, registrationID string) (int, error)
}

var _ repository.RegistrationRepository = (*MockRegistrationRepo)(nil)

func (r *MockRegistrationRepo) SeatRank(ctx context.Context, tx repository.Tx, sessionID, registrationID string) (int, error) {
	if r.SeatRankFunc != nil {
		return r.SeatRankFunc(ctx, tx, sessionID, registrationID)
	}
	return r.RegistrationRepo.SeatRank(ctx, tx, sessionID, registrationID)
}

// -----------------------------
// Fixture: every use case wired on one memory store
// -----------------------------

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	now       time.Time
	notifier  *MockNotifier
	processor *MockProcessor

	ledger     usecase.LedgerUseCase
	allowance  usecase.AllowanceService
	waitlist   usecase.WaitlistPromoter
	booking    usecase.BookingUseCase
	activation *usecase.ActivationUseCase
	upgrades   *usecase.UpgradeScheduler
	events     usecase.EventUseCase
	checkout   usecase.CheckoutUseCase
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     memory.New(),
		now:       now,
		notifier:  &MockNotifier{},
		processor: &MockProcessor{},
	}
	s := f.store
	log := newTestLogger()
	opts := []usecase.Option{usecase.WithClock(func() time.Time { return f.now })}

	f.ledger = usecase.NewLedgerUseCase(s, s.Memberships(), s.Ledger(), 3, log)
	f.allowance = usecase.NewAllowanceService(f.ledger, s.Registrations(), s.CheckIns(), time.UTC)
	f.waitlist = usecase.NewWaitlistPromoter(s, s.Users(), s.Sessions(), s.Registrations(), s.Memberships(), s.Plans(),
		f.allowance, f.notifier, 5, log, opts...)
	f.booking = usecase.NewBookingUseCase(s, s.Users(), s.Sessions(), s.Registrations(), s.CheckIns(), s.Memberships(), s.Plans(),
		f.allowance, f.waitlist, f.notifier, log, opts...)
	f.activation = usecase.NewActivationUseCase(s, s.Memberships(), s.Users(), f.notifier, log, opts...)
	f.upgrades = usecase.NewUpgradeScheduler(s.Memberships(), s.Plans(), f.processor, log, opts...)
	f.events = usecase.NewEventUseCase(s, s.Events(), s.Memberships(), s.Plans(), s.Products(), s.Purchases(),
		f.ledger, f.upgrades, f.activation, f.processor, log, opts...)
	f.checkout = usecase.NewCheckoutUseCase(s.Users(), s.Plans(), s.Products(), s.Memberships(), s.Purchases(),
		f.processor, log, opts...)
	return f
}

func (f *fixture) user(id string, role model.Role) *model.User {
	f.t.Helper()
	u, err := model.NewUser(id, id+"@club.test", role)
	if err != nil {
		f.t.Fatalf("new user: %v", err)
	}
	if err := f.store.Users().Save(f.ctx, nil, u); err != nil {
		f.t.Fatalf("save user: %v", err)
	}
	return u
}

func (f *fixture) plan(id string, rules model.BookingRules) *model.MembershipPlan {
	f.t.Helper()
	p, err := model.NewMembershipPlan(id, id, rules, 1, "price_"+id)
	if err != nil {
		f.t.Fatalf("new plan: %v", err)
	}
	if err := f.store.Plans().Save(f.ctx, nil, p); err != nil {
		f.t.Fatalf("save plan: %v", err)
	}
	return p
}

// membership saves an active membership covering all of 2024.
func (f *fixture) membership(userID string, plan *model.MembershipPlan, credits int) *model.Membership {
	f.t.Helper()
	m, err := model.NewMembership("m-"+userID, userID, plan, model.MembershipStatusActive, day(2024, 1, 1), day(2024, 12, 31))
	if err != nil {
		f.t.Fatalf("new membership: %v", err)
	}
	m.Usage.RemainingCredits = credits
	if err := f.store.Memberships().Save(f.ctx, nil, m); err != nil {
		f.t.Fatalf("save membership: %v", err)
	}
	return m
}

func (f *fixture) session(id string, capacity int, startsAt time.Time) *model.CourseSession {
	f.t.Helper()
	s, err := model.NewCourseSession(id, "Course "+id, capacity, startsAt, startsAt.Add(time.Hour))
	if err != nil {
		f.t.Fatalf("new session: %v", err)
	}
	if err := f.store.Sessions().Save(f.ctx, nil, s); err != nil {
		f.t.Fatalf("save session: %v", err)
	}
	return s
}

func (f *fixture) reload(membershipID string) *model.Membership {
	f.t.Helper()
	m, err := f.store.Memberships().FindByID(f.ctx, nil, membershipID)
	if err != nil {
		f.t.Fatalf("find membership %s: %v", membershipID, err)
	}
	return m
}

func (f *fixture) registration(id string) *model.Registration {
	f.t.Helper()
	r, err := f.store.Registrations().FindByID(f.ctx, nil, id)
	if err != nil {
		f.t.Fatalf("find registration %s: %v", id, err)
	}
	return r
}
