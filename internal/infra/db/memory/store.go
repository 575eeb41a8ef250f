// Package memory is an in-process implementation of the repository ports.
// It backs dev mode and the use case tests. A transaction holds the store
// mutex for its whole duration and is undone from a snapshot on error, so
// transactions are fully serialised.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"

	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

var _ repository.TransactionManager = (*Store)(nil)

type Store struct {
	mu sync.Mutex

	users         map[string]*model.User
	plans         map[string]*model.MembershipPlan
	products      map[string]*model.Product
	memberships   map[string]*model.Membership
	ledger        map[string]*model.LedgerEntry // by idempotency key
	sessions      map[string]*model.CourseSession
	registrations map[string]*model.Registration
	checkIns      map[string]*model.CheckIn
	events        map[string]*model.ProcessedEvent
	purchases     map[string]*model.PurchaseRecord
}

func New() *Store {
	return &Store{
		users:         make(map[string]*model.User),
		plans:         make(map[string]*model.MembershipPlan),
		products:      make(map[string]*model.Product),
		memberships:   make(map[string]*model.Membership),
		ledger:        make(map[string]*model.LedgerEntry),
		sessions:      make(map[string]*model.CourseSession),
		registrations: make(map[string]*model.Registration),
		checkIns:      make(map[string]*model.CheckIn),
		events:        make(map[string]*model.ProcessedEvent),
		purchases:     make(map[string]*model.PurchaseRecord),
	}
}

// memTx is the handle passed to fn by WithTx. Repositories that receive it
// run without taking the mutex again.
type memTx struct {
	s *Store
}

// WithTx ignores txOpt: every transaction here is serialisable.
func (s *Store) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.restore(snap)
			panic(r)
		}
		if err != nil {
			s.restore(snap)
		}
	}()
	return fn(ctx, &memTx{s: s})
}

// acquire locks the store unless tx already holds it.
func (s *Store) acquire(tx repository.Tx) func() {
	if t, ok := tx.(*memTx); ok && t.s == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	users         map[string]*model.User
	plans         map[string]*model.MembershipPlan
	products      map[string]*model.Product
	memberships   map[string]*model.Membership
	ledger        map[string]*model.LedgerEntry
	sessions      map[string]*model.CourseSession
	registrations map[string]*model.Registration
	checkIns      map[string]*model.CheckIn
	events        map[string]*model.ProcessedEvent
	purchases     map[string]*model.PurchaseRecord
}

// Stored values are replaced on write and never mutated, so a shallow copy
// of each map is a consistent snapshot.
func (s *Store) snapshot() snapshot {
	return snapshot{
		users:         copyMap(s.users),
		plans:         copyMap(s.plans),
		products:      copyMap(s.products),
		memberships:   copyMap(s.memberships),
		ledger:        copyMap(s.ledger),
		sessions:      copyMap(s.sessions),
		registrations: copyMap(s.registrations),
		checkIns:      copyMap(s.checkIns),
		events:        copyMap(s.events),
		purchases:     copyMap(s.purchases),
	}
}

func (s *Store) restore(snap snapshot) {
	s.users = snap.users
	s.plans = snap.plans
	s.products = snap.products
	s.memberships = snap.memberships
	s.ledger = snap.ledger
	s.sessions = snap.sessions
	s.registrations = snap.registrations
	s.checkIns = snap.checkIns
	s.events = snap.events
	s.purchases = snap.purchases
}

func copyMap[V any](in map[string]*V) map[string]*V {
	out := make(map[string]*V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// clone returns a detached copy so callers never alias stored values.
func clone[V any](v *V) *V {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func (s *Store) Users() *UserRepo                 { return &UserRepo{s: s} }
func (s *Store) Plans() *PlanRepo                 { return &PlanRepo{s: s} }
func (s *Store) Products() *ProductRepo           { return &ProductRepo{s: s} }
func (s *Store) Memberships() *MembershipRepo     { return &MembershipRepo{s: s} }
func (s *Store) Ledger() *LedgerRepo              { return &LedgerRepo{s: s} }
func (s *Store) Sessions() *SessionRepo           { return &SessionRepo{s: s} }
func (s *Store) Registrations() *RegistrationRepo { return &RegistrationRepo{s: s} }
func (s *Store) CheckIns() *CheckInRepo           { return &CheckInRepo{s: s} }
func (s *Store) Events() *ProcessedEventRepo      { return &ProcessedEventRepo{s: s} }
func (s *Store) Purchases() *PurchaseRepo         { return &PurchaseRepo{s: s} }
