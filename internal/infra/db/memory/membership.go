package memory

import (
	"context"
	"sort"
	"time"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

var (
	_ repository.MembershipRepository = (*MembershipRepo)(nil)
	_ repository.LedgerRepository     = (*LedgerRepo)(nil)
)

type MembershipRepo struct{ s *Store }

func (r *MembershipRepo) Save(_ context.Context, tx repository.Tx, m *model.Membership) error {
	if m.Usage.RemainingCredits < 0 {
		return domain.ErrInvalidArgument
	}
	defer r.s.acquire(tx)()
	if _, ok := r.s.memberships[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if err := r.checkOneActive(m); err != nil {
		return err
	}
	if m.Version == 0 {
		m.Version = 1
	}
	r.s.memberships[m.ID] = clone(m)
	return nil
}

// checkOneActive mirrors the partial unique index on active memberships.
func (r *MembershipRepo) checkOneActive(m *model.Membership) error {
	if m.Status != model.MembershipStatusActive {
		return nil
	}
	for id, other := range r.s.memberships {
		if id != m.ID && other.UserID == m.UserID && other.Status == model.MembershipStatusActive {
			return domain.ErrAlreadyExists
		}
	}
	return nil
}

func (r *MembershipRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Membership, error) {
	defer r.s.acquire(tx)()
	m, ok := r.s.memberships[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(m), nil
}

func (r *MembershipRepo) FindActiveByUser(_ context.Context, tx repository.Tx, userID string) (*model.Membership, error) {
	defer r.s.acquire(tx)()
	return r.latest(func(m *model.Membership) bool {
		return m.UserID == userID && m.Status == model.MembershipStatusActive
	})
}

func (r *MembershipRepo) FindCurrentByUser(_ context.Context, tx repository.Tx, userID string) (*model.Membership, error) {
	defer r.s.acquire(tx)()
	m, err := r.latest(func(m *model.Membership) bool {
		return m.UserID == userID && m.Status == model.MembershipStatusActive
	})
	if err == nil {
		return m, nil
	}
	return r.latest(func(m *model.Membership) bool {
		return m.UserID == userID && m.Status == model.MembershipStatusPaymentFailed
	})
}

func (r *MembershipRepo) FindPendingByUser(_ context.Context, tx repository.Tx, userID string) (*model.Membership, error) {
	defer r.s.acquire(tx)()
	return r.latest(func(m *model.Membership) bool {
		return m.UserID == userID && m.Status == model.MembershipStatusPendingActivation
	})
}

func (r *MembershipRepo) FindByExternalSubscription(_ context.Context, tx repository.Tx, externalID string) (*model.Membership, error) {
	if externalID == "" {
		return nil, domain.ErrInvalidArgument
	}
	defer r.s.acquire(tx)()
	return r.latest(func(m *model.Membership) bool { return m.ExternalSubscriptionID == externalID })
}

func (r *MembershipRepo) latest(match func(*model.Membership) bool) (*model.Membership, error) {
	var found *model.Membership
	for _, m := range r.s.memberships {
		if !match(m) {
			continue
		}
		if found == nil || m.CreatedAt.After(found.CreatedAt) {
			found = m
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return clone(found), nil
}

func (r *MembershipRepo) ListPendingDue(_ context.Context, tx repository.Tx, asOf time.Time) ([]*model.Membership, error) {
	defer r.s.acquire(tx)()
	today := model.CalendarDay(asOf, time.UTC)
	var out []*model.Membership
	for _, m := range r.s.memberships {
		if m.Status == model.MembershipStatusPendingActivation && !model.CalendarDay(m.StartDate, time.UTC).After(today) {
			out = append(out, clone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MembershipRepo) UpdateIfVersion(_ context.Context, tx repository.Tx, m *model.Membership, expected int64) (bool, error) {
	if m.Usage.RemainingCredits < 0 {
		return false, domain.ErrInvalidArgument
	}
	defer r.s.acquire(tx)()
	cur, ok := r.s.memberships[m.ID]
	if !ok || cur.Version != expected {
		return false, nil
	}
	if err := r.checkOneActive(m); err != nil {
		return false, err
	}
	next := clone(cur)
	next.Status = m.Status
	next.EndDate = m.EndDate
	next.OriginalEndDate = m.OriginalEndDate
	next.Usage = m.Usage
	next.ExternalSubscriptionID = m.ExternalSubscriptionID
	next.Version = expected + 1
	next.UpdatedAt = time.Now().UTC()
	r.s.memberships[m.ID] = next

	m.Version = next.Version
	m.UpdatedAt = next.UpdatedAt
	return true, nil
}

type LedgerRepo struct{ s *Store }

func (r *LedgerRepo) Append(_ context.Context, tx repository.Tx, e *model.LedgerEntry) error {
	if e.BalanceAfter < 0 {
		return domain.ErrInvalidArgument
	}
	defer r.s.acquire(tx)()
	if _, ok := r.s.ledger[e.IdempotencyKey]; ok {
		return domain.ErrAlreadyExists
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.s.ledger[e.IdempotencyKey] = clone(e)
	return nil
}

func (r *LedgerRepo) FindByKey(_ context.Context, tx repository.Tx, key string) (*model.LedgerEntry, error) {
	defer r.s.acquire(tx)()
	e, ok := r.s.ledger[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(e), nil
}

func (r *LedgerRepo) ListByMembership(_ context.Context, tx repository.Tx, membershipID string) ([]*model.LedgerEntry, error) {
	defer r.s.acquire(tx)()
	var out []*model.LedgerEntry
	for _, e := range r.s.ledger {
		if e.MembershipID == membershipID {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
