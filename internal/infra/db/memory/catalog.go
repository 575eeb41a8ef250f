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
	_ repository.UserRepository           = (*UserRepo)(nil)
	_ repository.MembershipPlanRepository = (*PlanRepo)(nil)
	_ repository.ProductRepository        = (*ProductRepo)(nil)
)

type UserRepo struct{ s *Store }

func (r *UserRepo) Save(_ context.Context, tx repository.Tx, u *model.User) error {
	defer r.s.acquire(tx)()
	for id, other := range r.s.users {
		if id != u.ID && other.Email == u.Email {
			return domain.ErrAlreadyExists
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	r.s.users[u.ID] = clone(u)
	return nil
}

func (r *UserRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.User, error) {
	defer r.s.acquire(tx)()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(u), nil
}

type PlanRepo struct{ s *Store }

func (r *PlanRepo) Save(_ context.Context, tx repository.Tx, plan *model.MembershipPlan) error {
	if plan.Rules == nil || plan.DurationMonths <= 0 {
		return domain.ErrInvalidArgument
	}
	defer r.s.acquire(tx)()
	r.s.plans[plan.ID] = clone(plan)
	return nil
}

func (r *PlanRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.MembershipPlan, error) {
	defer r.s.acquire(tx)()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(p), nil
}

func (r *PlanRepo) ListAll(_ context.Context, tx repository.Tx) ([]*model.MembershipPlan, error) {
	defer r.s.acquire(tx)()
	out := make([]*model.MembershipPlan, 0, len(r.s.plans))
	for _, p := range r.s.plans {
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type ProductRepo struct{ s *Store }

func (r *ProductRepo) Save(_ context.Context, tx repository.Tx, p *model.Product) error {
	if p.Stock < 0 {
		return domain.ErrInvalidArgument
	}
	defer r.s.acquire(tx)()
	r.s.products[p.ID] = clone(p)
	return nil
}

func (r *ProductRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Product, error) {
	defer r.s.acquire(tx)()
	p, ok := r.s.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(p), nil
}

func (r *ProductRepo) DecrementStock(_ context.Context, tx repository.Tx, id string, qty int) (bool, error) {
	defer r.s.acquire(tx)()
	p, ok := r.s.products[id]
	if !ok || p.Stock < qty {
		return false, nil
	}
	cp := clone(p)
	cp.Stock -= qty
	r.s.products[id] = cp
	return true, nil
}
