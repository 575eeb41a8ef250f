package memory

import (
	"context"
	"time"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

var (
	_ repository.ProcessedEventRepository = (*ProcessedEventRepo)(nil)
	_ repository.PurchaseRepository       = (*PurchaseRepo)(nil)
)

type ProcessedEventRepo struct{ s *Store }

func (r *ProcessedEventRepo) Insert(_ context.Context, tx repository.Tx, e *model.ProcessedEvent) error {
	defer r.s.acquire(tx)()
	if _, ok := r.s.events[e.EventID]; ok {
		return domain.ErrDuplicateEvent
	}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}
	r.s.events[e.EventID] = clone(e)
	return nil
}

type PurchaseRepo struct{ s *Store }

func (r *PurchaseRepo) Save(_ context.Context, tx repository.Tx, p *model.PurchaseRecord) error {
	defer r.s.acquire(tx)()
	if _, ok := r.s.purchases[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.s.purchases[p.ID] = clone(p)
	return nil
}

func (r *PurchaseRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.PurchaseRecord, error) {
	defer r.s.acquire(tx)()
	p, ok := r.s.purchases[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(p), nil
}

func (r *PurchaseRepo) SetExternalSession(_ context.Context, tx repository.Tx, id, externalSessionID string) error {
	defer r.s.acquire(tx)()
	p, ok := r.s.purchases[id]
	if !ok {
		return domain.ErrNotFound
	}
	next := clone(p)
	next.ExternalSessionID = externalSessionID
	next.UpdatedAt = time.Now().UTC()
	r.s.purchases[id] = next
	return nil
}

func (r *PurchaseRepo) UpdateStatusIfPending(_ context.Context, tx repository.Tx, id string, status model.PurchaseStatus) (bool, error) {
	defer r.s.acquire(tx)()
	p, ok := r.s.purchases[id]
	if !ok || p.Status != model.PurchaseStatusPending {
		return false, nil
	}
	next := clone(p)
	next.Status = status
	next.UpdatedAt = time.Now().UTC()
	r.s.purchases[id] = next
	return true, nil
}
