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
	_ repository.CourseSessionRepository = (*SessionRepo)(nil)
	_ repository.RegistrationRepository  = (*RegistrationRepo)(nil)
	_ repository.CheckInRepository       = (*CheckInRepo)(nil)
)

type SessionRepo struct{ s *Store }

func (r *SessionRepo) Save(_ context.Context, tx repository.Tx, cs *model.CourseSession) error {
	if cs.Capacity <= 0 {
		return domain.ErrInvalidArgument
	}
	defer r.s.acquire(tx)()
	r.s.sessions[cs.ID] = clone(cs)
	return nil
}

func (r *SessionRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.CourseSession, error) {
	defer r.s.acquire(tx)()
	cs, ok := r.s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(cs), nil
}

// LockByID needs a transaction; the transaction already holds the store lock.
func (r *SessionRepo) LockByID(ctx context.Context, tx repository.Tx, id string) (*model.CourseSession, error) {
	if _, ok := tx.(*memTx); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	return r.FindByID(ctx, tx, id)
}

type RegistrationRepo struct{ s *Store }

func (r *RegistrationRepo) Save(_ context.Context, tx repository.Tx, reg *model.Registration) error {
	defer r.s.acquire(tx)()
	if _, ok := r.s.registrations[reg.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if reg.Status != model.RegistrationStatusCancelled {
		for _, other := range r.s.registrations {
			if other.UserID == reg.UserID && other.SessionID == reg.SessionID && other.Status != model.RegistrationStatusCancelled {
				return domain.ErrAlreadyExists
			}
		}
	}
	r.s.registrations[reg.ID] = clone(reg)
	return nil
}

func (r *RegistrationRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Registration, error) {
	defer r.s.acquire(tx)()
	reg, ok := r.s.registrations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(reg), nil
}

func (r *RegistrationRepo) FindActiveByUserAndSession(_ context.Context, tx repository.Tx, userID, sessionID string) (*model.Registration, error) {
	defer r.s.acquire(tx)()
	for _, reg := range r.s.registrations {
		if reg.UserID == userID && reg.SessionID == sessionID && reg.Status != model.RegistrationStatusCancelled {
			return clone(reg), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *RegistrationRepo) CountRegistered(_ context.Context, tx repository.Tx, sessionID string) (int, error) {
	defer r.s.acquire(tx)()
	return len(r.ordered(sessionID, model.RegistrationStatusRegistered)), nil
}

func (r *RegistrationRepo) SeatRank(_ context.Context, tx repository.Tx, sessionID, registrationID string) (int, error) {
	defer r.s.acquire(tx)()
	for i, reg := range r.ordered(sessionID, model.RegistrationStatusRegistered) {
		if reg.ID == registrationID {
			return i + 1, nil
		}
	}
	return 0, nil
}

func (r *RegistrationRepo) ListWaitlist(_ context.Context, tx repository.Tx, sessionID string, limit int) ([]*model.Registration, error) {
	if limit <= 0 {
		limit = 1
	}
	defer r.s.acquire(tx)()
	rows := r.ordered(sessionID, model.RegistrationStatusWaitlist)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]*model.Registration, 0, len(rows))
	for _, reg := range rows {
		out = append(out, clone(reg))
	}
	return out, nil
}

// ordered returns the rows of a session in one status by (registered_at, id).
func (r *RegistrationRepo) ordered(sessionID string, status model.RegistrationStatus) []*model.Registration {
	var rows []*model.Registration
	for _, reg := range r.s.registrations {
		if reg.SessionID == sessionID && reg.Status == status {
			rows = append(rows, reg)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].RegisteredAt.Equal(rows[j].RegisteredAt) {
			return rows[i].RegisteredAt.Before(rows[j].RegisteredAt)
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

func (r *RegistrationRepo) UpdateStatusIf(_ context.Context, tx repository.Tx, id string, from, to model.RegistrationStatus, reason string, at time.Time) (bool, error) {
	defer r.s.acquire(tx)()
	cur, ok := r.s.registrations[id]
	if !ok || cur.Status != from {
		return false, nil
	}
	next := clone(cur)
	next.Status = to
	next.CancelReason = reason
	next.CancelledAt = nil
	if to == model.RegistrationStatusCancelled {
		next.CancelledAt = &at
	}
	r.s.registrations[id] = next
	return true, nil
}

func (r *RegistrationRepo) CountUserActiveBetween(_ context.Context, tx repository.Tx, userID string, from, to time.Time) (int, error) {
	defer r.s.acquire(tx)()
	n := 0
	for _, reg := range r.s.registrations {
		if reg.UserID != userID || reg.Status == model.RegistrationStatusCancelled {
			continue
		}
		cs, ok := r.s.sessions[reg.SessionID]
		if !ok {
			continue
		}
		if !cs.StartsAt.Before(from) && cs.StartsAt.Before(to) {
			n++
		}
	}
	return n, nil
}

type CheckInRepo struct{ s *Store }

func (r *CheckInRepo) Save(_ context.Context, tx repository.Tx, c *model.CheckIn) error {
	defer r.s.acquire(tx)()
	if _, ok := r.s.checkIns[c.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.s.checkIns[c.ID] = clone(c)
	return nil
}

func (r *CheckInRepo) CountByUserBetween(_ context.Context, tx repository.Tx, userID string, from, to time.Time) (int, error) {
	defer r.s.acquire(tx)()
	n := 0
	for _, c := range r.s.checkIns {
		if c.UserID == userID && !c.CheckedInAt.Before(from) && c.CheckedInAt.Before(to) {
			n++
		}
	}
	return n, nil
}
