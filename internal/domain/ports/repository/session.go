package repository

import (
	"context"
	"time"

	"course-booking-engine/internal/domain/model"
)

type CourseSessionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.CourseSession) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.CourseSession, error)
	// LockByID reads the session holding a row lock until tx ends.
	// It serialises all seat decisions for that session.
	LockByID(ctx context.Context, tx Tx, id string) (*model.CourseSession, error)
}

type RegistrationRepository interface {
	// Save inserts a registration. A second non-cancelled row for the same
	// (user, session) fails with domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, r *model.Registration) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Registration, error)
	FindActiveByUserAndSession(ctx context.Context, tx Tx, userID, sessionID string) (*model.Registration, error)
	CountRegistered(ctx context.Context, tx Tx, sessionID string) (int, error)
	// SeatRank is the 1-based position of the registration among the
	// registered rows of its session ordered by (registered_at, id).
	// Zero means the row is not registered.
	SeatRank(ctx context.Context, tx Tx, sessionID, registrationID string) (int, error)
	// ListWaitlist returns waitlisted rows oldest first.
	ListWaitlist(ctx context.Context, tx Tx, sessionID string, limit int) ([]*model.Registration, error)
	// UpdateStatusIf moves the row from one status to another and reports
	// whether the row was still in status from.
	UpdateStatusIf(ctx context.Context, tx Tx, id string, from, to model.RegistrationStatus, reason string, at time.Time) (bool, error)
	// CountUserActiveBetween counts the user's non-cancelled rows, waitlist
	// included, whose session starts in [from, to).
	CountUserActiveBetween(ctx context.Context, tx Tx, userID string, from, to time.Time) (int, error)
}

type CheckInRepository interface {
	Save(ctx context.Context, tx Tx, c *model.CheckIn) error
	CountByUserBetween(ctx context.Context, tx Tx, userID string, from, to time.Time) (int, error)
}
