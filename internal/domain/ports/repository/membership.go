package repository

import (
	"context"
	"time"

	"course-booking-engine/internal/domain/model"
)

type MembershipRepository interface {
	// Save inserts a new membership. A second active membership for the same
	// user fails with domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, m *model.Membership) error
	// FindByID locks the row when tx is set.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Membership, error)
	// FindActiveByUser locks the row when tx is set.
	FindActiveByUser(ctx context.Context, tx Tx, userID string) (*model.Membership, error)
	// FindCurrentByUser returns the active membership, or failing that the
	// latest payment_failed one. Locks the row when tx is set.
	FindCurrentByUser(ctx context.Context, tx Tx, userID string) (*model.Membership, error)
	FindPendingByUser(ctx context.Context, tx Tx, userID string) (*model.Membership, error)
	FindByExternalSubscription(ctx context.Context, tx Tx, externalID string) (*model.Membership, error)
	ListPendingDue(ctx context.Context, tx Tx, asOf time.Time) ([]*model.Membership, error)
	// UpdateIfVersion writes the mutable fields of m only if the stored version
	// still equals expected. On success m.Version is bumped.
	UpdateIfVersion(ctx context.Context, tx Tx, m *model.Membership, expected int64) (bool, error)
}

type LedgerRepository interface {
	// Append fails with domain.ErrAlreadyExists when the idempotency key is taken.
	Append(ctx context.Context, tx Tx, e *model.LedgerEntry) error
	FindByKey(ctx context.Context, tx Tx, key string) (*model.LedgerEntry, error)
	ListByMembership(ctx context.Context, tx Tx, membershipID string) ([]*model.LedgerEntry, error)
}
