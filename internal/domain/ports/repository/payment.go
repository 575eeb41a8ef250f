package repository

import (
	"context"

	"course-booking-engine/internal/domain/model"
)

type ProcessedEventRepository interface {
	// Insert fails with domain.ErrDuplicateEvent when the event id is known.
	Insert(ctx context.Context, tx Tx, e *model.ProcessedEvent) error
}

type PurchaseRepository interface {
	Save(ctx context.Context, tx Tx, p *model.PurchaseRecord) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PurchaseRecord, error)
	SetExternalSession(ctx context.Context, tx Tx, id, externalSessionID string) error
	// UpdateStatusIfPending is forward-only: completed or failed rows are
	// never touched again.
	UpdateStatusIfPending(ctx context.Context, tx Tx, id string, status model.PurchaseStatus) (bool, error)
}
