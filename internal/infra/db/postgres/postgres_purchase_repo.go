package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

type PostgresPurchaseRepo struct {
	db *pgxpool.Pool
}

func NewPostgresPurchaseRepo(db *pgxpool.Pool) *PostgresPurchaseRepo {
	return &PostgresPurchaseRepo{db: db}
}

var _ repository.PurchaseRepository = (*PostgresPurchaseRepo)(nil)

func (r *PostgresPurchaseRepo) Save(ctx context.Context, tx repository.Tx, pu *model.PurchaseRecord) error {
	if pu.CreatedAt.IsZero() {
		pu.CreatedAt = time.Now().UTC()
	}
	if pu.UpdatedAt.IsZero() {
		pu.UpdatedAt = pu.CreatedAt
	}
	const q = `
INSERT INTO purchase_records (id, user_id, plan_id, product_id, purchase_type, external_session_id, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	_, err := execSQL(ctx, r.db, tx, q, pu.ID, pu.UserID, pu.PlanID, pu.ProductID, string(pu.Type),
		pu.ExternalSessionID, string(pu.Status), pu.CreatedAt, pu.UpdatedAt)
	return mapErr(err)
}

func (r *PostgresPurchaseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PurchaseRecord, error) {
	const q = `
SELECT id, user_id, plan_id, product_id, purchase_type, external_session_id, status, created_at, updated_at
  FROM purchase_records WHERE id=$1;`
	row, err := pickRow(ctx, r.db, tx, q, id)
	if err != nil {
		return nil, err
	}
	var pu model.PurchaseRecord
	var typ, status string
	if err := row.Scan(&pu.ID, &pu.UserID, &pu.PlanID, &pu.ProductID, &typ, &pu.ExternalSessionID,
		&status, &pu.CreatedAt, &pu.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	pu.Type = model.PurchaseType(typ)
	pu.Status = model.PurchaseStatus(status)
	return &pu, nil
}

func (r *PostgresPurchaseRepo) SetExternalSession(ctx context.Context, tx repository.Tx, id, externalSessionID string) error {
	const q = `UPDATE purchase_records SET external_session_id=$2, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.db, tx, q, id, externalSessionID)
	return mapErr(err)
}

func (r *PostgresPurchaseRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, id string, status model.PurchaseStatus) (bool, error) {
	const q = `UPDATE purchase_records SET status=$2, updated_at=NOW() WHERE id=$1 AND status='pending';`
	tag, err := execSQL(ctx, r.db, tx, q, id, string(status))
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}
