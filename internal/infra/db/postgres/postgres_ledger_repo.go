package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

var _ repository.LedgerRepository = (*PostgresLedgerRepo)(nil)

type PostgresLedgerRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresLedgerRepo(pool *pgxpool.Pool) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{pool: pool}
}

func (r *PostgresLedgerRepo) Append(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO ledger_entries (id, membership_id, idempotency_key, delta, balance_after, reason, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7);`
	_, err := execSQL(ctx, r.pool, tx, q, e.ID, e.MembershipID, e.IdempotencyKey, e.Delta, e.BalanceAfter, e.Reason, e.CreatedAt)
	return mapErr(err)
}

func (r *PostgresLedgerRepo) FindByKey(ctx context.Context, tx repository.Tx, key string) (*model.LedgerEntry, error) {
	const q = `
SELECT id, membership_id, idempotency_key, delta, balance_after, reason, created_at
  FROM ledger_entries WHERE idempotency_key=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, key)
	if err != nil {
		return nil, err
	}
	return scanLedgerEntry(row)
}

func (r *PostgresLedgerRepo) ListByMembership(ctx context.Context, tx repository.Tx, membershipID string) ([]*model.LedgerEntry, error) {
	const q = `
SELECT id, membership_id, idempotency_key, delta, balance_after, reason, created_at
  FROM ledger_entries WHERE membership_id=$1
 ORDER BY created_at ASC, id ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, membershipID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanLedgerEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	if err := row.Scan(&e.ID, &e.MembershipID, &e.IdempotencyKey, &e.Delta, &e.BalanceAfter, &e.Reason, &e.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}
