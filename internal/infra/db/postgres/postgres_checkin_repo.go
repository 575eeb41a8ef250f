package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

var _ repository.CheckInRepository = (*PostgresCheckInRepo)(nil)

type PostgresCheckInRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCheckInRepo(pool *pgxpool.Pool) *PostgresCheckInRepo {
	return &PostgresCheckInRepo{pool: pool}
}

func (r *PostgresCheckInRepo) Save(ctx context.Context, tx repository.Tx, c *model.CheckIn) error {
	const q = `INSERT INTO check_ins (id, user_id, checked_in_at) VALUES ($1,$2,$3);`
	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.UserID, c.CheckedInAt)
	return mapErr(err)
}

func (r *PostgresCheckInRepo) CountByUserBetween(ctx context.Context, tx repository.Tx, userID string, from, to time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM check_ins WHERE user_id=$1 AND checked_in_at >= $2 AND checked_in_at < $3;`
	row, err := pickRow(ctx, r.pool, tx, q, userID, from, to)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, mapErr(err)
	}
	return int(n), nil
}
