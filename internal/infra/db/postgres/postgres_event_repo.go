package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

var _ repository.ProcessedEventRepository = (*PostgresProcessedEventRepo)(nil)

type PostgresProcessedEventRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresProcessedEventRepo(pool *pgxpool.Pool) *PostgresProcessedEventRepo {
	return &PostgresProcessedEventRepo{pool: pool}
}

func (r *PostgresProcessedEventRepo) Insert(ctx context.Context, tx repository.Tx, e *model.ProcessedEvent) error {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}
	const q = `INSERT INTO processed_events (event_id, event_type, processed_at) VALUES ($1,$2,$3);`
	_, err := execSQL(ctx, r.pool, tx, q, e.EventID, e.EventType, e.ProcessedAt)
	if err = mapErr(err); errors.Is(err, domain.ErrAlreadyExists) {
		return domain.ErrDuplicateEvent
	}
	return err
}
