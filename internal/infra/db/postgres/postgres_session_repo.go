package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

var _ repository.CourseSessionRepository = (*PostgresSessionRepo)(nil)

type PostgresSessionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{pool: pool}
}

const sessionCols = `id, title, capacity, starts_at, ends_at,
       registration_deadline_minutes, cancellation_deadline_minutes, gated`

func (r *PostgresSessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.CourseSession) error {
	const q = `
INSERT INTO course_sessions (` + sessionCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  title=$2, capacity=$3, starts_at=$4, ends_at=$5,
  registration_deadline_minutes=$6, cancellation_deadline_minutes=$7, gated=$8;`
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.Title, s.Capacity, s.StartsAt, s.EndsAt,
		s.RegistrationDeadlineMinutes, s.CancellationDeadlineMinutes, s.Gated)
	return mapErr(err)
}

func (r *PostgresSessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.CourseSession, error) {
	const q = `SELECT ` + sessionCols + ` FROM course_sessions WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanSession(row)
}

// LockByID only makes sense inside a transaction.
func (r *PostgresSessionRepo) LockByID(ctx context.Context, tx repository.Tx, id string) (*model.CourseSession, error) {
	if _, ok := tx.(pgx.Tx); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	const q = `SELECT ` + sessionCols + ` FROM course_sessions WHERE id=$1 FOR UPDATE;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanSession(row)
}

func scanSession(row pgx.Row) (*model.CourseSession, error) {
	var s model.CourseSession
	if err := row.Scan(&s.ID, &s.Title, &s.Capacity, &s.StartsAt, &s.EndsAt,
		&s.RegistrationDeadlineMinutes, &s.CancellationDeadlineMinutes, &s.Gated); err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}
