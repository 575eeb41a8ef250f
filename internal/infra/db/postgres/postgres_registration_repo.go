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

var _ repository.RegistrationRepository = (*PostgresRegistrationRepo)(nil)

type PostgresRegistrationRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistrationRepo(pool *pgxpool.Pool) *PostgresRegistrationRepo {
	return &PostgresRegistrationRepo{pool: pool}
}

const registrationCols = `id, user_id, session_id, membership_id, status, registered_at, cancelled_at, cancel_reason`

func (r *PostgresRegistrationRepo) Save(ctx context.Context, tx repository.Tx, reg *model.Registration) error {
	const q = `
INSERT INTO registrations (` + registrationCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err := execSQL(ctx, r.pool, tx, q, reg.ID, reg.UserID, reg.SessionID, reg.MembershipID,
		string(reg.Status), reg.RegisteredAt, reg.CancelledAt, reg.CancelReason)
	return mapErr(err)
}

func (r *PostgresRegistrationRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Registration, error) {
	q := `SELECT ` + registrationCols + ` FROM registrations WHERE id=$1` + forUpdate(tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanRegistration(row)
}

func (r *PostgresRegistrationRepo) FindActiveByUserAndSession(ctx context.Context, tx repository.Tx, userID, sessionID string) (*model.Registration, error) {
	const q = `SELECT ` + registrationCols + `
  FROM registrations
 WHERE user_id=$1 AND session_id=$2 AND status <> 'cancelled';`
	row, err := pickRow(ctx, r.pool, tx, q, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return scanRegistration(row)
}

func (r *PostgresRegistrationRepo) CountRegistered(ctx context.Context, tx repository.Tx, sessionID string) (int, error) {
	const q = `SELECT COUNT(*) FROM registrations WHERE session_id=$1 AND status='registered';`
	return r.count(ctx, tx, q, sessionID)
}

func (r *PostgresRegistrationRepo) SeatRank(ctx context.Context, tx repository.Tx, sessionID, registrationID string) (int, error) {
	const q = `
SELECT rank FROM (
  SELECT id, ROW_NUMBER() OVER (ORDER BY registered_at ASC, id ASC) AS rank
    FROM registrations
   WHERE session_id=$1 AND status='registered'
) ranked
WHERE id=$2;`
	n, err := r.count(ctx, tx, q, sessionID, registrationID)
	if err == domain.ErrNotFound {
		return 0, nil
	}
	return n, err
}

func (r *PostgresRegistrationRepo) ListWaitlist(ctx context.Context, tx repository.Tx, sessionID string, limit int) ([]*model.Registration, error) {
	if limit <= 0 {
		limit = 1
	}
	const q = `SELECT ` + registrationCols + `
  FROM registrations
 WHERE session_id=$1 AND status='waitlist'
 ORDER BY registered_at ASC, id ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, sessionID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *PostgresRegistrationRepo) UpdateStatusIf(ctx context.Context, tx repository.Tx, id string, from, to model.RegistrationStatus, reason string, at time.Time) (bool, error) {
	var cancelledAt *time.Time
	if to == model.RegistrationStatusCancelled {
		cancelledAt = &at
	}
	const q = `
UPDATE registrations
   SET status=$3, cancelled_at=$4, cancel_reason=$5
 WHERE id=$1 AND status=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(from), string(to), cancelledAt, reason)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRegistrationRepo) CountUserActiveBetween(ctx context.Context, tx repository.Tx, userID string, from, to time.Time) (int, error) {
	const q = `
SELECT COUNT(*)
  FROM registrations r
  JOIN course_sessions s ON s.id = r.session_id
 WHERE r.user_id=$1 AND r.status <> 'cancelled'
   AND s.starts_at >= $2 AND s.starts_at < $3;`
	return r.count(ctx, tx, q, userID, from, to)
}

func (r *PostgresRegistrationRepo) count(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, mapErr(err)
	}
	return int(n), nil
}

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var reg model.Registration
	var status string
	if err := row.Scan(&reg.ID, &reg.UserID, &reg.SessionID, &reg.MembershipID, &status,
		&reg.RegisteredAt, &reg.CancelledAt, &reg.CancelReason); err != nil {
		return nil, mapErr(err)
	}
	reg.Status = model.RegistrationStatus(status)
	return &reg, nil
}
