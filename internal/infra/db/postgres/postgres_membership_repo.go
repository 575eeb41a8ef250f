package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

var _ repository.MembershipRepository = (*PostgresMembershipRepo)(nil)

type PostgresMembershipRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresMembershipRepo(pool *pgxpool.Pool) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{pool: pool}
}

const membershipCols = `id, user_id, plan_id, status, start_date, end_date, original_end_date,
       usage_data, external_subscription_id, version, created_at, updated_at`

func (r *PostgresMembershipRepo) Save(ctx context.Context, tx repository.Tx, m *model.Membership) error {
	usage, err := json.Marshal(m.Usage)
	if err != nil {
		return err
	}
	if m.Version == 0 {
		m.Version = 1
	}
	const q = `
INSERT INTO memberships (
  id, user_id, plan_id, status, start_date, end_date, original_end_date,
  usage_data, external_subscription_id, version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);`
	_, err = execSQL(ctx, r.pool, tx, q,
		m.ID, m.UserID, m.PlanID, string(m.Status), m.StartDate, m.EndDate, m.OriginalEndDate,
		string(usage), m.ExternalSubscriptionID, m.Version, m.CreatedAt, m.UpdatedAt)
	return mapErr(err)
}

func (r *PostgresMembershipRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Membership, error) {
	q := `SELECT ` + membershipCols + ` FROM memberships WHERE id=$1` + forUpdate(tx)
	return r.queryOne(ctx, tx, q, id)
}

func (r *PostgresMembershipRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Membership, error) {
	q := `SELECT ` + membershipCols + ` FROM memberships WHERE user_id=$1 AND status='active'` + forUpdate(tx)
	return r.queryOne(ctx, tx, q, userID)
}

func (r *PostgresMembershipRepo) FindCurrentByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Membership, error) {
	q := `SELECT ` + membershipCols + `
  FROM memberships
 WHERE user_id=$1 AND status IN ('active','payment_failed')
 ORDER BY (status='active') DESC, created_at DESC
 LIMIT 1` + forUpdate(tx)
	return r.queryOne(ctx, tx, q, userID)
}

func (r *PostgresMembershipRepo) FindPendingByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Membership, error) {
	q := `SELECT ` + membershipCols + `
  FROM memberships
 WHERE user_id=$1 AND status='pending_activation'
 ORDER BY created_at DESC
 LIMIT 1` + forUpdate(tx)
	return r.queryOne(ctx, tx, q, userID)
}

func (r *PostgresMembershipRepo) FindByExternalSubscription(ctx context.Context, tx repository.Tx, externalID string) (*model.Membership, error) {
	if externalID == "" {
		return nil, domain.ErrInvalidArgument
	}
	q := `SELECT ` + membershipCols + `
  FROM memberships
 WHERE external_subscription_id=$1
 ORDER BY created_at DESC
 LIMIT 1` + forUpdate(tx)
	return r.queryOne(ctx, tx, q, externalID)
}

func (r *PostgresMembershipRepo) ListPendingDue(ctx context.Context, tx repository.Tx, asOf time.Time) ([]*model.Membership, error) {
	q := `SELECT ` + membershipCols + `
  FROM memberships
 WHERE status='pending_activation' AND start_date <= $1::date
 ORDER BY start_date ASC, created_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, asOf.Format("2006-01-02"))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// UpdateIfVersion is the compare-and-swap write used for every membership change.
func (r *PostgresMembershipRepo) UpdateIfVersion(ctx context.Context, tx repository.Tx, m *model.Membership, expected int64) (bool, error) {
	usage, err := json.Marshal(m.Usage)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	const q = `
UPDATE memberships
   SET status=$3, end_date=$4, original_end_date=$5, usage_data=$6,
       external_subscription_id=$7, version=version+1, updated_at=$8
 WHERE id=$1 AND version=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		m.ID, expected, string(m.Status), m.EndDate, m.OriginalEndDate, string(usage),
		m.ExternalSubscriptionID, now)
	if err != nil {
		return false, mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	m.Version = expected + 1
	m.UpdatedAt = now
	return true, nil
}

func (r *PostgresMembershipRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Membership, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanMembership(row)
}

func scanMembership(row pgx.Row) (*model.Membership, error) {
	var m model.Membership
	var status string
	var usage []byte
	if err := row.Scan(&m.ID, &m.UserID, &m.PlanID, &status, &m.StartDate, &m.EndDate, &m.OriginalEndDate,
		&usage, &m.ExternalSubscriptionID, &m.Version, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	m.Status = model.MembershipStatus(status)
	if len(usage) > 0 {
		if err := json.Unmarshal(usage, &m.Usage); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &m, nil
}
