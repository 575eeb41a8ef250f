package postgres

import (
	"context"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Ensure interface compliance
var _ repository.MembershipPlanRepository = (*PostgresPlanRepo)(nil)

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

func (r *PostgresPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.MembershipPlan) error {
	rules, err := model.EncodeBookingRules(plan.Rules)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO membership_plans (id, name, booking_rules, duration_months, price_ref, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
  SET name            = EXCLUDED.name,
      booking_rules   = EXCLUDED.booking_rules,
      duration_months = EXCLUDED.duration_months,
      price_ref       = EXCLUDED.price_ref;`
	_, err = execSQL(ctx, r.pool, tx, q, plan.ID, plan.Name, string(rules), plan.DurationMonths, plan.PriceRef, plan.CreatedAt)
	return mapErr(err)
}

func (r *PostgresPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.MembershipPlan, error) {
	const q = `
SELECT id, name, booking_rules, duration_months, price_ref, created_at
  FROM membership_plans
 WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPlan(row)
}

func (r *PostgresPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.MembershipPlan, error) {
	const q = `
SELECT id, name, booking_rules, duration_months, price_ref, created_at
  FROM membership_plans
 ORDER BY created_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.MembershipPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// scanPlan decodes booking_rules into the closed rules type right here.
func scanPlan(row pgx.Row) (*model.MembershipPlan, error) {
	var p model.MembershipPlan
	var raw []byte
	if err := row.Scan(&p.ID, &p.Name, &raw, &p.DurationMonths, &p.PriceRef, &p.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	rules, err := model.DecodeBookingRules(raw)
	if err != nil {
		return nil, err
	}
	p.Rules = rules
	return &p, nil
}
