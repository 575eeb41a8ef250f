package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
)

var _ repository.ProductRepository = (*PostgresProductRepo)(nil)

type PostgresProductRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresProductRepo(pool *pgxpool.Pool) *PostgresProductRepo {
	return &PostgresProductRepo{pool: pool}
}

func (r *PostgresProductRepo) Save(ctx context.Context, tx repository.Tx, p *model.Product) error {
	const q = `
INSERT INTO products (id, name, price_ref, stock) VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET name=$2, price_ref=$3, stock=$4;`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Name, p.PriceRef, p.Stock)
	return mapErr(err)
}

func (r *PostgresProductRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Product, error) {
	const q = `SELECT id, name, price_ref, stock FROM products WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var p model.Product
	if err := row.Scan(&p.ID, &p.Name, &p.PriceRef, &p.Stock); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

// DecrementStock never takes stock below zero.
func (r *PostgresProductRepo) DecrementStock(ctx context.Context, tx repository.Tx, id string, qty int) (bool, error) {
	const q = `UPDATE products SET stock = stock - $2 WHERE id=$1 AND stock >= $2;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, qty)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}
