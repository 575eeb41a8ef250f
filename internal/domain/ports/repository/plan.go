package repository

import (
	"context"

	"course-booking-engine/internal/domain/model"
)

// MembershipPlanRepository is the port for plan persistence.
type MembershipPlanRepository interface {
	Save(ctx context.Context, tx Tx, plan *model.MembershipPlan) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.MembershipPlan, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.MembershipPlan, error)
}

type ProductRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Product) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Product, error)
	// DecrementStock lowers stock by qty unless that would go below zero.
	DecrementStock(ctx context.Context, tx Tx, id string, qty int) (bool, error)
}
