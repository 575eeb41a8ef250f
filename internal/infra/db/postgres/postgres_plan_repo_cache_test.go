//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
	red "course-booking-engine/internal/infra/redis"
)

func TestPlanRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	plan := &model.MembershipPlan{ID: "plan-123", Name: "Ten Pack", Rules: model.CreditRules{InitialAmount: 10}, DurationMonths: 3}
	planJSON, _ := json.Marshal(plan)

	t.Run("FindByID should return from cache on hit", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return string(planJSON), nil
			},
		}
		innerRepoCalled := false
		mockInnerRepo := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.MembershipPlan, error) {
				innerRepoCalled = true
				return nil, nil
			},
		}

		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute, nil)
		result, err := decorator.FindByID(ctx, nil, "plan-123")

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if innerRepoCalled {
			t.Error("inner repository should not be called on a cache hit")
		}
		if result == nil || result.ID != "plan-123" {
			t.Fatal("did not return the correct plan from cache")
		}
		if r, ok := result.Rules.(model.CreditRules); !ok || r.InitialAmount != 10 {
			t.Errorf("rules did not survive the cache, got %#v", result.Rules)
		}
	})

	t.Run("FindByID should fill the cache on miss", func(t *testing.T) {
		var setKey string
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return "", red.Nil
			},
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				setKey = key
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.MembershipPlan, error) {
				return plan, nil
			},
		}

		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute, nil)
		if _, err := decorator.FindByID(ctx, nil, "plan-123"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if setKey != "plan:plan-123" {
			t.Errorf("expected plan:plan-123 to be cached, got %q", setKey)
		}
	})

	t.Run("reads inside a transaction bypass the cache", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				t.Fatal("cache must not be read inside a transaction")
				return "", nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.MembershipPlan, error) {
				return plan, nil
			},
		}
		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute, nil)
		if _, err := decorator.FindByID(ctx, struct{}{}, "plan-123"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("Save should invalidate the cache", func(t *testing.T) {
		var deletedKeys []string
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				deletedKeys = append(deletedKeys, keys...)
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			SaveFunc: func(ctx context.Context, tx repository.Tx, plan *model.MembershipPlan) error {
				return nil
			},
		}

		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute, nil)
		if err := decorator.Save(ctx, nil, plan); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(deletedKeys) != 2 {
			t.Fatalf("expected 2 keys to be deleted, but got %d", len(deletedKeys))
		}
	})

	t.Run("Save keeps the cache when the write fails", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				t.Fatal("cache must not be touched after a failed save")
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			SaveFunc: func(ctx context.Context, tx repository.Tx, plan *model.MembershipPlan) error {
				return errors.New("boom")
			},
		}
		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Minute, nil)
		if err := decorator.Save(ctx, nil, plan); err == nil {
			t.Fatal("expected the inner error")
		}
	})
}
