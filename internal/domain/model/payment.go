package model

import (
	"time"

	"course-booking-engine/internal/domain"
)

// ProcessedEvent marks a payment processor event as applied. Its insert is the
// first write of event processing, so a replay fails on the primary key.
type ProcessedEvent struct {
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

type PurchaseType string

const (
	PurchaseTypeMembership PurchaseType = "membership"
	PurchaseTypeTopUp      PurchaseType = "credit_topup"
	PurchaseTypeUpgrade    PurchaseType = "membership_upgrade"
	PurchaseTypeProduct    PurchaseType = "product"
)

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// PurchaseRecord tracks a checkout. Status only moves forward from pending.
type PurchaseRecord struct {
	ID                string
	UserID            string
	PlanID            *string
	ProductID         *string
	Type              PurchaseType
	ExternalSessionID string
	Status            PurchaseStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewPurchaseRecord(id, userID string, typ PurchaseType, planID, productID *string) (*PurchaseRecord, error) {
	if id == "" || userID == "" || typ == "" {
		return nil, domain.ErrInvalidArgument
	}
	if planID == nil && productID == nil {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	return &PurchaseRecord{
		ID:        id,
		UserID:    userID,
		PlanID:    planID,
		ProductID: productID,
		Type:      typ,
		Status:    PurchaseStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Product is a one-off purchasable item with limited stock.
type Product struct {
	ID       string
	Name     string
	PriceRef string
	Stock    int
}
