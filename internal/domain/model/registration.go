package model

import (
	"time"

	"course-booking-engine/internal/domain"
)

type RegistrationStatus string

const (
	RegistrationStatusRegistered RegistrationStatus = "registered"
	RegistrationStatusWaitlist   RegistrationStatus = "waitlist"
	RegistrationStatusCancelled  RegistrationStatus = "cancelled"
)

const (
	CancelReasonUser     = "user"
	CancelReasonRollback = "rollback"
)

// Registration links a user to a session. Rows are only ever soft-cancelled.
type Registration struct {
	ID           string // ULID
	UserID       string
	SessionID    string
	MembershipID *string
	Status       RegistrationStatus
	RegisteredAt time.Time
	CancelledAt  *time.Time
	CancelReason string
}

func NewRegistration(id, userID, sessionID string, membershipID *string, status RegistrationStatus, at time.Time) (*Registration, error) {
	if id == "" || userID == "" || sessionID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if status != RegistrationStatusRegistered && status != RegistrationStatusWaitlist {
		return nil, domain.ErrInvalidArgument
	}
	return &Registration{
		ID:           id,
		UserID:       userID,
		SessionID:    sessionID,
		MembershipID: membershipID,
		Status:       status,
		RegisteredAt: at,
	}, nil
}

// CheckIn is a free-session visit. Metered plans count it like a registration.
type CheckIn struct {
	ID          string
	UserID      string
	CheckedInAt time.Time
}
