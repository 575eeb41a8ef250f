package adapter

import (
	"context"
	"time"
)

type NotificationKind string

const (
	NotifyBookingConfirmed NotificationKind = "booking.confirmed"
	NotifyBookingCancelled NotificationKind = "booking.cancelled"
	NotifyWaitlisted       NotificationKind = "booking.waitlisted"
	NotifyPromoted         NotificationKind = "booking.promoted"
	NotifyMembershipActive NotificationKind = "membership.activated"
)

type Notification struct {
	Kind           NotificationKind `json:"kind"`
	UserID         string           `json:"user_id"`
	ChatID         int64            `json:"chat_id,omitempty"`
	SessionID      string           `json:"session_id,omitempty"`
	RegistrationID string           `json:"registration_id,omitempty"`
	MembershipID   string           `json:"membership_id,omitempty"`
	Text           string           `json:"text"`
	At             time.Time        `json:"at"`
}

// Notifier delivers member-facing messages. Delivery happens outside any
// storage transaction and may repeat.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
