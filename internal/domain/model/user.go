package model

import (
	"time"

	"course-booking-engine/internal/domain"

	"github.com/google/uuid"
)

type Role string

const (
	RoleMember Role = "member"
	RoleCoach  Role = "coach"
	RoleAdmin  Role = "admin"
)

// User is a club member or staff account. TelegramChatID is optional and
// only used for notifications.
type User struct {
	ID             string
	Email          string
	Role           Role
	TelegramChatID int64
	CreatedAt      time.Time
}

func NewUser(id, email string, role Role) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if email == "" {
		return nil, domain.ErrInvalidArgument
	}
	switch role {
	case "":
		role = RoleMember
	case RoleMember, RoleCoach, RoleAdmin:
	default:
		return nil, domain.ErrInvalidArgument
	}
	return &User{ID: id, Email: email, Role: role, CreatedAt: time.Now()}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

// Elevated roles book without a membership and without debit.
func (u *User) Elevated() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleCoach)
}
