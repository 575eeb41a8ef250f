package model

import (
	"time"

	"course-booking-engine/internal/domain"
)

// CourseSession is one bookable occurrence of a course.
type CourseSession struct {
	ID                          string
	Title                       string
	Capacity                    int
	StartsAt                    time.Time
	EndsAt                      time.Time
	RegistrationDeadlineMinutes int
	CancellationDeadlineMinutes int
	Gated                       bool // closed to restricted-access plans
}

func NewCourseSession(id, title string, capacity int, startsAt, endsAt time.Time) (*CourseSession, error) {
	if id == "" || title == "" || capacity <= 0 || !endsAt.After(startsAt) {
		return nil, domain.ErrInvalidArgument
	}
	return &CourseSession{ID: id, Title: title, Capacity: capacity, StartsAt: startsAt, EndsAt: endsAt}, nil
}

// RegistrationClosed is true once now is past start minus the registration deadline.
func (s *CourseSession) RegistrationClosed(now time.Time) bool {
	return now.After(s.StartsAt.Add(-time.Duration(s.RegistrationDeadlineMinutes) * time.Minute))
}

// CancellationClosed is true once now is past start minus the cancellation deadline.
func (s *CourseSession) CancellationClosed(now time.Time) bool {
	return now.After(s.StartsAt.Add(-time.Duration(s.CancellationDeadlineMinutes) * time.Minute))
}
