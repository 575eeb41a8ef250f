package usecase

import (
	"time"

	"go.opentelemetry.io/otel"

	"course-booking-engine/internal/domain/entitlement"
	"course-booking-engine/internal/domain/model"
)

var tracer = otel.Tracer("course-booking-engine/usecase")

type options struct {
	now func() time.Time
	loc *time.Location
}

// Option adjusts the clock and timezone of a use case.
type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLocation sets the timezone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, loc: time.UTC}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// today is the current calendar day in loc, stored the way membership dates are.
func (o options) today() time.Time {
	return model.CalendarDay(model.DateOf(o.now(), o.loc), time.UTC)
}

// lastDayOf returns the inclusive end date of a membership starting on start.
func lastDayOf(start time.Time, months int) time.Time {
	return entitlement.AddMonths(start, months).AddDate(0, 0, -1)
}
