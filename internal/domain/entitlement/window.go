package entitlement

import (
	"time"

	"course-booking-engine/internal/domain/model"
)

// Window is a half-open usage period [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// MeteredWindow returns the period of rules that contains at. anchor is a
// calendar date, usually the membership start date.
// Monthly periods start on the anchor's day of month, clamped to the last
// day of shorter months. Weekly periods are ISO weeks, Monday to Sunday.
func MeteredWindow(rules model.MeteredRules, anchor, at time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	if rules.Period == model.PeriodWeek {
		return WeekWindow(at, loc)
	}
	return MonthWindow(anchor, at, loc)
}

func WeekWindow(at time.Time, loc *time.Location) Window {
	day := model.DateOf(at, loc)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	start := day.AddDate(0, 0, -offset)
	return Window{Start: start, End: start.AddDate(0, 0, 7)}
}

func MonthWindow(anchor, at time.Time, loc *time.Location) Window {
	anchorDay := anchor.Day()
	day := model.DateOf(at, loc)

	y, m := day.Year(), day.Month()
	start := anchoredDate(y, m, anchorDay, loc)
	if day.Before(start) {
		y, m = prevMonth(y, m)
		start = anchoredDate(y, m, anchorDay, loc)
	}
	ny, nm := nextMonth(y, m)
	return Window{Start: start, End: anchoredDate(ny, nm, anchorDay, loc)}
}

// AddMonths moves t by n calendar months keeping the day of month where
// possible and clamping to the last day otherwise (Jan 31 + 1 = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + n
	y += total / 12
	mi := total % 12
	if mi < 0 {
		mi += 12
		y--
	}
	month := time.Month(mi + 1)
	if last := daysIn(y, month); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(y, month, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func anchoredDate(y int, m time.Month, day int, loc *time.Location) time.Time {
	if last := daysIn(y, m); day > last {
		day = last
	}
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func prevMonth(y int, m time.Month) (int, time.Month) {
	if m == time.January {
		return y - 1, time.December
	}
	return y, m - 1
}

func nextMonth(y int, m time.Month) (int, time.Month) {
	if m == time.December {
		return y + 1, time.January
	}
	return y, m + 1
}
