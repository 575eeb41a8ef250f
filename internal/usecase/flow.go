package usecase

import (
	"github.com/rs/zerolog"

	"course-booking-engine/internal/infra/metrics"
)

// BookingState is a step of the registration state machine.
type BookingState string

const (
	StateChecking        BookingState = "CHECKING"
	StateReserving       BookingState = "RESERVING"
	StateDebiting        BookingState = "DEBITING"
	StateConfirmed       BookingState = "CONFIRMED"
	StateWaitlistOffered BookingState = "WAITLIST_OFFERED"
	StateRollingBack     BookingState = "ROLLING_BACK"
	StateFailed          BookingState = "FAILED"
)

var bookingEdges = map[BookingState][]BookingState{
	"":                   {StateChecking},
	StateChecking:        {StateReserving, StateWaitlistOffered, StateFailed},
	StateReserving:       {StateDebiting, StateConfirmed, StateFailed},
	StateDebiting:        {StateConfirmed, StateRollingBack},
	StateConfirmed:       {StateRollingBack},
	StateWaitlistOffered: {StateFailed},
	StateRollingBack:     {StateFailed},
}

func canMove(from, to BookingState) bool {
	for _, s := range bookingEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// bookingFlow records the path of one booking or promotion through the state
// machine. Every transition is logged and counted.
type bookingFlow struct {
	name  string
	state BookingState
	log   zerolog.Logger
}

func newBookingFlow(name string, log zerolog.Logger) *bookingFlow {
	return &bookingFlow{name: name, log: log}
}

func (f *bookingFlow) to(next BookingState) {
	if !canMove(f.state, next) {
		f.log.Error().Str("from", string(f.state)).Str("to", string(next)).Msg("illegal booking transition")
	}
	f.log.Debug().Str("from", string(f.state)).Str("to", string(next)).Msg("booking transition")
	f.state = next
	metrics.IncBookingTransition(f.name, string(next))
}
