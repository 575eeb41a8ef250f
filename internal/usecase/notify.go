package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"course-booking-engine/internal/domain/ports/adapter"
)

// send hands n to the notifier. Delivery problems never fail the caller.
func send(ctx context.Context, notifier adapter.Notifier, log *zerolog.Logger, n adapter.Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Str("kind", string(n.Kind)).Str("user_id", n.UserID).Msg("notification not queued")
	}
}
