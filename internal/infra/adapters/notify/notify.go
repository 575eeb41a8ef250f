package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"course-booking-engine/internal/domain/ports/adapter"
	"course-booking-engine/internal/infra/worker"
)

// Noop drops every notification.
type Noop struct{}

func (Noop) Notify(ctx context.Context, n adapter.Notification) error { return nil }

// Multi fans a notification out to every channel and joins their errors.
type Multi []adapter.Notifier

func (m Multi) Notify(ctx context.Context, n adapter.Notification) error {
	var errs []error
	for _, c := range m {
		if err := c.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async hands delivery to the worker pool so callers never wait on a broker
// or chat API. When the pool is saturated it delivers inline instead of
// dropping the message.
type Async struct {
	next adapter.Notifier
	pool *worker.Pool
	log  *zerolog.Logger
}

func NewAsync(next adapter.Notifier, pool *worker.Pool, logger *zerolog.Logger) *Async {
	l := logger.With().Str("component", "AsyncNotifier").Logger()
	return &Async{next: next, pool: pool, log: &l}
}

func (a *Async) Notify(ctx context.Context, n adapter.Notification) error {
	task := func(ctx context.Context) error {
		if err := a.next.Notify(ctx, n); err != nil {
			a.log.Warn().Err(err).Str("kind", string(n.Kind)).Str("user_id", n.UserID).Msg("notification not delivered")
			return err
		}
		return nil
	}
	if err := a.pool.Submit(task); errors.Is(err, worker.ErrQueueFull) {
		a.log.Debug().Msg("notify queue full, delivering inline")
		return task(context.WithoutCancel(ctx))
	} else if err != nil {
		return err
	}
	return nil
}
