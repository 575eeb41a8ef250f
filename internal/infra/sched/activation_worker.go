package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"course-booking-engine/internal/infra/redis"
)

// Activator is the part of the activation use case the worker drives.
type Activator interface {
	ActivateDue(ctx context.Context, now time.Time) (int, error)
}

const activationLockKey = "lock:activation-tick"

// ActivationWorker periodically activates pending memberships whose billing
// start has been reached. With a locker only one replica runs each tick.
type ActivationWorker struct {
	interval  time.Duration
	activator Activator
	locker    redis.Locker
	now       func() time.Time
	log       *zerolog.Logger
}

func NewActivationWorker(interval time.Duration, activator Activator, locker redis.Locker, logger *zerolog.Logger) *ActivationWorker {
	l := logger.With().Str("component", "ActivationWorker").Logger()
	return &ActivationWorker{
		interval:  interval,
		activator: activator,
		locker:    locker,
		now:       time.Now,
		log:       &l,
	}
}

func (w *ActivationWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting activation worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping activation worker")
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one activation pass. It reports whether this replica ran it.
func (w *ActivationWorker) Tick(ctx context.Context) bool {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, activationLockKey, w.interval)
		if errors.Is(err, redis.ErrLockHeld) {
			w.log.Debug().Msg("activation tick held by another replica")
			return false
		}
		if err != nil {
			w.log.Warn().Err(err).Msg("activation lock unavailable, skipping tick")
			return false
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), activationLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("activation unlock failed")
			}
		}()
	}

	n, err := w.activator.ActivateDue(ctx, w.now())
	if err != nil {
		w.log.Error().Err(err).Msg("activation worker error")
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("pending memberships activated")
	}
	return true
}
