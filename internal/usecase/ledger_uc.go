package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"course-booking-engine/internal/domain"
	"course-booking-engine/internal/domain/model"
	"course-booking-engine/internal/domain/ports/repository"
	"course-booking-engine/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase changes the stored credit balance of a membership. Every
// change is keyed: repeating a key returns the entry written the first time.
//
// A nil tx runs each attempt in its own transaction and retries version
// conflicts. A non-nil tx makes exactly one attempt inside the caller's
// transaction and reports a conflict as domain.ErrConflict.
type LedgerUseCase interface {
	Debit(ctx context.Context, tx repository.Tx, membershipID string, amount int, key string) (*model.LedgerEntry, error)
	Credit(ctx context.Context, tx repository.Tx, membershipID string, amount int, key string) (*model.LedgerEntry, error)
	// Reverse undoes whatever originalKey changed, at most once: every
	// caller reverses under ReversalKey(originalKey). Nothing recorded under
	// originalKey means nothing to undo: it returns nil, nil.
	Reverse(ctx context.Context, tx repository.Tx, originalKey, reason string) (*model.LedgerEntry, error)
}

var errVersionMiss = errors.New("membership version changed")

// ReversalKey is the one key an entry keyed originalKey can be reversed under.
func ReversalKey(originalKey string) string { return "reverse:" + originalKey }

type ledgerUC struct {
	tm          repository.TransactionManager
	memberships repository.MembershipRepository
	entries     repository.LedgerRepository
	maxAttempts int
	log         *zerolog.Logger
}

func NewLedgerUseCase(tm repository.TransactionManager, memberships repository.MembershipRepository, entries repository.LedgerRepository, maxAttempts int, logger *zerolog.Logger) *ledgerUC {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ledgerUC{tm: tm, memberships: memberships, entries: entries, maxAttempts: maxAttempts, log: logger}
}

func (u *ledgerUC) Debit(ctx context.Context, tx repository.Tx, membershipID string, amount int, key string) (*model.LedgerEntry, error) {
	if amount <= 0 || key == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.apply(ctx, tx, "debit", "debit", membershipID, -amount, key)
}

func (u *ledgerUC) Credit(ctx context.Context, tx repository.Tx, membershipID string, amount int, key string) (*model.LedgerEntry, error) {
	if amount <= 0 || key == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.apply(ctx, tx, "credit", "credit", membershipID, amount, key)
}

func (u *ledgerUC) Reverse(ctx context.Context, tx repository.Tx, originalKey, reason string) (*model.LedgerEntry, error) {
	if originalKey == "" {
		return nil, domain.ErrInvalidArgument
	}
	if reason == "" {
		reason = "reverse"
	}
	orig, err := u.entries.FindByKey(ctx, tx, originalKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if orig.Delta == 0 {
		return nil, nil
	}
	return u.apply(ctx, tx, "reverse", reason, orig.MembershipID, -orig.Delta, ReversalKey(originalKey))
}

func (u *ledgerUC) apply(ctx context.Context, tx repository.Tx, op, reason, membershipID string, delta int, key string) (*model.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "LedgerUseCase."+op)
	defer span.End()

	if tx != nil {
		e, err := u.attempt(ctx, tx, reason, membershipID, delta, key)
		if errors.Is(err, errVersionMiss) {
			err = fmt.Errorf("%s %s: %w", op, key, domain.ErrConflict)
		}
		u.record(op, err)
		return e, err
	}

	for i := 1; i <= u.maxAttempts; i++ {
		var e *model.LedgerEntry
		err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
			var err error
			e, err = u.attempt(ctx, tx, reason, membershipID, delta, key)
			return err
		})
		if err == nil {
			u.record(op, nil)
			return e, nil
		}
		if !errors.Is(err, errVersionMiss) && !errors.Is(err, domain.ErrConflict) {
			u.record(op, err)
			return nil, err
		}
		metrics.IncLedgerRetry()
		u.log.Debug().Str("op", op).Str("key", key).Int("attempt", i).Msg("ledger version conflict, retrying")
	}
	err := fmt.Errorf("%s %s after %d attempts: %w", op, key, u.maxAttempts, domain.ErrConflict)
	u.record(op, err)
	return nil, err
}

func (u *ledgerUC) attempt(ctx context.Context, tx repository.Tx, reason, membershipID string, delta int, key string) (*model.LedgerEntry, error) {
	existing, err := u.entries.FindByKey(ctx, tx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	m, err := u.memberships.FindByID(ctx, tx, membershipID)
	if err != nil {
		return nil, err
	}
	balance := m.Usage.RemainingCredits + delta
	if balance < 0 {
		return nil, domain.WithReason(domain.ErrInsufficientCredits, fmt.Sprintf("no credits left (%d)", m.Usage.RemainingCredits))
	}

	expected := m.Version
	m.Usage.RemainingCredits = balance
	ok, err := u.memberships.UpdateIfVersion(ctx, tx, m, expected)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errVersionMiss
	}

	e := &model.LedgerEntry{
		ID:             uuid.NewString(),
		MembershipID:   m.ID,
		IdempotencyKey: key,
		Delta:          delta,
		BalanceAfter:   balance,
		Reason:         reason,
	}
	if err := u.entries.Append(ctx, tx, e); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// same key written concurrently; the retry returns that entry
			return nil, errVersionMiss
		}
		return nil, err
	}
	return e, nil
}

func (u *ledgerUC) record(op string, err error) {
	switch {
	case err == nil:
		metrics.IncLedgerOp(op, "ok")
	case errors.Is(err, domain.ErrInsufficientCredits):
		metrics.IncLedgerOp(op, "insufficient")
	case errors.Is(err, domain.ErrConflict):
		metrics.IncLedgerOp(op, "conflict")
	default:
		metrics.IncLedgerOp(op, "error")
	}
}
