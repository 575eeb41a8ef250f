package model

import "time"

// LedgerEntry is an append-only record of one change to a membership's
// credit balance. IdempotencyKey is unique across the ledger.
type LedgerEntry struct {
	ID             string
	MembershipID   string
	IdempotencyKey string
	Delta          int
	BalanceAfter   int
	Reason         string
	CreatedAt      time.Time
}
