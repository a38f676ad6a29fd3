// Package repository provides the storage layer: PostgreSQL repositories for
// users, ledger entries, rounds and reconciliation alerts, and three bet
// draft stores (PostgreSQL, Redis, in-memory).
package repository

import "errors"

// Common errors for repository operations.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoTicket          = errors.New("no all-in ticket left")
	ErrLedgerRefConflict = errors.New("ledger reference already used by a different mutation")

	ErrDraftNotFound  = errors.New("bet draft not found")
	ErrDraftExpired   = errors.New("bet draft expired")
	ErrDraftConsumed  = errors.New("bet draft already consumed")
	ErrDuplicateBetID = errors.New("bet id already in use")

	ErrRoundNotFound = errors.New("round not found")
	ErrAlertNotFound = errors.New("reconciliation alert not found")
)
