// Package service provides business logic implementations: the Settlement
// Engine (BetService), account administration and the draft janitor.
package service

import (
	"errors"
	"fmt"

	"faceup-server/internal/pkg/lock"
	"faceup-server/internal/repository"
)

// Client-visible errors. Anything else returned by a service is an
// infrastructure failure.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidAmount     = errors.New("invalid amount: must be positive")
	ErrInvalidMode       = errors.New("invalid mode")
	ErrDuplicateBetID    = errors.New("bet id already in use")
	ErrModeForbidden     = errors.New("mode requires a premium membership")
	ErrTicketRequired    = errors.New("mode requires an all-in ticket")
	ErrDraftNotFound     = errors.New("bet draft not found")
	ErrDraftExpired      = errors.New("bet draft expired")
	ErrDraftConsumed     = errors.New("bet draft already consumed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUserNotFound      = errors.New("user not found")
	ErrRoundNotFound     = errors.New("round not found")
	ErrAlertNotFound     = errors.New("reconciliation alert not found")
	ErrBusy              = errors.New("another request for this user is in progress")
)

// Settlement stages after which funds have moved.
const (
	StageDebit    = "debit"
	StageResolve  = "resolve"
	StageRollback = "rollback"
	StageCredit   = "credit"
	StageRecord   = "record"
)

// ReconciliationError reports a settlement that failed after the user's
// balance changed. The round needs manual or automated reconciliation.
type ReconciliationError struct {
	BetID string
	Stage string
	Err   error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("bet %s needs reconciliation after %s: %v", e.BetID, e.Stage, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// translate maps repository and lock errors onto the service taxonomy.
// Unknown errors pass through unchanged.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, repository.ErrNoTicket):
		return ErrTicketRequired
	case errors.Is(err, repository.ErrDraftNotFound):
		return ErrDraftNotFound
	case errors.Is(err, repository.ErrDraftExpired):
		return ErrDraftExpired
	case errors.Is(err, repository.ErrDraftConsumed):
		return ErrDraftConsumed
	case errors.Is(err, repository.ErrDuplicateBetID):
		return ErrDuplicateBetID
	case errors.Is(err, repository.ErrRoundNotFound):
		return ErrRoundNotFound
	case errors.Is(err, repository.ErrAlertNotFound):
		return ErrAlertNotFound
	case errors.Is(err, lock.ErrLockTimeout):
		return ErrBusy
	default:
		return err
	}
}

// isBusinessError reports whether err is a client-visible outcome that no
// retry can change.
func isBusinessError(err error) bool {
	for _, target := range []error{
		ErrInvalidInput, ErrInvalidAmount, ErrInvalidMode, ErrDuplicateBetID,
		ErrModeForbidden, ErrTicketRequired, ErrDraftNotFound, ErrDraftExpired,
		ErrDraftConsumed, ErrInsufficientFunds, ErrUserNotFound, ErrRoundNotFound,
		ErrAlertNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
