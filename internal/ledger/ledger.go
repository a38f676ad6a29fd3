// Package ledger is the Balance Ledger: the single authoritative source of a
// user's spendable coins. Every mutation is serialized per user, applied
// together with its ledger entry and reported with the balances on both
// sides so a caller can compensate.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"faceup-server/internal/model"
	"faceup-server/internal/pkg/lock"
)

// ErrInvalidAmount is returned for non-positive mutation amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// Mutation is one balance change. Amount is signed. TicketDelta moves the
// user's all-in ticket count in the same atomic step.
type Mutation struct {
	UserID      string
	Amount      int64
	TicketDelta int
	Type        string
	RefID       string
}

// Store applies mutations atomically. A mutation whose (UserID, Type, RefID)
// was already applied returns the existing entry instead of applying twice.
// Implementations report repository.ErrUserNotFound,
// repository.ErrInsufficientFunds, repository.ErrNoTicket and
// repository.ErrLedgerRefConflict.
type Store interface {
	Apply(ctx context.Context, m Mutation) (*model.LedgerEntry, error)
	Balance(ctx context.Context, userID string) (int64, error)
}

// BalanceCache is a read-through cache in front of Store.Balance.
type BalanceCache interface {
	Get(ctx context.Context, userID string) (int64, bool)
	Set(ctx context.Context, userID string, coins int64)
	Invalidate(ctx context.Context, userID string)
}

// Options configures timeouts for ledger calls.
type Options struct {
	LockTimeout time.Duration
	OpTimeout   time.Duration
}

// Ledger serializes mutations per user on top of a Store.
type Ledger struct {
	store Store
	cache BalanceCache
	locks *lock.UserLock
	opts  Options
}

// New creates a Ledger. cache may be nil.
func New(store Store, cache BalanceCache, locks *lock.UserLock, opts Options) *Ledger {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 3 * time.Second
	}
	if locks == nil {
		locks = lock.NewUserLock()
	}
	return &Ledger{store: store, cache: cache, locks: locks, opts: opts}
}

func (l *Ledger) apply(ctx context.Context, m Mutation) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := l.locks.WithLockContext(ctx, m.UserID, l.opts.LockTimeout, func() error {
		opCtx, cancel := context.WithTimeout(ctx, l.opts.OpTimeout)
		defer cancel()

		var err error
		entry, err = l.store.Apply(opCtx, m)
		if l.cache != nil {
			// Invalidate on any outcome: a timed out write may still have committed.
			l.cache.Invalidate(ctx, m.UserID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("user_id", m.UserID).
		Str("type", m.Type).
		Str("ref_id", m.RefID).
		Int64("amount", m.Amount).
		Int64("balance_before", entry.BalanceBefore).
		Int64("balance_after", entry.BalanceAfter).
		Msg("Ledger mutation applied")
	return entry, nil
}

// Debit takes amount from the user. With consumeTicket the user's all-in
// ticket is spent in the same step.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, refID string, consumeTicket bool) (*model.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m := Mutation{UserID: userID, Amount: -amount, Type: model.TxTypeBetDebit, RefID: refID}
	if consumeTicket {
		m.TicketDelta = -1
	}
	return l.apply(ctx, m)
}

// Credit adds amount to the user.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, refID string) (*model.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.apply(ctx, Mutation{UserID: userID, Amount: amount, Type: model.TxTypeRoundCredit, RefID: refID})
}

// Rollback compensates entry by applying its opposite. restoreTicket gives
// back a ticket the compensated debit consumed.
func (l *Ledger) Rollback(ctx context.Context, entry *model.LedgerEntry, restoreTicket bool) (*model.LedgerEntry, error) {
	if entry == nil || entry.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	m := Mutation{UserID: entry.UserID, Amount: -entry.Amount, Type: model.TxTypeRollback, RefID: entry.ID}
	if restoreTicket {
		m.TicketDelta = 1
	}
	return l.apply(ctx, m)
}

// Adjust applies a signed manual correction, e.g. when closing a
// reconciliation alert.
func (l *Ledger) Adjust(ctx context.Context, userID string, amount int64, refID string) (*model.LedgerEntry, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	return l.apply(ctx, Mutation{UserID: userID, Amount: amount, Type: model.TxTypeAdminCredit, RefID: refID})
}

// Balance returns the user's coins, served from the cache when possible.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	if l.cache != nil {
		if coins, ok := l.cache.Get(ctx, userID); ok {
			return coins, nil
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, l.opts.OpTimeout)
	defer cancel()
	coins, err := l.store.Balance(opCtx, userID)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if l.cache != nil {
		l.cache.Set(ctx, userID, coins)
	}
	return coins, nil
}

// FreshBalance bypasses the cache. Used where a stale value could let a
// bet through that the ledger would reject.
func (l *Ledger) FreshBalance(ctx context.Context, userID string) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, l.opts.OpTimeout)
	defer cancel()
	coins, err := l.store.Balance(opCtx, userID)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return coins, nil
}
