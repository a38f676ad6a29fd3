package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"faceup-server/internal/ledger"
	"faceup-server/internal/model"
)

const ledgerColumns = `id, user_id, amount, balance_before, balance_after, type, ref_id, created_at`

// LedgerRepository stores balances and the ledger entries that explain them.
// It implements ledger.Store.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func scanEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := row.Scan(&e.ID, &e.UserID, &e.Amount, &e.BalanceBefore, &e.BalanceAfter, &e.Type, &e.RefID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Apply locks the user row, checks funds and tickets, updates the balance
// and inserts the entry in one transaction. A mutation already applied
// under the same (user_id, type, ref_id) returns the stored entry unchanged;
// one with a different amount fails with ErrLedgerRefConflict.
func (r *LedgerRepository) Apply(ctx context.Context, m ledger.Mutation) (*model.LedgerEntry, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var coins int64
	var tickets int
	err = tx.QueryRow(ctx, `SELECT coins, tickets FROM users WHERE id = $1 FOR UPDATE`, m.UserID).Scan(&coins, &tickets)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}

	existing, err := scanEntry(tx.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE user_id = $1 AND type = $2 AND ref_id = $3`,
		m.UserID, m.Type, m.RefID))
	if err == nil {
		if existing.Amount != m.Amount {
			return nil, ErrLedgerRefConflict
		}
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check ledger entry: %w", err)
	}

	newCoins := coins + m.Amount
	if newCoins < 0 {
		return nil, ErrInsufficientFunds
	}
	if tickets+m.TicketDelta < 0 {
		return nil, ErrNoTicket
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET coins = $2, tickets = tickets + $3, updated_at = NOW() WHERE id = $1`,
		m.UserID, newCoins, m.TicketDelta)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	entry, err := scanEntry(tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, user_id, amount, balance_before, balance_after, type, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING `+ledgerColumns,
		NewID(), m.UserID, m.Amount, coins, newCoins, m.Type, m.RefID))
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit ledger tx: %w", err)
	}
	return entry, nil
}

// Balance returns the user's current coins.
func (r *LedgerRepository) Balance(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := r.pool.QueryRow(ctx, `SELECT coins FROM users WHERE id = $1`, userID).Scan(&coins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return coins, nil
}

// ListByUser returns the user's most recent entries, newest first.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
