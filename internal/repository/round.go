package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"faceup-server/internal/model"
)

const roundColumns = `game_id, user_id, bet_id, mode, game_hash, deck_seed, deck_hash, pre_balance, bet_amount,
	result, multiplier, payout, rebate, player_hand, dealer_hand, player_total, dealer_total,
	is_blackjack, ticket_consumed, created_at`

// RoundRepository persists the immutable round audit trail.
type RoundRepository struct {
	pool *pgxpool.Pool
}

// NewRoundRepository creates a new RoundRepository instance.
func NewRoundRepository(pool *pgxpool.Pool) *RoundRepository {
	return &RoundRepository{pool: pool}
}

func scanRound(row pgx.Row) (*model.RoundRecord, error) {
	var rec model.RoundRecord
	err := row.Scan(
		&rec.GameID, &rec.UserID, &rec.BetID, &rec.Mode, &rec.GameHash, &rec.DeckSeed, &rec.DeckHash,
		&rec.PreBalance, &rec.BetAmount, &rec.Result, &rec.Multiplier, &rec.Payout, &rec.Rebate,
		&rec.PlayerHand, &rec.DealerHand, &rec.PlayerTotal, &rec.DealerTotal,
		&rec.IsBlackjack, &rec.TicketConsumed, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts rec. Re-inserting the same round is a no-op so a retried
// write whose first attempt did land still succeeds.
func (r *RoundRepository) Create(ctx context.Context, rec *model.RoundRecord) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO rounds (`+roundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (bet_id) DO NOTHING`,
		rec.GameID, rec.UserID, rec.BetID, rec.Mode, rec.GameHash, rec.DeckSeed, rec.DeckHash,
		rec.PreBalance, rec.BetAmount, rec.Result, rec.Multiplier, rec.Payout, rec.Rebate,
		rec.PlayerHand, rec.DealerHand, rec.PlayerTotal, rec.DealerTotal,
		rec.IsBlackjack, rec.TicketConsumed, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	existing, err := scanRound(r.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE bet_id = $1`, rec.BetID))
	if err != nil {
		return fmt.Errorf("failed to load conflicting round: %w", err)
	}
	if existing.GameID != rec.GameID {
		return fmt.Errorf("bet %s already recorded as round %s", rec.BetID, existing.GameID)
	}
	return nil
}

// GetByGameID retrieves a round by its game id.
// Returns ErrRoundNotFound if no such round exists.
func (r *RoundRepository) GetByGameID(ctx context.Context, gameID string) (*model.RoundRecord, error) {
	rec, err := scanRound(r.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE game_id = $1`, gameID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return rec, nil
}

// GetByBetID retrieves the round settled for betID.
// Returns ErrRoundNotFound if the bet was never recorded.
func (r *RoundRepository) GetByBetID(ctx context.Context, betID string) (*model.RoundRecord, error) {
	rec, err := scanRound(r.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE bet_id = $1`, betID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round by bet: %w", err)
	}
	return rec, nil
}

// ListByUser returns the user's most recent rounds, newest first.
func (r *RoundRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.RoundRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+roundColumns+`
		FROM rounds
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var out []*model.RoundRecord
	for rows.Next() {
		rec, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
