package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"faceup-server/internal/model"
)

const draftColumns = `bet_id, user_id, amount, mode, server_seed, seed_hash, created_at, expires_at, consumed_at`

// PostgresDraftRepository stores bet drafts in the bet_drafts table.
// The conditional UPDATE in Consume is the single point that decides which
// caller wins a draft.
type PostgresDraftRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresDraftRepository creates a new PostgresDraftRepository instance.
func NewPostgresDraftRepository(pool *pgxpool.Pool) *PostgresDraftRepository {
	return &PostgresDraftRepository{pool: pool}
}

func scanDraft(row pgx.Row) (*model.BetDraft, error) {
	var d model.BetDraft
	err := row.Scan(&d.BetID, &d.UserID, &d.Amount, &d.Mode, &d.ServerSeed, &d.SeedHash, &d.CreatedAt, &d.ExpiresAt, &d.ConsumedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create stores d. A bet id held by an expired, never consumed draft is
// taken over; any other existing draft yields ErrDuplicateBetID.
func (r *PostgresDraftRepository) Create(ctx context.Context, d *model.BetDraft) error {
	var betID string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO bet_drafts (`+draftColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL)
		ON CONFLICT (bet_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			amount = EXCLUDED.amount,
			mode = EXCLUDED.mode,
			server_seed = EXCLUDED.server_seed,
			seed_hash = EXCLUDED.seed_hash,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			consumed_at = NULL
		WHERE bet_drafts.consumed_at IS NULL AND bet_drafts.expires_at < EXCLUDED.created_at
		RETURNING bet_id`,
		d.BetID, d.UserID, d.Amount, d.Mode, d.ServerSeed, d.SeedHash, d.CreatedAt, d.ExpiresAt,
	).Scan(&betID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDuplicateBetID
		}
		return fmt.Errorf("failed to create bet draft: %w", err)
	}
	return nil
}

// Consume atomically marks the user's draft consumed at now and returns it.
func (r *PostgresDraftRepository) Consume(ctx context.Context, betID, userID string, now time.Time) (*model.BetDraft, error) {
	d, err := scanDraft(r.pool.QueryRow(ctx, `
		UPDATE bet_drafts
		SET consumed_at = $3
		WHERE bet_id = $1 AND user_id = $2 AND consumed_at IS NULL AND expires_at >= $3
		RETURNING `+draftColumns, betID, userID, now))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to consume bet draft: %w", err)
	}

	// Lost the race or the draft is not consumable; report why.
	d, err = scanDraft(r.pool.QueryRow(ctx,
		`SELECT `+draftColumns+` FROM bet_drafts WHERE bet_id = $1 AND user_id = $2`, betID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDraftNotFound
		}
		return nil, fmt.Errorf("failed to get bet draft: %w", err)
	}
	return nil, classifyUnconsumable(d, now)
}

// Reserved sums the amounts of the user's live drafts at now.
func (r *PostgresDraftRepository) Reserved(ctx context.Context, userID string, now time.Time) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM bet_drafts
		WHERE user_id = $1 AND consumed_at IS NULL AND expires_at >= $2`, userID, now).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum reserved drafts: %w", err)
	}
	return sum, nil
}

// PurgeExpired deletes never consumed drafts that expired before before.
func (r *PostgresDraftRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM bet_drafts WHERE consumed_at IS NULL AND expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge bet drafts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// classifyUnconsumable explains why d cannot be consumed at now.
func classifyUnconsumable(d *model.BetDraft, now time.Time) error {
	if d.Consumed() {
		return ErrDraftConsumed
	}
	if d.Expired(now) {
		return ErrDraftExpired
	}
	return ErrDraftConsumed
}
