package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is the subset of pgxpool.Pool and pgx.Tx used by Migrate.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"users table", `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			coins BIGINT NOT NULL DEFAULT 5000 CHECK (coins >= 0),
			tickets INT NOT NULL DEFAULT 3 CHECK (tickets >= 0),
			membership_type VARCHAR(20) NOT NULL DEFAULT 'normal',
			subscription_expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{"ledger_entries table", `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			balance_before BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			type VARCHAR(32) NOT NULL,
			ref_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_time ON ledger_entries(user_id, created_at DESC);
	`},
	{"ledger_entries per-user reference key", `
		ALTER TABLE ledger_entries DROP CONSTRAINT IF EXISTS ledger_entries_type_ref_id_key;
		CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_entries_user_ref ON ledger_entries(user_id, type, ref_id);
	`},
	{"bet_drafts table", `
		CREATE TABLE IF NOT EXISTS bet_drafts (
			bet_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			mode VARCHAR(20) NOT NULL,
			server_seed TEXT NOT NULL,
			seed_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL CHECK (expires_at > created_at),
			consumed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_bet_drafts_user_live ON bet_drafts(user_id, expires_at) WHERE consumed_at IS NULL;
	`},
	{"rounds table", `
		CREATE TABLE IF NOT EXISTS rounds (
			game_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			bet_id TEXT NOT NULL UNIQUE,
			mode VARCHAR(20) NOT NULL,
			game_hash TEXT NOT NULL UNIQUE,
			deck_seed TEXT NOT NULL,
			deck_hash TEXT NOT NULL,
			pre_balance BIGINT NOT NULL,
			bet_amount BIGINT NOT NULL,
			result VARCHAR(4) NOT NULL CHECK (result IN ('WIN', 'LOSE', 'PUSH')),
			multiplier INT NOT NULL,
			payout BIGINT NOT NULL,
			rebate BIGINT NOT NULL DEFAULT 0,
			player_hand JSONB NOT NULL,
			dealer_hand JSONB NOT NULL,
			player_total INT NOT NULL,
			dealer_total INT NOT NULL,
			is_blackjack BOOLEAN NOT NULL DEFAULT FALSE,
			ticket_consumed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_rounds_user_time ON rounds(user_id, created_at DESC);
	`},
	{"reconciliation_alerts table", `
		CREATE TABLE IF NOT EXISTS reconciliation_alerts (
			id TEXT PRIMARY KEY,
			bet_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			stage VARCHAR(20) NOT NULL,
			amount BIGINT NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_reconciliation_alerts_open ON reconciliation_alerts(created_at) WHERE resolved_at IS NULL;
	`},
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db Execer) error {
	log.Info().Msg("Running database migrations...")
	for i, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", i+1, m.name, err)
		}
		log.Debug().Int("step", i+1).Str("name", m.name).Msg("Migration applied")
	}
	log.Info().Int("count", len(migrations)).Msg("All migrations completed successfully")
	return nil
}
