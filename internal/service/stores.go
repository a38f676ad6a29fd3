package service

import (
	"context"
	"time"

	"faceup-server/internal/model"
)

// DraftStore is the Bet Draft Store. Consume must be atomic: for one bet id
// at most one caller ever gets the draft back.
type DraftStore interface {
	Create(ctx context.Context, d *model.BetDraft) error
	Consume(ctx context.Context, betID, userID string, now time.Time) (*model.BetDraft, error)
	Reserved(ctx context.Context, userID string, now time.Time) (int64, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// UserStore looks up users and their entitlements.
type UserStore interface {
	Ensure(ctx context.Context, id, username string, coins int64, tickets int) (*model.User, bool, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	AddTickets(ctx context.Context, id string, delta int) (*model.User, error)
	SetMembership(ctx context.Context, id, membership string, expiresAt *time.Time) (*model.User, error)
}

// RoundStore persists settled rounds. Create must accept a repeat of the
// same game and reject a second game for the same bet.
type RoundStore interface {
	Create(ctx context.Context, rec *model.RoundRecord) error
	GetByGameID(ctx context.Context, gameID string) (*model.RoundRecord, error)
	GetByBetID(ctx context.Context, betID string) (*model.RoundRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.RoundRecord, error)
}

// AlertStore persists reconciliation alerts.
type AlertStore interface {
	Create(ctx context.Context, a *model.ReconciliationAlert) error
	GetByID(ctx context.Context, id string) (*model.ReconciliationAlert, error)
	ListOpen(ctx context.Context, limit int) ([]*model.ReconciliationAlert, error)
	Resolve(ctx context.Context, id string, at time.Time) (*model.ReconciliationAlert, error)
}

// EntryStore lists ledger entries.
type EntryStore interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.LedgerEntry, error)
}
