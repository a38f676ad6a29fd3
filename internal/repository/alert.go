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

const alertColumns = `id, bet_id, user_id, stage, amount, reason, created_at, resolved_at`

// AlertRepository persists reconciliation alerts raised by the settlement engine.
type AlertRepository struct {
	pool *pgxpool.Pool
}

// NewAlertRepository creates a new AlertRepository instance.
func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

func scanAlert(row pgx.Row) (*model.ReconciliationAlert, error) {
	var a model.ReconciliationAlert
	if err := row.Scan(&a.ID, &a.BetID, &a.UserID, &a.Stage, &a.Amount, &a.Reason, &a.CreatedAt, &a.ResolvedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create stores a new alert. An empty ID is filled in.
func (r *AlertRepository) Create(ctx context.Context, a *model.ReconciliationAlert) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reconciliation_alerts (id, bet_id, user_id, stage, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.BetID, a.UserID, a.Stage, a.Amount, a.Reason, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation alert: %w", err)
	}
	return nil
}

// ListOpen returns unresolved alerts, oldest first.
func (r *AlertRepository) ListOpen(ctx context.Context, limit int) ([]*model.ReconciliationAlert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+alertColumns+`
		FROM reconciliation_alerts
		WHERE resolved_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation alerts: %w", err)
	}
	defer rows.Close()

	var out []*model.ReconciliationAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Resolve marks an open alert resolved at at.
func (r *AlertRepository) Resolve(ctx context.Context, id string, at time.Time) (*model.ReconciliationAlert, error) {
	a, err := scanAlert(r.pool.QueryRow(ctx, `
		UPDATE reconciliation_alerts
		SET resolved_at = $2
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING `+alertColumns, id, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to resolve reconciliation alert: %w", err)
	}
	return a, nil
}

// GetByID returns an alert whether or not it is resolved.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*model.ReconciliationAlert, error) {
	a, err := scanAlert(r.pool.QueryRow(ctx,
		`SELECT `+alertColumns+` FROM reconciliation_alerts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get reconciliation alert: %w", err)
	}
	return a, nil
}
