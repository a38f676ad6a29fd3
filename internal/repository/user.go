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

const userColumns = `id, username, coins, tickets, membership_type, subscription_expires_at, created_at, updated_at`

// UserRepository handles user data persistence.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Coins,
		&u.Tickets,
		&u.MembershipType,
		&u.SubscriptionExpiresAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Ensure returns the user with id, creating it with the initial coins and
// tickets on first sight. The bool reports whether the user was created.
func (r *UserRepository) Ensure(ctx context.Context, id, username string, coins int64, tickets int) (*model.User, bool, error) {
	const query = `
		INSERT INTO users (id, username, coins, tickets, membership_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'normal', NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, username, coins, tickets))
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}

	user, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return user, false, nil
}

// GetByID retrieves a user by id.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// AddTickets changes the user's all-in ticket count by delta.
// The count never goes below zero.
func (r *UserRepository) AddTickets(ctx context.Context, id string, delta int) (*model.User, error) {
	const query = `
		UPDATE users
		SET tickets = tickets + $2, updated_at = NOW()
		WHERE id = $1 AND tickets + $2 >= 0
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, delta))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update tickets: %w", err)
	}
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrNoTicket
}

// SetMembership sets the user's membership type and its expiry.
func (r *UserRepository) SetMembership(ctx context.Context, id, membership string, expiresAt *time.Time) (*model.User, error) {
	const query = `
		UPDATE users
		SET membership_type = $2, subscription_expires_at = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, membership, expiresAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to set membership: %w", err)
	}
	return user, nil
}
