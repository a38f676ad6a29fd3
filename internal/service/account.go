package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"faceup-server/internal/ledger"
	"faceup-server/internal/model"
)

// AccountService handles user accounts and the operator side of
// reconciliation.
type AccountService struct {
	users          UserStore
	entries        EntryStore
	alerts         AlertStore
	ledger         *ledger.Ledger
	initialCoins   int64
	initialTickets int
	now            func() time.Time
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(
	users UserStore,
	entries EntryStore,
	alerts AlertStore,
	l *ledger.Ledger,
	initialCoins int64,
	initialTickets int,
) *AccountService {
	return &AccountService{
		users:          users,
		entries:        entries,
		alerts:         alerts,
		ledger:         l,
		initialCoins:   initialCoins,
		initialTickets: initialTickets,
		now:            time.Now,
	}
}

// EnsureUser ensures a user exists, creating one with the starting balance
// if necessary. Returns the user and whether it was newly created.
func (s *AccountService) EnsureUser(ctx context.Context, userID, username string) (*model.User, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	user, created, err := s.users.Ensure(ctx, userID, username, s.initialCoins, s.initialTickets)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}
	if created {
		log.Info().
			Str("user_id", userID).
			Int64("coins", user.Coins).
			Int("tickets", user.Tickets).
			Msg("User created")
	}
	return user, created, nil
}

// Balance is what a user can spend.
type Balance struct {
	Coins   int64 `json:"coins"`
	Tickets int   `json:"tickets"`
}

// GetBalance returns the user's coins, read through the balance cache, and
// tickets.
func (s *AccountService) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	coins, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	return &Balance{Coins: coins, Tickets: user.Tickets}, nil
}

// Transactions returns the user's latest ledger entries, newest first.
func (s *AccountService) Transactions(ctx context.Context, userID string, limit int) ([]*model.LedgerEntry, error) {
	entries, err := s.entries.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, translate(err)
	}
	return entries, nil
}

// GrantTickets adds delta all-in tickets, or removes them when negative.
func (s *AccountService) GrantTickets(ctx context.Context, userID string, delta int) (*model.User, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: ticket delta cannot be zero", ErrInvalidInput)
	}
	user, err := s.users.AddTickets(ctx, userID, delta)
	if err != nil {
		return nil, translate(err)
	}
	log.Info().Str("user_id", userID).Int("delta", delta).Int("tickets", user.Tickets).Msg("Tickets granted")
	return user, nil
}

// SetMembership changes the user's membership. A nil expiry never lapses.
func (s *AccountService) SetMembership(ctx context.Context, userID, membership string, expiresAt *time.Time) (*model.User, error) {
	switch membership {
	case model.MembershipNormal:
		expiresAt = nil
	case model.MembershipPremium:
		if expiresAt != nil && !expiresAt.After(s.now()) {
			return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: unknown membership %q", ErrInvalidInput, membership)
	}
	user, err := s.users.SetMembership(ctx, userID, membership, expiresAt)
	if err != nil {
		return nil, translate(err)
	}
	log.Info().Str("user_id", userID).Str("membership", membership).Msg("Membership changed")
	return user, nil
}

// ListAlerts returns open reconciliation alerts, oldest first.
func (s *AccountService) ListAlerts(ctx context.Context, limit int) ([]*model.ReconciliationAlert, error) {
	alerts, err := s.alerts.ListOpen(ctx, limit)
	if err != nil {
		return nil, translate(err)
	}
	return alerts, nil
}

// ResolveAlert closes an alert. A non-zero adjustment is applied to the
// alert's user first, keyed by the alert id so a repeated call cannot
// apply it twice.
func (s *AccountService) ResolveAlert(ctx context.Context, alertID string, adjustment int64) (*model.ReconciliationAlert, error) {
	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, translate(err)
	}
	if alert.ResolvedAt != nil {
		return nil, ErrAlertNotFound
	}

	if adjustment != 0 {
		entry, err := s.ledger.Adjust(ctx, alert.UserID, adjustment, alert.ID)
		if err != nil {
			return nil, translate(err)
		}
		log.Info().
			Str("alert_id", alert.ID).
			Str("user_id", alert.UserID).
			Int64("amount", adjustment).
			Int64("balance_after", entry.BalanceAfter).
			Msg("Reconciliation adjustment applied")
	}

	resolved, err := s.alerts.Resolve(ctx, alert.ID, s.now())
	if err != nil {
		return nil, translate(err)
	}
	return resolved, nil
}
