// Package testutil provides in-memory stores with the same semantics as the
// PostgreSQL repositories, plus failure hooks for exercising error paths.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"faceup-server/internal/ledger"
	"faceup-server/internal/model"
	"faceup-server/internal/repository"
)

// Accounts holds users and their ledger entries. It implements ledger.Store.
type Accounts struct {
	mu      sync.Mutex
	users   map[string]*model.User
	entries []*model.LedgerEntry
	seq     int

	// FailApply, when set, is consulted before every mutation. A non-nil
	// error aborts the mutation without changing anything.
	FailApply func(m ledger.Mutation) error
}

// NewAccounts creates an empty account store.
func NewAccounts() *Accounts {
	return &Accounts{users: make(map[string]*model.User)}
}

// Ensure creates the user with the given starting balance unless it exists.
func (a *Accounts) Ensure(_ context.Context, id, username string, coins int64, tickets int) (*model.User, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if u, ok := a.users[id]; ok {
		cp := *u
		return &cp, false, nil
	}
	now := time.Now()
	u := &model.User{
		ID:             id,
		Username:       username,
		Coins:          coins,
		Tickets:        tickets,
		MembershipType: model.MembershipNormal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	a.users[id] = u
	cp := *u
	return &cp, true, nil
}

// GetByID returns a copy of the user.
func (a *Accounts) GetByID(_ context.Context, id string) (*model.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// AddTickets moves the user's ticket count by delta.
func (a *Accounts) AddTickets(_ context.Context, id string, delta int) (*model.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if u.Tickets+delta < 0 {
		return nil, repository.ErrNoTicket
	}
	u.Tickets += delta
	cp := *u
	return &cp, nil
}

// SetMembership replaces the user's membership.
func (a *Accounts) SetMembership(_ context.Context, id, membership string, expiresAt *time.Time) (*model.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u.MembershipType = membership
	u.SubscriptionExpiresAt = expiresAt
	cp := *u
	return &cp, nil
}

// Apply implements ledger.Store.
func (a *Accounts) Apply(_ context.Context, m ledger.Mutation) (*model.LedgerEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailApply != nil {
		if err := a.FailApply(m); err != nil {
			return nil, err
		}
	}

	u, ok := a.users[m.UserID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	for _, e := range a.entries {
		if e.UserID == m.UserID && e.Type == m.Type && e.RefID == m.RefID {
			if e.Amount != m.Amount {
				return nil, repository.ErrLedgerRefConflict
			}
			cp := *e
			return &cp, nil
		}
	}
	if u.Coins+m.Amount < 0 {
		return nil, repository.ErrInsufficientFunds
	}
	if u.Tickets+m.TicketDelta < 0 {
		return nil, repository.ErrNoTicket
	}

	a.seq++
	e := &model.LedgerEntry{
		ID:            fmt.Sprintf("entry-%06d", a.seq),
		UserID:        m.UserID,
		Amount:        m.Amount,
		BalanceBefore: u.Coins,
		BalanceAfter:  u.Coins + m.Amount,
		Type:          m.Type,
		RefID:         m.RefID,
		CreatedAt:     time.Now(),
	}
	u.Coins += m.Amount
	u.Tickets += m.TicketDelta
	a.entries = append(a.entries, e)
	cp := *e
	return &cp, nil
}

// Balance implements ledger.Store.
func (a *Accounts) Balance(_ context.Context, userID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.users[userID]
	if !ok {
		return 0, repository.ErrUserNotFound
	}
	return u.Coins, nil
}

// ListByUser returns the user's entries, newest first.
func (a *Accounts) ListByUser(_ context.Context, userID string, limit int) ([]*model.LedgerEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []*model.LedgerEntry
	for i := len(a.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if a.entries[i].UserID == userID {
			cp := *a.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Entries returns every entry in the order it was applied.
func (a *Accounts) Entries() []*model.LedgerEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*model.LedgerEntry, len(a.entries))
	for i, e := range a.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// Rounds stores round records by game id.
type Rounds struct {
	mu     sync.Mutex
	rounds map[string]*model.RoundRecord

	// FailCreate, when set, is consulted before every Create.
	FailCreate func(rec *model.RoundRecord) error
}

// NewRounds creates an empty round store.
func NewRounds() *Rounds {
	return &Rounds{rounds: make(map[string]*model.RoundRecord)}
}

// Create stores rec. Storing the same game again is a no-op; a second game
// for one bet is rejected.
func (r *Rounds) Create(_ context.Context, rec *model.RoundRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailCreate != nil {
		if err := r.FailCreate(rec); err != nil {
			return err
		}
	}
	for _, cur := range r.rounds {
		if cur.BetID == rec.BetID {
			if cur.GameID == rec.GameID {
				return nil
			}
			return fmt.Errorf("bet %s already settled as game %s", rec.BetID, cur.GameID)
		}
	}
	cp := *rec
	r.rounds[rec.GameID] = &cp
	return nil
}

// GetByGameID returns a copy of the round.
func (r *Rounds) GetByGameID(_ context.Context, gameID string) (*model.RoundRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rounds[gameID]
	if !ok {
		return nil, repository.ErrRoundNotFound
	}
	cp := *rec
	return &cp, nil
}

// GetByBetID returns a copy of the round settled for betID.
func (r *Rounds) GetByBetID(_ context.Context, betID string) (*model.RoundRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.rounds {
		if rec.BetID == betID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrRoundNotFound
}

// ListByUser returns the user's rounds, newest first.
func (r *Rounds) ListByUser(_ context.Context, userID string, limit int) ([]*model.RoundRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.RoundRecord
	for _, rec := range r.rounds {
		if rec.UserID == userID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored rounds.
func (r *Rounds) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rounds)
}

// Alerts stores reconciliation alerts.
type Alerts struct {
	mu     sync.Mutex
	alerts []*model.ReconciliationAlert
	seq    int
}

// NewAlerts creates an empty alert store.
func NewAlerts() *Alerts {
	return &Alerts{}
}

// Create stores a and assigns its id.
func (s *Alerts) Create(_ context.Context, a *model.ReconciliationAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	if a.ID == "" {
		a.ID = fmt.Sprintf("alert-%06d", s.seq)
	}
	cp := *a
	s.alerts = append(s.alerts, &cp)
	return nil
}

// ListOpen returns unresolved alerts, oldest first.
func (s *Alerts) ListOpen(_ context.Context, limit int) ([]*model.ReconciliationAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.ReconciliationAlert
	for _, a := range s.alerts {
		if a.ResolvedAt == nil && len(out) < limit {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GetByID returns a copy of the alert.
func (s *Alerts) GetByID(_ context.Context, id string) (*model.ReconciliationAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrAlertNotFound
}

// Resolve marks an open alert resolved at at.
func (s *Alerts) Resolve(_ context.Context, id string, at time.Time) (*model.ReconciliationAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.alerts {
		if a.ID == id && a.ResolvedAt == nil {
			t := at
			a.ResolvedAt = &t
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrAlertNotFound
}

// All returns every alert.
func (s *Alerts) All() []*model.ReconciliationAlert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.ReconciliationAlert, len(s.alerts))
	for i, a := range s.alerts {
		cp := *a
		out[i] = &cp
	}
	return out
}
