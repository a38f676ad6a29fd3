package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceup-server/internal/model"
)

func TestEnsureUser(t *testing.T) {
	f := newFixture(t, 5000)
	ctx := context.Background()

	u, created, err := f.accounts.EnsureUser(ctx, "u-2", "bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5000), u.Coins)
	assert.Equal(t, 3, u.Tickets)

	_, created, err = f.accounts.EnsureUser(ctx, "u-2", "bob")
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = f.accounts.EnsureUser(ctx, "", "nobody")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetBalanceAndTransactions(t *testing.T) {
	f := newFixture(t, 5000)
	ctx := context.Background()
	f.useSeed(seedFor(t, "b1", 1000, model.ResultLose, false))
	prepare(t, f, "b1", 1000, "")
	_, err := f.bets.Commit(ctx, "u-1", "b1")
	require.NoError(t, err)

	bal, err := f.accounts.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), bal.Coins)
	assert.Equal(t, 1, bal.Tickets)

	entries, err := f.accounts.Transactions(ctx, "u-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.TxTypeBetDebit, entries[0].Type)
	assert.True(t, strings.HasPrefix(entries[0].RefID, "b1:"))

	_, err = f.accounts.GetBalance(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGrantTickets(t *testing.T) {
	f := newFixture(t, 5000)
	ctx := context.Background()

	u, err := f.accounts.GrantTickets(ctx, "u-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, u.Tickets)

	_, err = f.accounts.GrantTickets(ctx, "u-1", -4)
	assert.ErrorIs(t, err, ErrTicketRequired)
	_, err = f.accounts.GrantTickets(ctx, "u-1", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.accounts.GrantTickets(ctx, "ghost", 1)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSetMembership(t *testing.T) {
	f := newFixture(t, 5000)
	ctx := context.Background()

	past := f.clock.Now().Add(-time.Minute)
	_, err := f.accounts.SetMembership(ctx, "u-1", model.MembershipPremium, &past)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.accounts.SetMembership(ctx, "u-1", "gold", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	u, err := f.accounts.SetMembership(ctx, "u-1", model.MembershipPremium, nil)
	require.NoError(t, err)
	assert.True(t, u.IsPremium(f.clock.Now()))

	future := f.clock.Now().Add(time.Hour)
	u, err = f.accounts.SetMembership(ctx, "u-1", model.MembershipNormal, &future)
	require.NoError(t, err)
	assert.Nil(t, u.SubscriptionExpiresAt)
	assert.False(t, u.IsPremium(f.clock.Now()))
}

func TestResolveAlertWithAdjustment(t *testing.T) {
	f := newFixture(t, 5000)
	ctx := context.Background()

	alert := &model.ReconciliationAlert{BetID: "b1", UserID: "u-1", Stage: StageCredit, Amount: 3000, CreatedAt: f.clock.Now()}
	require.NoError(t, f.alerts.Create(ctx, alert))

	open, err := f.accounts.ListAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)

	resolved, err := f.accounts.ResolveAlert(ctx, alert.ID, 3000)
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, int64(8000), f.coins(t, "u-1"))

	entries := f.store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.TxTypeAdminCredit, entries[0].Type)
	assert.Equal(t, alert.ID, entries[0].RefID)

	_, err = f.accounts.ResolveAlert(ctx, alert.ID, 3000)
	assert.ErrorIs(t, err, ErrAlertNotFound)
	assert.Equal(t, int64(8000), f.coins(t, "u-1"))

	_, err = f.accounts.ResolveAlert(ctx, "missing", 0)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}
