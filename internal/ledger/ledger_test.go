package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"faceup-server/internal/ledger"
	"faceup-server/internal/model"
	"faceup-server/internal/pkg/lock"
	"faceup-server/internal/repository"
	"faceup-server/internal/testutil"
)

type mapCache struct {
	mu sync.Mutex
	m  map[string]int64
}

func newMapCache() *mapCache { return &mapCache{m: make(map[string]int64)} }

func (c *mapCache) Get(_ context.Context, id string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[id]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, id string, coins int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = coins
}

func (c *mapCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
}

func setup(t *testing.T, coins int64) (*ledger.Ledger, *testutil.Accounts, *mapCache) {
	t.Helper()
	accounts := testutil.NewAccounts()
	_, _, err := accounts.Ensure(context.Background(), "u-1", "alice", coins, 1)
	require.NoError(t, err)
	c := newMapCache()
	return ledger.New(accounts, c, lock.NewUserLock(), ledger.Options{}), accounts, c
}

func TestDebitAndCredit(t *testing.T) {
	l, _, _ := setup(t, 5000)
	ctx := context.Background()

	debit, err := l.Debit(ctx, "u-1", 1000, "bet-1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), debit.BalanceBefore)
	assert.Equal(t, int64(4000), debit.BalanceAfter)
	assert.Equal(t, model.TxTypeBetDebit, debit.Type)

	credit, err := l.Credit(ctx, "u-1", 3000, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7000), credit.BalanceAfter)
	assert.Equal(t, model.TxTypeRoundCredit, credit.Type)

	bal, err := l.Balance(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7000), bal)
}

func TestRefIsScopedToUser(t *testing.T) {
	l, accounts, _ := setup(t, 5000)
	ctx := context.Background()
	_, _, err := accounts.Ensure(ctx, "u-2", "bob", 5000, 1)
	require.NoError(t, err)

	first, err := l.Debit(ctx, "u-1", 1000, "shared", false)
	require.NoError(t, err)
	second, err := l.Debit(ctx, "u-2", 1000, "shared", false)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(4000), second.BalanceAfter)

	_, err = l.Debit(ctx, "u-1", 500, "shared", false)
	assert.ErrorIs(t, err, repository.ErrLedgerRefConflict)
	bal, err := l.Balance(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), bal)
}

func TestDebitIsIdempotentPerRef(t *testing.T) {
	l, _, _ := setup(t, 5000)
	ctx := context.Background()

	first, err := l.Debit(ctx, "u-1", 1000, "bet-1", false)
	require.NoError(t, err)
	second, err := l.Debit(ctx, "u-1", 1000, "bet-1", false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	bal, err := l.FreshBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4000), bal)
}

func TestRejectedMutations(t *testing.T) {
	l, _, _ := setup(t, 500)
	ctx := context.Background()

	_, err := l.Debit(ctx, "u-1", 501, "bet-1", false)
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)

	_, err = l.Debit(ctx, "u-1", 0, "bet-2", false)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = l.Credit(ctx, "u-1", -5, "bet-2")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = l.Adjust(ctx, "u-1", 0, "fix-1")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	_, err = l.Rollback(ctx, nil, false)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = l.Debit(ctx, "ghost", 10, "bet-3", false)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	bal, err := l.FreshBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)
}

func TestTicketConsumptionAndRollback(t *testing.T) {
	l, accounts, _ := setup(t, 5000)
	ctx := context.Background()

	debit, err := l.Debit(ctx, "u-1", 5000, "bet-1", true)
	require.NoError(t, err)
	u, err := accounts.GetByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 0, u.Tickets)
	assert.Zero(t, u.Coins)

	_, err = l.Debit(ctx, "u-1", 1, "bet-2", true)
	assert.Error(t, err)

	rb, err := l.Rollback(ctx, debit, true)
	require.NoError(t, err)
	assert.Equal(t, model.TxTypeRollback, rb.Type)
	assert.Equal(t, debit.ID, rb.RefID)

	u, err = accounts.GetByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), u.Coins)
	assert.Equal(t, 1, u.Tickets)

	again, err := l.Rollback(ctx, debit, true)
	require.NoError(t, err)
	assert.Equal(t, rb.ID, again.ID, "a rollback is applied once")
}

func TestAdjust(t *testing.T) {
	l, _, _ := setup(t, 100)
	ctx := context.Background()

	e, err := l.Adjust(ctx, "u-1", 900, "alert-1")
	require.NoError(t, err)
	assert.Equal(t, model.TxTypeAdminCredit, e.Type)
	assert.Equal(t, int64(1000), e.BalanceAfter)

	_, err = l.Adjust(ctx, "u-1", -2000, "alert-2")
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
}

func TestBalanceCacheInvalidatedOnMutation(t *testing.T) {
	l, accounts, c := setup(t, 5000)
	ctx := context.Background()

	_, err := l.Balance(ctx, "u-1")
	require.NoError(t, err)
	cached, ok := c.Get(ctx, "u-1")
	require.True(t, ok)
	assert.Equal(t, int64(5000), cached)

	accounts.FailApply = func(ledger.Mutation) error { return errors.New("write timed out") }
	_, err = l.Debit(ctx, "u-1", 100, "bet-1", false)
	require.Error(t, err)
	_, ok = c.Get(ctx, "u-1")
	assert.False(t, ok, "failed writes still drop the cached balance")

	accounts.FailApply = nil
	_, err = l.Balance(ctx, "u-1")
	require.NoError(t, err)
	_, err = l.Debit(ctx, "u-1", 100, "bet-1", false)
	require.NoError(t, err)
	_, ok = c.Get(ctx, "u-1")
	assert.False(t, ok)

	bal, err := l.Balance(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4900), bal)
}

func TestLockTimeout(t *testing.T) {
	accounts := testutil.NewAccounts()
	_, _, err := accounts.Ensure(context.Background(), "u-1", "alice", 5000, 0)
	require.NoError(t, err)
	locks := lock.NewUserLock()
	l := ledger.New(accounts, nil, locks, ledger.Options{LockTimeout: 20 * time.Millisecond})

	locks.Lock("u-1")
	_, err = l.Debit(context.Background(), "u-1", 100, "bet-1", false)
	locks.Unlock("u-1")
	assert.ErrorIs(t, err, lock.ErrLockTimeout)

	bal, err := accounts.Balance(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), bal)
}

// TestConcurrentMutationsConserveBalance checks that any interleaving of
// debits and credits ends at the initial balance plus every accepted change
// and never goes negative.
func TestConcurrentMutationsConserveBalance(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(0, 5000).Draw(t, "initial")
		amounts := rapid.SliceOfN(rapid.Int64Range(-1000, 1000).Filter(func(v int64) bool { return v != 0 }), 1, 30).Draw(t, "amounts")

		accounts := testutil.NewAccounts()
		ctx := context.Background()
		_, _, _ = accounts.Ensure(ctx, "u-1", "alice", initial, 0)
		l := ledger.New(accounts, nil, nil, ledger.Options{})

		var wg sync.WaitGroup
		for i, a := range amounts {
			wg.Add(1)
			go func(i int, a int64) {
				defer wg.Done()
				ref := fmt.Sprintf("ref-%d", i)
				if a < 0 {
					_, _ = l.Debit(ctx, "u-1", -a, ref, false)
				} else {
					_, _ = l.Credit(ctx, "u-1", a, ref)
				}
			}(i, a)
		}
		wg.Wait()

		want := initial
		for _, e := range accounts.Entries() {
			if e.BalanceAfter < 0 {
				t.Fatalf("entry %s left a negative balance", e.ID)
			}
			want += e.Amount
		}
		got, err := l.FreshBalance(ctx, "u-1")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("balance %d, ledger says %d", got, want)
		}
	})
}
