package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"faceup-server/internal/config"
	"faceup-server/internal/game"
	"faceup-server/internal/ledger"
	"faceup-server/internal/model"
	"faceup-server/internal/pkg/lock"
	"faceup-server/internal/pkg/retry"
	"faceup-server/internal/repository"
	"faceup-server/internal/testutil"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	bets     *BetService
	accounts *AccountService
	store    *testutil.Accounts
	drafts   *repository.MemoryDraftRepository
	rounds   *testutil.Rounds
	alerts   *testutil.Alerts
	ledger   *ledger.Ledger
	clock    *testClock
}

func testGames() config.GamesConfig {
	return config.GamesConfig{
		Classic:    config.ModeConfig{WinMultiplier: 2, BlackjackMultiplier: 3},
		AllIn:      config.ModeConfig{WinMultiplier: 2, BlackjackMultiplier: 3, RebatePercent: 10},
		HighStakes: config.ModeConfig{WinMultiplier: 3, BlackjackMultiplier: 5},
	}
}

// newFixture wires a BetService over in-memory stores with user u-1
// holding coins and one ticket.
func newFixture(t testing.TB, coins int64) *fixture {
	t.Helper()
	store := testutil.NewAccounts()
	_, _, err := store.Ensure(context.Background(), "u-1", "alice", coins, 1)
	require.NoError(t, err)

	registry, err := game.NewRegistry(game.RulesFromConfig(testGames())...)
	require.NoError(t, err)

	locks := lock.NewUserLock()
	l := ledger.New(store, nil, lock.NewUserLock(), ledger.Options{})
	drafts := repository.NewMemoryDraftRepository()
	rounds := testutil.NewRounds()
	alerts := testutil.NewAlerts()
	clock := &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}

	policy := retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	bets := NewBetService(drafts, store, rounds, alerts, l, registry, locks, BetOptions{
		DraftTTL: 2 * time.Minute,
		Debit:    policy,
		Credit:   policy,
		Record:   policy,
	})
	bets.now = clock.Now

	accounts := NewAccountService(store, store, alerts, l, 5000, 3)
	accounts.now = clock.Now

	return &fixture{
		bets:     bets,
		accounts: accounts,
		store:    store,
		drafts:   drafts,
		rounds:   rounds,
		alerts:   alerts,
		ledger:   l,
		clock:    clock,
	}
}

// useSeed makes the next drafts use seed.
func (f *fixture) useSeed(seed string) {
	f.bets.newSeed = func() (string, error) { return seed, nil }
}

// seedFor searches for a server seed that deals want for betID and amount.
func seedFor(t testing.TB, betID string, amount int64, want model.RoundResult, blackjack bool) string {
	t.Helper()
	for i := 0; i < 100000; i++ {
		seed := fmt.Sprintf("%064x", i)
		o, err := game.Deal(seed, betID, amount)
		require.NoError(t, err)
		if o.Result == want && o.PlayerBlackjack == blackjack {
			return seed
		}
	}
	t.Fatalf("no seed deals %s (blackjack=%v) for %s", want, blackjack, betID)
	return ""
}

// forgetDrafts swaps in an empty draft store, as after a Redis key expires
// or a memory store restarts.
func (f *fixture) forgetDrafts() {
	f.drafts = repository.NewMemoryDraftRepository()
	f.bets.drafts = f.drafts
}

// debits returns the user's bet debit entries.
func (f *fixture) debits(userID string) []*model.LedgerEntry {
	var out []*model.LedgerEntry
	for _, e := range f.store.Entries() {
		if e.UserID == userID && e.Type == model.TxTypeBetDebit {
			out = append(out, e)
		}
	}
	return out
}

func (f *fixture) coins(t testing.TB, userID string) int64 {
	t.Helper()
	coins, err := f.store.Balance(context.Background(), userID)
	require.NoError(t, err)
	return coins
}
