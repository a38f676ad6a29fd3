package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceup-server/internal/fairness"
	"faceup-server/internal/model"
)

// DraftStore is the behaviour shared by every draft repository.
type DraftStore interface {
	Create(ctx context.Context, d *model.BetDraft) error
	Consume(ctx context.Context, betID, userID string, now time.Time) (*model.BetDraft, error)
	Reserved(ctx context.Context, userID string, now time.Time) (int64, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

var (
	_ DraftStore = (*MemoryDraftRepository)(nil)
	_ DraftStore = (*PostgresDraftRepository)(nil)
	_ DraftStore = (*RedisDraftRepository)(nil)
)

func newDraft(t *testing.T, betID, userID string, amount int64, createdAt time.Time, ttl time.Duration) *model.BetDraft {
	t.Helper()
	seed, err := fairness.GenerateSeed()
	require.NoError(t, err)
	return &model.BetDraft{
		BetID:      betID,
		UserID:     userID,
		Amount:     amount,
		Mode:       model.ModeClassic,
		ServerSeed: seed,
		SeedHash:   fairness.Commit(seed),
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(ttl),
	}
}

// runDraftStoreContract runs the same scenarios against any draft store.
// newStore must return an empty store.
func runDraftStoreContract(t *testing.T, newStore func(t *testing.T) DraftStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	ttl := 2 * time.Minute

	t.Run("create and consume", func(t *testing.T) {
		s := newStore(t)
		d := newDraft(t, "bet-1", "u-1", 1000, now, ttl)
		require.NoError(t, s.Create(ctx, d))

		got, err := s.Consume(ctx, "bet-1", "u-1", now.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, d.Amount, got.Amount)
		assert.Equal(t, d.ServerSeed, got.ServerSeed)
		assert.Equal(t, d.SeedHash, got.SeedHash)
		assert.Equal(t, d.Mode, got.Mode)
		require.NotNil(t, got.ConsumedAt)

		_, err = s.Consume(ctx, "bet-1", "u-1", now.Add(2*time.Second))
		assert.ErrorIs(t, err, ErrDraftConsumed)
	})

	t.Run("duplicate bet id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-1", "u-1", 1000, now, ttl)))
		assert.ErrorIs(t, s.Create(ctx, newDraft(t, "bet-1", "u-2", 500, now, ttl)), ErrDuplicateBetID)

		_, err := s.Consume(ctx, "bet-1", "u-1", now)
		require.NoError(t, err)
		later := now.Add(time.Hour)
		assert.ErrorIs(t, s.Create(ctx, newDraft(t, "bet-1", "u-1", 1000, later, ttl)), ErrDuplicateBetID,
			"a consumed bet id is never reused")
	})

	t.Run("expired draft is replaced", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-1", "u-1", 1000, now, ttl)))
		later := now.Add(ttl + time.Second)
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-1", "u-1", 300, later, ttl)))

		got, err := s.Consume(ctx, "bet-1", "u-1", later)
		require.NoError(t, err)
		assert.Equal(t, int64(300), got.Amount)
	})

	t.Run("expired, missing and foreign drafts", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-1", "u-1", 1000, now, ttl)))

		_, err := s.Consume(ctx, "bet-1", "u-1", now.Add(ttl+time.Millisecond))
		assert.ErrorIs(t, err, ErrDraftExpired)
		_, err = s.Consume(ctx, "bet-1", "u-2", now)
		assert.ErrorIs(t, err, ErrDraftNotFound)
		_, err = s.Consume(ctx, "nope", "u-1", now)
		assert.ErrorIs(t, err, ErrDraftNotFound)

		got, err := s.Consume(ctx, "bet-1", "u-1", now.Add(ttl))
		require.NoError(t, err, "a draft is committable at its expiry instant")
		assert.Equal(t, int64(1000), got.Amount)
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-1", "u-1", 1000, now, ttl)))

		const workers = 16
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Consume(ctx, "bet-1", "u-1", now.Add(time.Second))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var won, consumed int
		for err := range errs {
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrDraftConsumed):
				consumed++
			default:
				t.Errorf("unexpected consume error: %v", err)
			}
		}
		assert.Equal(t, 1, won)
		assert.Equal(t, workers-1, consumed)
	})

	t.Run("reserved counts live drafts only", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-1", "u-1", 1000, now, ttl)))
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-2", "u-1", 500, now, ttl)))
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-3", "u-1", 200, now, time.Second)))
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-4", "u-2", 700, now, ttl)))

		sum, err := s.Reserved(ctx, "u-1", now)
		require.NoError(t, err)
		assert.Equal(t, int64(1700), sum)

		_, err = s.Consume(ctx, "bet-2", "u-1", now)
		require.NoError(t, err)
		sum, err = s.Reserved(ctx, "u-1", now.Add(2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(1000), sum)

		sum, err = s.Reserved(ctx, "nobody", now)
		require.NoError(t, err)
		assert.Zero(t, sum)
	})

	t.Run("purge expired", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-1", "u-1", 1000, now, time.Second)))
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-2", "u-1", 500, now, ttl)))
		require.NoError(t, s.Create(ctx, newDraft(t, "bet-3", "u-1", 200, now, time.Second)))
		_, err := s.Consume(ctx, "bet-3", "u-1", now)
		require.NoError(t, err)

		n, err := s.PurgeExpired(ctx, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		sum, err := s.Reserved(ctx, "u-1", now)
		require.NoError(t, err)
		assert.Equal(t, int64(500), sum)

		_, err = s.Consume(ctx, "bet-3", "u-1", now)
		assert.ErrorIs(t, err, ErrDraftConsumed, "consumed drafts survive a purge")
	})
}

func TestMemoryDraftRepository(t *testing.T) {
	runDraftStoreContract(t, func(t *testing.T) DraftStore {
		return NewMemoryDraftRepository()
	})
}

func TestRedisDraftRepository(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	runDraftStoreContract(t, func(t *testing.T) DraftStore {
		require.NoError(t, client.FlushDB(context.Background()).Err())
		return NewRedisDraftRepository(client)
	})
}
