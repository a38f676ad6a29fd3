package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"faceup-server/internal/model"
)

const (
	keyDraft      = "draft:%s"
	keyUserDrafts = "drafts:user:%s"

	// DraftRetention is how long a draft key outlives its expiry, so a
	// consumed bet id keeps being rejected as a duplicate.
	DraftRetention = 7 * 24 * time.Hour
)

// RedisDraftRepository stores each draft as a hash holding its JSON body and
// the fields the Lua scripts need. A per-user sorted set scored by expiry
// tracks the drafts that still reserve funds.
type RedisDraftRepository struct {
	client redis.UniversalClient
}

// NewRedisDraftRepository creates a draft store over client.
func NewRedisDraftRepository(client redis.UniversalClient) *RedisDraftRepository {
	return &RedisDraftRepository{client: client}
}

func draftKey(betID string) string       { return fmt.Sprintf(keyDraft, betID) }
func userDraftsKey(userID string) string { return fmt.Sprintf(keyUserDrafts, userID) }

// KEYS[1] draft hash, KEYS[2] user set.
// ARGV: json, userId, amount, expiresAtMs, nowMs, betId, ttlMs.
var createDraftScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 1 then
		local consumed = redis.call("HGET", KEYS[1], "consumedAtMs")
		local exp = tonumber(redis.call("HGET", KEYS[1], "expiresAtMs"))
		if (consumed and consumed ~= "") or exp >= tonumber(ARGV[5]) then
			return 0
		end
		redis.call("DEL", KEYS[1])
	end
	redis.call("HSET", KEYS[1], "json", ARGV[1], "userId", ARGV[2], "amount", ARGV[3],
		"expiresAtMs", ARGV[4], "consumedAtMs", "")
	redis.call("PEXPIRE", KEYS[1], ARGV[7])
	redis.call("ZADD", KEYS[2], ARGV[4], ARGV[6])
	redis.call("PEXPIRE", KEYS[2], ARGV[7])
	return 1
`)

// KEYS[1] draft hash, KEYS[2] user set. ARGV: userId, nowMs, betId.
// Returns 0 not found, 1 expired, 2 consumed, 3 consumed now.
var consumeDraftScript = redis.NewScript(`
	local fields = redis.call("HMGET", KEYS[1], "json", "userId", "expiresAtMs", "consumedAtMs")
	if not fields[1] or fields[2] ~= ARGV[1] then
		return {0}
	end
	if fields[4] and fields[4] ~= "" then
		return {2}
	end
	if tonumber(fields[3]) < tonumber(ARGV[2]) then
		return {1}
	end
	redis.call("HSET", KEYS[1], "consumedAtMs", ARGV[2])
	redis.call("ZREM", KEYS[2], ARGV[3])
	return {3, fields[1]}
`)

// Create stores d. A bet id held by an expired, never consumed draft is
// taken over; any other existing draft yields ErrDuplicateBetID.
func (r *RedisDraftRepository) Create(ctx context.Context, d *model.BetDraft) error {
	cp := *d
	cp.ConsumedAt = nil
	body, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal bet draft: %w", err)
	}

	ttl := d.ExpiresAt.Sub(d.CreatedAt) + DraftRetention
	res, err := createDraftScript.Run(ctx, r.client,
		[]string{draftKey(d.BetID), userDraftsKey(d.UserID)},
		string(body), d.UserID, d.Amount, d.ExpiresAt.UnixMilli(), d.CreatedAt.UnixMilli(), d.BetID, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create bet draft: %w", err)
	}
	if res == 0 {
		return ErrDuplicateBetID
	}
	return nil
}

// Consume atomically marks the user's draft consumed at now and returns it.
func (r *RedisDraftRepository) Consume(ctx context.Context, betID, userID string, now time.Time) (*model.BetDraft, error) {
	res, err := consumeDraftScript.Run(ctx, r.client,
		[]string{draftKey(betID), userDraftsKey(userID)},
		userID, now.UnixMilli(), betID,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to consume bet draft: %w", err)
	}

	code, _ := res[0].(int64)
	switch code {
	case 0:
		return nil, ErrDraftNotFound
	case 1:
		return nil, ErrDraftExpired
	case 2:
		return nil, ErrDraftConsumed
	}

	body, ok := res[1].(string)
	if !ok {
		return nil, errors.New("consume script returned no draft body")
	}
	var d model.BetDraft
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bet draft: %w", err)
	}
	at := time.UnixMilli(now.UnixMilli()).UTC()
	d.ConsumedAt = &at
	return &d, nil
}

// Reserved sums the amounts of the user's live drafts at now.
func (r *RedisDraftRepository) Reserved(ctx context.Context, userID string, now time.Time) (int64, error) {
	ids, err := r.client.ZRangeByScore(ctx, userDraftsKey(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list reserved drafts: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, draftKey(id), "amount", "consumedAtMs", "userId")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to read reserved drafts: %w", err)
	}

	var sum int64
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 3 || vals[2] != userID {
			continue
		}
		if consumed, _ := vals[1].(string); consumed != "" {
			continue
		}
		amountStr, _ := vals[0].(string)
		amount, err := strconv.ParseInt(amountStr, 10, 64)
		if err != nil {
			continue
		}
		sum += amount
	}
	return sum, nil
}

// PurgeExpired trims per-user sets of drafts that expired before before.
// Draft hashes themselves are removed by their key TTL.
func (r *RedisDraftRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	maxScore := "(" + strconv.FormatInt(before.UnixMilli(), 10)

	iter := r.client.Scan(ctx, 0, fmt.Sprintf(keyUserDrafts, "*"), 100).Iterator()
	for iter.Next(ctx) {
		n, err := r.client.ZRemRangeByScore(ctx, iter.Val(), "-inf", maxScore).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to purge drafts in %s: %w", iter.Val(), err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan draft sets: %w", err)
	}
	return removed, nil
}
