package repository

import (
	"context"
	"sync"
	"time"

	"faceup-server/internal/model"
)

// MemoryDraftRepository keeps drafts in process memory. It is only correct
// for a single server instance.
type MemoryDraftRepository struct {
	mu     sync.Mutex
	drafts map[string]*model.BetDraft
}

// NewMemoryDraftRepository creates an empty in-memory draft store.
func NewMemoryDraftRepository() *MemoryDraftRepository {
	return &MemoryDraftRepository{drafts: make(map[string]*model.BetDraft)}
}

// Create stores a copy of d.
func (r *MemoryDraftRepository) Create(_ context.Context, d *model.BetDraft) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.drafts[d.BetID]; ok && (cur.Consumed() || !cur.Expired(d.CreatedAt)) {
		return ErrDuplicateBetID
	}
	cp := *d
	cp.ConsumedAt = nil
	r.drafts[d.BetID] = &cp
	return nil
}

// Consume marks the user's draft consumed at now and returns a copy.
func (r *MemoryDraftRepository) Consume(_ context.Context, betID, userID string, now time.Time) (*model.BetDraft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drafts[betID]
	if !ok || d.UserID != userID {
		return nil, ErrDraftNotFound
	}
	if !d.Live(now) {
		return nil, classifyUnconsumable(d, now)
	}
	at := now
	d.ConsumedAt = &at
	cp := *d
	return &cp, nil
}

// Reserved sums the amounts of the user's live drafts at now.
func (r *MemoryDraftRepository) Reserved(_ context.Context, userID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sum int64
	for _, d := range r.drafts {
		if d.UserID == userID && d.Live(now) {
			sum += d.Amount
		}
	}
	return sum, nil
}

// PurgeExpired removes never consumed drafts that expired before before.
func (r *MemoryDraftRepository) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, d := range r.drafts {
		if !d.Consumed() && d.ExpiresAt.Before(before) {
			delete(r.drafts, id)
			n++
		}
	}
	return n, nil
}
