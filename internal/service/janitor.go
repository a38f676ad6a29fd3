package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DraftPurger removes drafts that expired before a cutoff.
type DraftPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// DraftJanitor periodically deletes abandoned drafts. A draft is only
// purged once it has been expired for a further grace period, so a commit
// racing the expiry still gets ErrDraftExpired rather than ErrDraftNotFound.
type DraftJanitor struct {
	drafts   DraftPurger
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
}

// NewDraftJanitor creates a janitor running every interval.
func NewDraftJanitor(drafts DraftPurger, interval, grace time.Duration) *DraftJanitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &DraftJanitor{drafts: drafts, interval: interval, grace: grace, now: time.Now}
}

// Start runs the janitor in a goroutine until ctx is done.
func (j *DraftJanitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = j.Sweep(ctx)
			}
		}
	}()
}

// Sweep purges once and returns how many drafts were removed.
func (j *DraftJanitor) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.interval)
	defer cancel()

	n, err := j.drafts.PurgeExpired(ctx, j.now().Add(-j.grace))
	if err != nil {
		log.Warn().Err(err).Msg("Draft purge failed")
		return 0, err
	}
	if n > 0 {
		log.Debug().Int64("purged", n).Msg("Expired drafts purged")
	}
	return n, nil
}
