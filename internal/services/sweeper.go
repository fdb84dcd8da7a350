package services

import (
	"context"
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/store"
	"github.com/gloriousnetworker/nysc-backend/pkg/logger"
)

// Sweeper deletes expired challenges, emailed codes and reset requests.
// Expiry is enforced on read, so this only keeps the tables small.
type Sweeper struct {
	Store      *store.Store
	Challenges store.ChallengeStore
	Now        func() time.Time
}

func NewSweeper(s *store.Store, challenges store.ChallengeStore) *Sweeper {
	return &Sweeper{Store: s, Challenges: challenges, Now: time.Now}
}

func (w *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := w.Now().UTC()

	challenges, err := w.Challenges.PurgeExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	resets, err := w.Store.PurgeExpiredPasswordResets(ctx, now)
	if err != nil {
		return challenges, err
	}
	return challenges + resets, nil
}

// Start runs SweepOnce every interval until ctx is cancelled. A non-positive
// interval disables it.
func (w *Sweeper) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		logger.Info("sweeper_disabled", nil)
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := w.SweepOnce(ctx)
				if err != nil {
					logger.Error("sweep_failed", err, nil)
					continue
				}
				if purged > 0 {
					logger.Info("sweep_completed", map[string]interface{}{
						"purged": purged,
					})
				}
			}
		}
	}()

	logger.Info("sweeper_started", map[string]interface{}{
		"interval": interval.String(),
	})
}
