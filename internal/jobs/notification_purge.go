package jobs

import (
	"context"
	"log"
	"time"

	"github.com/Zakes-Matsimbe/nkateko/internal/config"
	"github.com/Zakes-Matsimbe/nkateko/internal/repository"
)

// StartNotificationPurgeJob periodically deletes read notifications older
// than the configured retention. Disabled unless enabled in config.
func StartNotificationPurgeJob(ctx context.Context, cfg config.Config, store *repository.Store) {
	if !cfg.NotificationPurgeEnabled {
		return
	}
	interval := cfg.NotificationPurgeInterval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.NotificationPurgeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-cfg.NotificationPurgeRetention)
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				deleted, err := store.DeleteReadNotificationsBefore(tickCtx, cutoff)
				cancel()
				if err != nil {
					log.Printf("notification purge error: %v", err)
					continue
				}
				if deleted > 0 {
					log.Printf("notification purge removed %d notifications", deleted)
				}
			}
		}
	}()
}
