package usecase

import (
	"context"
	"time"

	"mailsync-backend/pkg/logger"
)

// SyncScheduler periodically runs SyncAllAccounts.
type SyncScheduler struct {
	sync     SyncUsecase
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
}

func NewSyncScheduler(sync SyncUsecase, interval time.Duration) *SyncScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SyncScheduler{
		sync:     sync,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *SyncScheduler) Start(ctx context.Context) {
	log := logger.With("sync-scheduler")
	log.Info().Dur("interval", s.interval).Msg("starting background sync")

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx)
			case <-s.stopChan:
				log.Info().Msg("scheduler stopped")
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight round to finish.
func (s *SyncScheduler) Stop() {
	close(s.stopChan)
	<-s.done
}

func (s *SyncScheduler) runOnce(ctx context.Context) {
	started := time.Now()
	results := s.sync.SyncAllAccounts(ctx)

	var synced, failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		if r.Result != nil {
			synced += r.Result.Synced
		}
	}
	logger.With("sync-scheduler").Info().
		Int("accounts", len(results)).
		Int("failed", failed).
		Int("messages", synced).
		Dur("took", time.Since(started)).
		Msg("background sync round finished")
}
