package service

import (
	"context"
	"log/slog"
	"time"
)

// HousekeepingService periodically deletes dead one-time token rows so the
// table does not grow without bound: tokens past their expiry, and used
// tokens older than the retention window.
type HousekeepingService struct {
	Tokens   *SingleUseTokenService
	Logger   *slog.Logger
	Interval time.Duration

	// UsedRetention is how long consumed tokens are kept for auditing
	// before the cleanup pass deletes them.
	UsedRetention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping worker. A zero or negative
// interval defaults to 1 hour; a zero or negative retention defaults to 24
// hours.
func NewHousekeepingService(tokens *SingleUseTokenService, logger *slog.Logger, interval, usedRetention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if usedRetention <= 0 {
		usedRetention = 24 * time.Hour
	}

	return &HousekeepingService{
		Tokens:        tokens,
		Logger:        logger,
		Interval:      interval,
		UsedRetention: usedRetention,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut it
// down gracefully.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started",
		"interval", s.Interval,
		"used_retention", s.UsedRetention,
	)
}

// Stop shuts down the worker and blocks until any in-progress cleanup
// finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run once immediately so a restart doesn't wait a full interval.
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup runs both deletion passes. The passes are independent; a failure
// in one does not stop the other. Each pass is deadline-bounded by the token
// service's StoreTimeout, so a wedged store cannot stall the worker forever.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	s.Logger.Info("starting housekeeping cleanup")

	if err := s.Tokens.CleanupExpired(ctx); err != nil {
		s.Logger.Error("failed to delete expired one-time tokens", "error", err)
	} else {
		s.Logger.Debug("deleted expired one-time tokens")
	}

	if err := s.Tokens.CleanupUsed(ctx, s.UsedRetention); err != nil {
		s.Logger.Error("failed to delete stale used one-time tokens", "error", err)
	} else {
		s.Logger.Debug("deleted stale used one-time tokens")
	}

	s.Logger.Info("housekeeping cleanup completed")
}
