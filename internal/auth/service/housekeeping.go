package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/store"
)

// HousekeepingService periodically deletes expired refresh tokens, expired
// signing keys and, when a retention is set, old ledger rows.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration
	// LoginAttemptRetention of zero keeps the ledger forever.
	LoginAttemptRetention time.Duration
	Clock                 Clock

	stopCh chan struct{}
	doneCh chan struct{}
}

// HousekeepingReport counts the rows removed by one pass.
type HousekeepingReport struct {
	RefreshTokens int64
	SigningKeys   int64
	LoginAttempts int64
	Failures      int
}

// NewHousekeepingService defaults a non-positive interval to one hour.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &HousekeepingService{
		Store:    st,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs a pass now and then every Interval until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until an in-progress pass has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Cleanup(context.Background())
	for {
		select {
		case <-ticker.C:
			s.Cleanup(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup runs one pass. Each step is independent; a failure is logged and
// the next step still runs.
func (s *HousekeepingService) Cleanup(ctx context.Context) HousekeepingReport {
	now := s.Clock.Now()
	var (
		rep HousekeepingReport
		err error
	)

	rep.RefreshTokens, err = s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
		rep.Failures++
	}

	rep.SigningKeys, err = s.Store.SigningKeys().DeleteExpiredSigningKeys(ctx, now)
	if err != nil {
		s.Logger.Error("failed to delete expired signing keys", "error", err)
		rep.Failures++
	}

	if s.LoginAttemptRetention > 0 {
		rep.LoginAttempts, err = s.Store.LoginAttempts().DeleteLoginAttemptsBefore(ctx, now.Add(-s.LoginAttemptRetention))
		if err != nil {
			s.Logger.Error("failed to prune login attempts", "error", err)
			rep.Failures++
		}
	}

	s.Logger.Info("housekeeping cleanup completed",
		"refresh_tokens", rep.RefreshTokens,
		"signing_keys", rep.SigningKeys,
		"login_attempts", rep.LoginAttempts,
		"failures", rep.Failures,
	)
	return rep
}
