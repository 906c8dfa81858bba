package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sironahealth/sirona/internal/trust/store"
)

// HousekeepingService runs periodic maintenance in the background: it
// reconciles account statuses whose lockout deadline has passed, trims idle
// throttle state and runs the scheduled integrity sweep.
type HousekeepingService struct {
	Store     store.Store
	Integrity *IntegrityService
	Throttle  *LoginThrottle
	Logger    *slog.Logger

	Interval      time.Duration
	SweepInterval time.Duration

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func (s *HousekeepingService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

// Start launches the background maintenance loop. It is a no-op if the loop
// is already running.
func (s *HousekeepingService) Start(ctx context.Context) {
	if s.stopCh != nil {
		return
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = time.Hour
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
}

// Stop signals the loop to exit and waits for the in-flight pass to finish.
func (s *HousekeepingService) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
	s.doneCh = nil
}

func (s *HousekeepingService) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	lastSweep := s.now()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
			if s.Integrity != nil && s.now().Sub(lastSweep) >= s.SweepInterval {
				s.sweep(ctx)
				lastSweep = s.now()
			}
		}
	}
}

// pass runs one maintenance round. Errors are logged, never fatal: the next
// tick retries.
func (s *HousekeepingService) pass(ctx context.Context) {
	now := s.now()

	ids, err := s.Store.Accounts().ListLockedExpired(ctx, now)
	if err != nil {
		s.Logger.Error("failed to list expired lockouts", slog.Any("error", err))
	} else {
		for _, id := range ids {
			if err := s.Store.Accounts().ClearLockout(ctx, id); err != nil {
				s.Logger.Error("failed to clear expired lockout",
					slog.String("account_id", id),
					slog.Any("error", err),
				)
			}
		}
		if len(ids) > 0 {
			s.Logger.Info("reconciled expired lockouts", slog.Int("count", len(ids)))
		}
	}

	if s.Throttle != nil {
		if removed := s.Throttle.Cleanup(30 * time.Minute); removed > 0 {
			s.Logger.Debug("evicted idle throttle origins", slog.Int("count", removed))
		}
	}
}

func (s *HousekeepingService) sweep(ctx context.Context) {
	report, err := s.Integrity.VerifyAll(ctx, "internal", "housekeeping")
	if err != nil {
		s.Logger.Error("integrity sweep aborted", slog.Any("error", err))
		return
	}
	s.Logger.Info("integrity sweep finished",
		slog.Int("total", report.Total),
		slog.Int("valid", report.Valid),
		slog.Int("invalid", report.Invalid),
		slog.Int("quarantined", report.Quarantined),
		slog.Int("unestablished", report.Unestablished),
	)
}
