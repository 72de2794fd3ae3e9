package worker

import (
	"context"
	"sync"
	"time"

	"mailmirror/core/domain"
	"mailmirror/pkg/logger"
)

// =============================================================================
// SyncScheduler - periodic incremental sync across connected accounts
// =============================================================================

// AccountLister returns the accounts that currently hold a credential.
type AccountLister interface {
	ConnectedAccounts(ctx context.Context) ([]string, error)
}

// IncrementalSyncer runs one account's catch-up.
type IncrementalSyncer interface {
	IncrementalSync(ctx context.Context, accountID string) (*domain.SyncResult, error)
}

// SchedulerConfig holds scheduler timing.
type SchedulerConfig struct {
	Interval       time.Duration
	StartupDelay   time.Duration
	AccountTimeout time.Duration
}

type SyncScheduler struct {
	accounts AccountLister
	sync     IncrementalSyncer
	cfg      SchedulerConfig

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewSyncScheduler creates a new scheduler.
func NewSyncScheduler(accounts AccountLister, syncer IncrementalSyncer, cfg SchedulerConfig) *SyncScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = 0
	}
	if cfg.AccountTimeout <= 0 {
		cfg.AccountTimeout = time.Hour
	}
	return &SyncScheduler{
		accounts: accounts,
		sync:     syncer,
		cfg:      cfg,
	}
}

// Start launches the loop; calling it twice is a no-op.
func (s *SyncScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	logger.Info("[SyncScheduler] Starting: interval=%v, startup delay=%v", s.cfg.Interval, s.cfg.StartupDelay)
	go s.run(ctx)
}

// Stop cancels the loop and waits for the current tick to finish.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	logger.Info("[SyncScheduler] Stopping...")
	cancel()
	<-done
}

func (s *SyncScheduler) run(ctx context.Context) {
	defer close(s.done)

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.StartupDelay):
	}

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[SyncScheduler] Stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs the incremental sync for every connected account, fetched
// fresh on each call. It returns the number of accounts that succeeded.
func (s *SyncScheduler) RunOnce(ctx context.Context) int {
	accounts, err := s.accounts.ConnectedAccounts(ctx)
	if err != nil {
		logger.WithError(err).Error("[SyncScheduler] Failed to list connected accounts")
		return 0
	}
	if len(accounts) == 0 {
		return 0
	}

	logger.Debug("[SyncScheduler] Running incremental sync for %d accounts", len(accounts))

	ok := 0
	for _, accountID := range accounts {
		if ctx.Err() != nil {
			break
		}
		if s.syncAccount(ctx, accountID) {
			ok++
		}
	}
	return ok
}

func (s *SyncScheduler) syncAccount(ctx context.Context, accountID string) (ok bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AccountTimeout)
	defer cancel()

	log := logger.WithField("account_id", accountID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("[SyncScheduler] Incremental sync panicked: %v", r)
			ok = false
		}
	}()

	if _, err := s.sync.IncrementalSync(ctx, accountID); err != nil {
		log.WithError(err).Warn("[SyncScheduler] Incremental sync failed")
		return false
	}
	return true
}
