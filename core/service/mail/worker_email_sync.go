package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mailmirror/core/domain"
	"mailmirror/core/port/in"
	"mailmirror/core/port/out"
	"mailmirror/pkg/apperr"
	"mailmirror/pkg/logger"
	"mailmirror/pkg/metrics"

	"github.com/google/uuid"
)

// ErrSyncInProgress is returned when another run holds the account.
var ErrSyncInProgress = errors.New("sync already in progress")

// AccountDirectory answers whether an account completed authorization.
type AccountDirectory interface {
	IsConnected(ctx context.Context, accountID string) (bool, error)
}

// SyncConfig holds the volume limits of sync runs.
type SyncConfig struct {
	MaxPerLabel           int
	IncrementalMax        int
	IncrementalWindowDays int
	LeaseTimeout          time.Duration
	CheckpointEvery       int
}

func (c *SyncConfig) applyDefaults() {
	if c.MaxPerLabel <= 0 {
		c.MaxPerLabel = 500
	}
	if c.IncrementalMax <= 0 {
		c.IncrementalMax = 50
	}
	if c.IncrementalWindowDays <= 0 {
		c.IncrementalWindowDays = 7
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = time.Hour
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 100
	}
}

// =============================================================================
// SyncCoordinator
// =============================================================================

// SyncCoordinator drives full and incremental runs and owns the
// per-account in-progress flag.
type SyncCoordinator struct {
	status    out.SyncStatusRepository
	accounts  AccountDirectory
	tokens    TokenProvider
	provider  out.MailProvider
	paginator *LabelPaginator
	publisher out.SyncJobPublisher
	cfg       SyncConfig
	now       func() time.Time

	runners      map[string]struct{}
	runnersMutex sync.Mutex
}

var _ in.SyncService = (*SyncCoordinator)(nil)

func NewSyncCoordinator(
	status out.SyncStatusRepository,
	accounts AccountDirectory,
	tokens TokenProvider,
	provider out.MailProvider,
	paginator *LabelPaginator,
	cfg SyncConfig,
) *SyncCoordinator {
	cfg.applyDefaults()
	return &SyncCoordinator{
		status:    status,
		accounts:  accounts,
		tokens:    tokens,
		provider:  provider,
		paginator: paginator,
		cfg:       cfg,
		now:       time.Now,
		runners:   make(map[string]struct{}),
	}
}

// SetJobPublisher sets where StartSync hands claimed runs.
func (s *SyncCoordinator) SetJobPublisher(publisher out.SyncJobPublisher) {
	s.publisher = publisher
}

// StartSync claims the account and enqueues a full sync. It returns
// immediately; progress is observed through GetSyncStatus.
func (s *SyncCoordinator) StartSync(ctx context.Context, accountID string) (*in.StartSyncResult, error) {
	if s.publisher == nil {
		return nil, apperr.Internal("sync job publisher not configured")
	}

	connected, err := s.accounts.IsConnected(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !connected {
		return nil, apperr.NoCredential(accountID)
	}

	leaseID := uuid.NewString()
	claimed, err := s.status.Claim(ctx, accountID, leaseID, s.cfg.LeaseTimeout)
	if err != nil {
		return nil, apperr.DatabaseError("claim sync", err)
	}
	if !claimed {
		logger.Info("[SyncCoordinator.StartSync] Sync already running for %s", accountID)
		return &in.StartSyncResult{Started: false, InProgress: true}, nil
	}

	job := &out.SyncJob{
		JobID:       uuid.NewString(),
		AccountID:   accountID,
		Kind:        domain.SyncKindFull,
		LeaseID:     leaseID,
		RequestedAt: s.now().UTC(),
	}
	if err := s.publisher.PublishSync(ctx, job); err != nil {
		s.fail(ctx, accountID, leaseID, fmt.Errorf("enqueue sync: %w", err))
		return nil, apperr.InternalWithError(err)
	}

	logger.Info("[SyncCoordinator.StartSync] Enqueued job %s for %s", job.JobID, accountID)
	return &in.StartSyncResult{Started: true, InProgress: true, JobID: job.JobID}, nil
}

// GetSyncStatus returns the status projection; accounts that never synced
// get the zero projection.
func (s *SyncCoordinator) GetSyncStatus(ctx context.Context, accountID string) (domain.SyncStatusView, error) {
	st, err := s.status.Get(ctx, accountID)
	if errors.Is(err, out.ErrNotFound) {
		return domain.SyncStatusView{}, nil
	}
	if err != nil {
		return domain.SyncStatusView{}, apperr.DatabaseError("get sync status", err)
	}
	return st.View(), nil
}

// FullSync claims the account and runs a full sync in the calling goroutine.
func (s *SyncCoordinator) FullSync(ctx context.Context, accountID string) (*domain.SyncResult, error) {
	leaseID := uuid.NewString()
	claimed, err := s.status.Claim(ctx, accountID, leaseID, s.cfg.LeaseTimeout)
	if err != nil {
		return nil, fmt.Errorf("claim sync: %w", err)
	}
	if !claimed {
		return nil, ErrSyncInProgress
	}
	return s.RunClaimedFullSync(ctx, accountID, leaseID)
}

// RunClaimedFullSync runs a full sync for an account claimed under ticket.
// The ticket is exchanged for a fresh run lease first, so a job delivered
// twice runs once. The flag is cleared on return unless the lease was lost.
func (s *SyncCoordinator) RunClaimedFullSync(ctx context.Context, accountID, ticket string) (*domain.SyncResult, error) {
	if !s.acquireRunner(accountID) {
		// A run in this process still owns the account; its flag stays set.
		return nil, ErrSyncInProgress
	}
	defer s.releaseRunner(accountID)

	leaseID := uuid.NewString()
	adopted, err := s.status.Adopt(ctx, accountID, ticket, leaseID)
	if err != nil {
		return nil, fmt.Errorf("adopt sync lease: %w", err)
	}
	if !adopted {
		logger.Info("[SyncCoordinator.RunClaimedFullSync] Lease for %s already taken, skipping", accountID)
		return nil, ErrSyncInProgress
	}

	return s.runFull(ctx, accountID, leaseID)
}

func (s *SyncCoordinator) runFull(ctx context.Context, accountID, leaseID string) (result *domain.SyncResult, err error) {
	start := s.now()
	log := logger.WithField("account_id", accountID).WithField("kind", domain.SyncKindFull)
	log.Info("[SyncCoordinator.FullSync] Starting")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panic: %v", r)
			result = nil
		}
		if err != nil {
			if !errors.Is(err, out.ErrLeaseLost) {
				s.fail(ctx, accountID, leaseID, err)
			}
			metrics.RecordSyncRun(string(domain.SyncKindFull), "failed", s.now().Sub(start))
			log.WithError(err).Error("[SyncCoordinator.FullSync] Failed")
		}
	}()

	// The token is resolved before any label work so a revoked grant fails
	// the run instead of every label.
	if _, err := s.tokens.Token(ctx, accountID); err != nil {
		return nil, err
	}

	result = &domain.SyncResult{
		Kind:     domain.SyncKindFull,
		PerLabel: make(map[string]int, len(domain.FullSyncLabels)),
	}
	total := 0
	checkpointed := 0
	every := s.cfg.CheckpointEvery
	var lost error

	for _, label := range domain.FullSyncLabels {
		n, labelErr := s.paginator.FetchLabel(ctx, accountID, label, s.cfg.MaxPerLabel, func(persisted int) {
			total += persisted
			if total/every > checkpointed/every {
				if err := s.checkpoint(ctx, accountID, leaseID, total); err != nil {
					lost = err
				}
				checkpointed = total
			}
		})
		result.PerLabel[label] = n

		if labelErr != nil {
			if errors.Is(labelErr, ErrTokenUnavailable) {
				return nil, labelErr
			}
			log.WithError(labelErr).Warn("[SyncCoordinator.FullSync] Label %s abandoned after %d messages", label, n)
		} else {
			log.Info("[SyncCoordinator.FullSync] Label %s: %d messages", label, n)
		}

		if err := s.checkpoint(ctx, accountID, leaseID, total); err != nil {
			lost = err
		}
		checkpointed = total
		if lost != nil {
			return nil, fmt.Errorf("after label %s: %w", label, lost)
		}
	}

	finished := s.now()
	if err := s.status.Complete(context.WithoutCancel(ctx), accountID, leaseID, total, finished.UTC()); err != nil {
		return nil, fmt.Errorf("complete sync: %w", err)
	}

	result.Total = total
	result.Duration = finished.Sub(start)
	metrics.RecordSyncRun(string(domain.SyncKindFull), "completed", result.Duration)
	log.WithDuration(result.Duration).Info("[SyncCoordinator.FullSync] Completed: %d messages", total)
	return result, nil
}

// IncrementalSync fetches recent inbox messages sequentially. Accounts that
// never completed a sync are escalated to a full sync.
func (s *SyncCoordinator) IncrementalSync(ctx context.Context, accountID string) (*domain.SyncResult, error) {
	st, err := s.status.Get(ctx, accountID)
	if err != nil && !errors.Is(err, out.ErrNotFound) {
		return nil, fmt.Errorf("get sync status: %w", err)
	}
	if !st.HasSynced() {
		logger.Info("[SyncCoordinator.IncrementalSync] No previous sync for %s, running full sync", accountID)
		result, err := s.FullSync(ctx, accountID)
		if result != nil {
			result.Escalated = true
		}
		return result, err
	}

	start := s.now()
	token, err := s.tokens.Token(ctx, accountID)
	if err != nil {
		s.recordError(ctx, accountID, err)
		metrics.RecordSyncRun(string(domain.SyncKindIncremental), "failed", s.now().Sub(start))
		return nil, err
	}

	page, err := s.provider.ListMessages(ctx, token, &out.ProviderListOptions{
		LabelID:  domain.LabelInbox,
		Query:    fmt.Sprintf("newer_than:%dd", s.cfg.IncrementalWindowDays),
		PageSize: int64(s.cfg.IncrementalMax),
	})
	if err != nil {
		s.recordError(ctx, accountID, err)
		metrics.RecordSyncRun(string(domain.SyncKindIncremental), "failed", s.now().Sub(start))
		return nil, fmt.Errorf("list recent messages: %w", err)
	}

	ids := page.MessageIDs
	if len(ids) > s.cfg.IncrementalMax {
		ids = ids[:s.cfg.IncrementalMax]
	}

	processed := 0
	for _, id := range ids {
		if err := s.paginator.SyncMessage(ctx, token, accountID, id); err != nil {
			logger.WithError(err).Warn("[SyncCoordinator.IncrementalSync] Skipping message %s for %s", id, accountID)
			continue
		}
		processed++
		metrics.IncrementMessagesSynced(domain.LabelInbox)
	}

	finished := s.now()
	if processed > 0 {
		if err := s.status.TouchLastSync(ctx, accountID, finished.UTC()); err != nil {
			return nil, fmt.Errorf("touch last sync: %w", err)
		}
	}

	result := &domain.SyncResult{
		Kind:     domain.SyncKindIncremental,
		Total:    processed,
		PerLabel: map[string]int{domain.LabelInbox: processed},
		Duration: finished.Sub(start),
	}
	metrics.RecordSyncRun(string(domain.SyncKindIncremental), "completed", result.Duration)
	logger.Debug("[SyncCoordinator.IncrementalSync] %s: %d/%d messages in %v", accountID, processed, len(ids), result.Duration)
	return result, nil
}

// =============================================================================
// Helpers
// =============================================================================

// checkpoint returns ErrLeaseLost when another run took the account over;
// other write errors are only logged.
func (s *SyncCoordinator) checkpoint(ctx context.Context, accountID, leaseID string, total int) error {
	err := s.status.Checkpoint(ctx, accountID, leaseID, total)
	if errors.Is(err, out.ErrLeaseLost) {
		logger.Warn("[SyncCoordinator] Lease lost for %s at %d, stopping", accountID, total)
		return err
	}
	if err != nil {
		logger.WithError(err).Warn("[SyncCoordinator] Checkpoint failed for %s at %d", accountID, total)
	}
	return nil
}

// fail clears the flag and records the error even when ctx is already done.
func (s *SyncCoordinator) fail(ctx context.Context, accountID, leaseID string, cause error) {
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.status.Fail(cleanup, accountID, leaseID, cause.Error()); err != nil {
		logger.WithError(err).Error("[SyncCoordinator] Could not record failure for %s", accountID)
	}
}

func (s *SyncCoordinator) recordError(ctx context.Context, accountID string, cause error) {
	if err := s.status.RecordError(context.WithoutCancel(ctx), accountID, cause.Error()); err != nil {
		logger.WithError(err).Warn("[SyncCoordinator] Could not record error for %s", accountID)
	}
}

func (s *SyncCoordinator) acquireRunner(accountID string) bool {
	s.runnersMutex.Lock()
	defer s.runnersMutex.Unlock()
	if _, exists := s.runners[accountID]; exists {
		return false
	}
	s.runners[accountID] = struct{}{}
	return true
}

func (s *SyncCoordinator) releaseRunner(accountID string) {
	s.runnersMutex.Lock()
	delete(s.runners, accountID)
	s.runnersMutex.Unlock()
}

// IsRunning reports whether this process is running a full sync for the account.
func (s *SyncCoordinator) IsRunning(accountID string) bool {
	s.runnersMutex.Lock()
	defer s.runnersMutex.Unlock()
	_, exists := s.runners[accountID]
	return exists
}
