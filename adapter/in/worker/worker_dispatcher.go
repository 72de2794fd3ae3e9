package worker

import (
	"context"
	"errors"
	"fmt"

	"mailmirror/core/domain"
	"mailmirror/core/port/in"
	"mailmirror/core/port/out"
	"mailmirror/core/service/mail"
	"mailmirror/pkg/logger"
	"mailmirror/pkg/metrics"

	"github.com/goccy/go-json"
)

// Handler routes jobs to the sync service. Sync failures are recorded on the
// account's status by the service, so only malformed jobs return an error.
type Handler struct {
	sync in.SyncService
}

func NewHandler(sync in.SyncService) *Handler {
	return &Handler{sync: sync}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobMailSync, JobMailIncremental:
		return h.processSync(ctx, msg)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		metrics.IncrementJob(msg.Type, "unknown")
		return nil
	}
}

// Handle implements messaging.JobHandler for jobs read from a stream.
func (h *Handler) Handle(ctx context.Context, stream string, data []byte) error {
	var job out.SyncJob
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedJob, stream, err)
	}
	return h.Process(ctx, MessageFromSyncJob(&job))
}

func (h *Handler) processSync(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[SyncPayload](msg)
	if err != nil || payload.AccountID == "" {
		metrics.IncrementJob(msg.Type, "malformed")
		return fmt.Errorf("%w: %s %s", ErrMalformedJob, msg.Type, msg.ID)
	}

	log := logger.WithFields(map[string]any{
		"job_id":     msg.ID,
		"job_type":   msg.Type,
		"account_id": payload.AccountID,
	})

	var result *domain.SyncResult
	switch {
	case msg.Type == JobMailIncremental:
		result, err = h.sync.IncrementalSync(ctx, payload.AccountID)
	case payload.LeaseID != "":
		result, err = h.sync.RunClaimedFullSync(ctx, payload.AccountID, payload.LeaseID)
	default:
		result, err = h.sync.FullSync(ctx, payload.AccountID)
	}

	switch {
	case errors.Is(err, mail.ErrSyncInProgress):
		log.Info("[Handler.processSync] skipped, sync already running")
		metrics.IncrementJob(msg.Type, "skipped")
	case err != nil:
		log.WithError(err).Warn("[Handler.processSync] sync failed")
		metrics.IncrementJob(msg.Type, "failed")
	default:
		log.WithDuration(result.Duration).Info("[Handler.processSync] %s sync done: %d messages", result.Kind, result.Total)
		metrics.IncrementJob(msg.Type, "ok")
	}
	return nil
}
