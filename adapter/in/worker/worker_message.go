package worker

import (
	"errors"
	"time"

	"mailmirror/core/domain"
	"mailmirror/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// JobType represents the type of a job.
type JobType = string

const (
	JobMailSync        JobType = "mail.sync"
	JobMailIncremental JobType = "mail.incremental"
)

// ErrMalformedJob marks a job that can never succeed; it is not retried.
var ErrMalformedJob = errors.New("malformed job")

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// SyncPayload is the payload of mail.sync and mail.incremental jobs.
type SyncPayload struct {
	AccountID string `json:"account_id"`
	LeaseID   string `json:"lease_id,omitempty"`
}

// MessageFromSyncJob converts a published sync job into a pool message.
func MessageFromSyncJob(job *out.SyncJob) *Message {
	jobType := JobMailSync
	if job.Kind == domain.SyncKindIncremental {
		jobType = JobMailIncremental
	}

	msg := NewMessage(jobType, map[string]any{
		"account_id": job.AccountID,
		"lease_id":   job.LeaseID,
	})
	if job.JobID != "" {
		msg.ID = job.JobID
	}
	if !job.RequestedAt.IsZero() {
		msg.CreatedAt = job.RequestedAt
	}
	return msg
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
