// Package messaging provides message queue adapters.
package messaging

import (
	"context"
	"fmt"

	"mailmirror/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// Stream names
const (
	StreamMailSync = "mail:sync"

	deadLetterPrefix = "dlq:"
)

// streamMaxLen caps each stream; trimming is approximate.
const streamMaxLen = 10000

// RedisProducer implements out.SyncJobPublisher using Redis Streams.
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer creates a new RedisProducer.
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// PublishSync publishes a mail sync job.
func (p *RedisProducer) PublishSync(ctx context.Context, job *out.SyncJob) error {
	return p.publish(ctx, StreamMailSync, job)
}

// publish publishes a job to a stream using go-redis.
func (p *RedisProducer) publish(ctx context.Context, stream string, job interface{}) error {
	values, err := encodeJob(job)
	if err != nil {
		return err
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		ID:     "*",
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}

	return nil
}

func encodeJob(job interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return map[string]interface{}{"data": string(data)}, nil
}

var _ out.SyncJobPublisher = (*RedisProducer)(nil)
