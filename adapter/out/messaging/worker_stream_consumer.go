package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JobHandler processes jobs from streams.
type JobHandler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

// Consumer consumes messages from Redis Streams through a consumer group.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	handler  JobHandler
	log      zerolog.Logger

	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int
	readCount            int64
	readBlock            time.Duration
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  JobHandler
	Logger   zerolog.Logger

	// Optional
	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
	ReadBlock            time.Duration
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	pendingCheckInterval := cfg.PendingCheckInterval
	if pendingCheckInterval == 0 {
		pendingCheckInterval = 30 * time.Second
	}

	// A full sync can legitimately run for many minutes before it is acked.
	pendingIdleTime := cfg.PendingIdleTime
	if pendingIdleTime == 0 {
		pendingIdleTime = 15 * time.Minute
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	readBlock := cfg.ReadBlock
	if readBlock <= 0 {
		readBlock = 5 * time.Second
	}

	return &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		streams:              cfg.Streams,
		handler:              cfg.Handler,
		log:                  cfg.Logger,
		pendingCheckInterval: pendingCheckInterval,
		pendingIdleTime:      pendingIdleTime,
		maxRetries:           maxRetries,
		readCount:            10,
		readBlock:            readBlock,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Msg("starting consumer")

	for _, stream := range c.streams {
		c.createConsumerGroup(ctx, stream)
	}

	go c.processPendingMessages(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := c.readMessages(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from streams")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				c.handleAndAck(ctx, stream.Stream, msg)
			}
		}
	}
}

func (c *Consumer) handleAndAck(ctx context.Context, stream string, msg redis.XMessage) bool {
	if err := c.processMessage(ctx, stream, msg); err != nil {
		// Left pending; the pending sweep retries it and dead-letters it
		// after maxRetries deliveries.
		c.log.Error().
			Err(err).
			Str("stream", stream).
			Str("id", msg.ID).
			Msg("error processing message")
		return false
	}

	if err := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); err != nil {
		c.log.Error().
			Err(err).
			Str("stream", stream).
			Str("id", msg.ID).
			Msg("error acknowledging message")
		return false
	}
	return true
}

// processPendingMessages periodically reclaims messages whose consumer died.
func (c *Consumer) processPendingMessages(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	c.log.Info().
		Dur("check_interval", c.pendingCheckInterval).
		Dur("idle_time", c.pendingIdleTime).
		Int("max_retries", c.maxRetries).
		Msg("starting pending message processor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.claimAndProcessPending(ctx)
		}
	}
}

func (c *Consumer) claimAndProcessPending(ctx context.Context) {
	for _, stream := range c.streams {
		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.group,
			Idle:   c.pendingIdleTime,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.log.Error().Err(err).Str("stream", stream).Msg("error getting pending messages")
			}
			continue
		}

		for _, p := range pending {
			if p.Idle < c.pendingIdleTime {
				continue
			}

			if int(p.RetryCount) >= c.maxRetries {
				c.log.Warn().
					Str("stream", stream).
					Str("id", p.ID).
					Int64("retries", p.RetryCount).
					Msg("message exceeded max retries, moving to DLQ")

				if err := c.moveToDeadLetterQueue(ctx, stream, p.ID); err != nil {
					c.log.Error().Err(err).Str("id", p.ID).Msg("error moving message to DLQ")
				}
				c.client.XAck(ctx, stream, c.group, p.ID)
				continue
			}

			claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.consumer,
				MinIdle:  c.pendingIdleTime,
				Messages: []string{p.ID},
			}).Result()
			if err != nil {
				c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming message")
				continue
			}

			for _, msg := range claimed {
				if c.handleAndAck(ctx, stream, msg) {
					c.log.Info().Str("stream", stream).Str("id", msg.ID).Msg("reprocessed pending message")
				}
			}
		}
	}
}

// createConsumerGroup creates a consumer group if it doesn't exist.
func (c *Consumer) createConsumerGroup(ctx context.Context, stream string) {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		c.log.Warn().Err(err).Str("stream", stream).Msg("error creating consumer group")
	}
}

func (c *Consumer) readMessages(ctx context.Context) ([]redis.XStream, error) {
	if len(c.streams) == 0 {
		return nil, redis.Nil
	}

	args := make([]string, len(c.streams)*2)
	for i, stream := range c.streams {
		args[i] = stream
		args[len(c.streams)+i] = ">"
	}

	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    c.readCount,
		Block:    c.readBlock,
	}).Result()
}

func (c *Consumer) processMessage(ctx context.Context, stream string, msg redis.XMessage) error {
	data, err := messageData(msg)
	if err != nil {
		return err
	}
	return c.handler.Handle(ctx, stream, data)
}

func messageData(msg redis.XMessage) ([]byte, error) {
	data, ok := msg.Values["data"]
	if !ok {
		return nil, fmt.Errorf("invalid message format: missing data field")
	}

	dataStr, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("invalid message format: data is not a string")
	}
	return []byte(dataStr), nil
}

// moveToDeadLetterQueue copies a message to dlq:{stream} with failure metadata.
func (c *Consumer) moveToDeadLetterQueue(ctx context.Context, stream string, msgID string) error {
	messages, err := c.client.XRange(ctx, stream, msgID, msgID).Result()
	if err != nil {
		return fmt.Errorf("failed to read message for DLQ: %w", err)
	}
	if len(messages) == 0 {
		return fmt.Errorf("message %s not found in stream %s", msgID, stream)
	}

	_, err = c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadLetterPrefix + stream,
		Values: deadLetterValues(stream, messages[0], c.consumer, c.group, time.Now()),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add message to DLQ: %w", err)
	}

	c.log.Info().
		Str("dlq_stream", deadLetterPrefix+stream).
		Str("original_id", msgID).
		Msg("message moved to DLQ")
	return nil
}

func deadLetterValues(stream string, msg redis.XMessage, consumer, group string, at time.Time) map[string]interface{} {
	values := map[string]interface{}{
		"original_stream": stream,
		"original_id":     msg.ID,
		"failed_at":       at.UTC().Format(time.RFC3339),
		"consumer":        consumer,
		"group":           group,
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}
	return values
}
