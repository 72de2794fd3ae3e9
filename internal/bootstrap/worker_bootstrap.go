package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mailmirror/adapter/in/worker"
	"mailmirror/adapter/out/messaging"
	"mailmirror/config"
	"mailmirror/pkg/logger"

	"github.com/rs/zerolog"
)

// ConsumerGroup is the Redis Stream consumer group shared by every worker process.
const ConsumerGroup = "mailmirror-workers"

// Worker runs background sync: stream consumers when Redis is configured,
// otherwise an in-process pool that also receives StartSync jobs. The
// incremental scheduler runs in either case when enabled.
type Worker struct {
	handler   *worker.Handler
	pool      *worker.Pool
	consumers []*messaging.Consumer
	scheduler *worker.SyncScheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup
	zlog   zerolog.Logger
}

func NewWorker(cfg *config.Config, deps *Dependencies) *Worker {
	zlog := logger.Component("worker")

	w := &Worker{
		handler: worker.NewHandler(deps.SyncCoordinator),
		zlog:    zlog,
	}

	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}

	if deps.Redis != nil {
		for i := 0; i < count; i++ {
			w.consumers = append(w.consumers, messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
				Group:      ConsumerGroup,
				Consumer:   fmt.Sprintf("%s-%d", cfg.WorkerID, i),
				Streams:    []string{messaging.StreamMailSync},
				Handler:    w.handler,
				Logger:     zlog,
				MaxRetries: cfg.ConsumerMaxRetries,
				ReadBlock:  time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
			}))
		}
		logger.Info("Redis Stream consumers configured: %d on %s", count, messaging.StreamMailSync)
	} else {
		poolConfig := worker.DefaultPoolConfig()
		poolConfig.Workers = count
		if cfg.WorkerQueueSize > 0 {
			poolConfig.WorkerChanSize = cfg.WorkerQueueSize
		}
		w.pool = worker.NewPool(w.handler, poolConfig, zlog)
		deps.SyncCoordinator.SetJobPublisher(w.pool)
		logger.Warn("Redis not available, sync jobs run on the in-process pool")
	}

	if cfg.SchedulerEnabled {
		w.scheduler = worker.NewSyncScheduler(deps.Vault, deps.SyncCoordinator, worker.SchedulerConfig{
			Interval:     cfg.SchedulerInterval,
			StartupDelay: cfg.SchedulerStartupDelay,
		})
	}

	return w
}

// Start launches everything in the background and returns.
func (w *Worker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	if w.pool != nil {
		if err := w.pool.Start(); err != nil {
			w.cancel()
			return fmt.Errorf("start worker pool: %w", err)
		}
	}

	for _, consumer := range w.consumers {
		w.wg.Add(1)
		go func(c *messaging.Consumer) {
			defer w.wg.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("Redis Stream consumer stopped")
			}
		}(consumer)
	}

	if w.scheduler != nil {
		w.scheduler.Start(ctx)
	}

	w.zlog.Info().
		Int("consumers", len(w.consumers)).
		Bool("in_process_pool", w.pool != nil).
		Bool("scheduler", w.scheduler != nil).
		Msg("worker started")
	return nil
}

// Stop cancels consumers and the scheduler, then drains the pool until ctx
// expires.
func (w *Worker) Stop(ctx context.Context) {
	if w.cancel == nil {
		return
	}

	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.zlog.Warn().Msg("timed out waiting for consumers")
	}

	if w.pool != nil {
		w.pool.Stop(ctx)
	}
	w.zlog.Info().Msg("worker stopped")
}

// GetMetrics returns pool counters; zero when jobs come from Redis.
func (w *Worker) GetMetrics() worker.PoolMetrics {
	if w.pool == nil {
		return worker.PoolMetrics{}
	}
	return w.pool.GetMetrics()
}
