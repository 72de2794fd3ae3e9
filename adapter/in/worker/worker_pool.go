package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"mailmirror/core/port/out"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrPoolUnavailable is returned when a job cannot be queued.
var ErrPoolUnavailable = errors.New("worker pool unavailable")

// Processor runs one job.
type Processor interface {
	Process(ctx context.Context, msg *Message) error
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers          int
	WorkerChanSize   int
	MaxRetries       int
	SubmitRate       float64 // jobs per second accepted by Submit
	SubmitBurst      int
	JobTimeout       time.Duration
	JobTimeoutByType map[JobType]time.Duration
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        4,
		WorkerChanSize: 100,
		MaxRetries:     3,
		SubmitRate:     100,
		SubmitBurst:    100,
		JobTimeout:     time.Minute,
		JobTimeoutByType: map[JobType]time.Duration{
			JobMailSync:        time.Hour,
			JobMailIncremental: 5 * time.Minute,
		},
	}
}

// Pool runs jobs in-process on a go-pkgz/pool worker group. It also serves
// as the out.SyncJobPublisher when API and workers share a process.
type Pool struct {
	handler Processor
	config  *PoolConfig

	pool    *pool.WorkerGroup[*Message]
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	metrics *PoolMetrics
	log     zerolog.Logger

	started bool
	mu      sync.Mutex
}

// PoolMetrics holds pool metrics.
type PoolMetrics struct {
	JobsProcessed  int64
	JobsFailed     int64
	JobsDropped    int64
	JobsRetried    int64
	AvgProcessTime int64 // milliseconds
	QueueSize      int32
}

var _ out.SyncJobPublisher = (*Pool)(nil)

// messageWorker implements pool.Worker for Message processing.
type messageWorker struct {
	pool *Pool
}

func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

// NewPool creates a new worker pool.
func NewPool(handler Processor, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.WorkerChanSize <= 0 {
		config.WorkerChanSize = 1
	}
	if config.SubmitBurst <= 0 {
		config.SubmitBurst = 1
	}
	limit := rate.Inf
	if config.SubmitRate > 0 {
		limit = rate.Limit(config.SubmitRate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		handler: handler,
		config:  config,
		limiter: rate.NewLimiter(limit, config.SubmitBurst),
		ctx:     ctx,
		cancel:  cancel,
		metrics: &PoolMetrics{},
		log:     log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start starts the worker pool.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.pool = pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithBatchSize(0).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start pool")
		return err
	}
	p.started = true

	go p.metricsReporter()

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("worker_chan_size", p.config.WorkerChanSize).
		Msg("worker pool started")
	return nil
}

// Stop closes the input and waits for queued jobs up to the context deadline.
func (p *Pool) Stop(ctx context.Context) {
	p.log.Info().Msg("stopping worker pool...")

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	wg := p.pool
	p.mu.Unlock()

	if err := wg.Close(ctx); err != nil {
		p.log.Warn().Err(err).Msg("error closing pool")
	}
	p.cancel()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// Submit queues a job. It returns false when the pool is stopped, the submit
// rate is exceeded or every worker and queue slot is taken. It never waits
// for a slot.
func (p *Pool) Submit(msg *Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.pool == nil {
		return false
	}

	if !p.limiter.Allow() {
		p.drop(msg, "job dropped due to rate limiting")
		return false
	}

	// QueueSize counts queued plus running jobs and only shrinks outside mu,
	// so below capacity the worker group has room and Submit returns at once.
	if atomic.LoadInt32(&p.metrics.QueueSize) >= p.capacity() {
		p.drop(msg, "job dropped, queue full")
		return false
	}

	atomic.AddInt32(&p.metrics.QueueSize, 1)
	p.pool.Submit(msg)
	return true
}

func (p *Pool) capacity() int32 {
	return int32(p.config.Workers + p.config.WorkerChanSize)
}

func (p *Pool) drop(msg *Message, reason string) {
	atomic.AddInt64(&p.metrics.JobsDropped, 1)
	p.log.Warn().
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Msg(reason)
}

// PublishSync queues a sync job on this pool.
func (p *Pool) PublishSync(_ context.Context, job *out.SyncJob) error {
	if !p.Submit(MessageFromSyncJob(job)) {
		return ErrPoolUnavailable
	}
	return nil
}

func (p *Pool) getJobTimeout(jobType JobType) time.Duration {
	if timeout, ok := p.config.JobTimeoutByType[jobType]; ok {
		return timeout
	}
	return p.config.JobTimeout
}

func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	start := time.Now()
	defer atomic.AddInt32(&p.metrics.QueueSize, -1)

	timeout := p.getJobTimeout(msg.Type)
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.handler.Process(jobCtx, msg)
	p.updateAvgProcessTime(time.Since(start).Milliseconds())

	if err == nil {
		atomic.AddInt64(&p.metrics.JobsProcessed, 1)
		return nil
	}

	p.log.Error().
		Err(err).
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Int("retries", msg.Retries).
		Msg("job processing failed")

	if !errors.Is(err, ErrMalformedJob) && msg.Retries < p.config.MaxRetries {
		msg.Retries++
		atomic.AddInt64(&p.metrics.JobsRetried, 1)

		// Exponential backoff with jitter.
		backoff := time.Duration(1<<msg.Retries)*time.Second +
			time.Duration(rand.Intn(500))*time.Millisecond
		time.AfterFunc(backoff, func() {
			p.Submit(msg)
		})
		return err
	}

	atomic.AddInt64(&p.metrics.JobsFailed, 1)
	p.log.Error().
		Str("job_id", msg.ID).
		Str("job_type", msg.Type).
		Interface("payload", msg.Payload).
		Msg("job permanently failed")
	return err
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
		return
	}
	atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
}

func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			m := p.GetMetrics()
			p.log.Info().
				Int64("processed", m.JobsProcessed).
				Int64("failed", m.JobsFailed).
				Int64("dropped", m.JobsDropped).
				Int64("retried", m.JobsRetried).
				Int64("avg_process_ms", m.AvgProcessTime).
				Int32("queue_size", m.QueueSize).
				Msg("worker pool metrics")
		}
	}
}

// GetMetrics returns current pool metrics.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsDropped:    atomic.LoadInt64(&p.metrics.JobsDropped),
		JobsRetried:    atomic.LoadInt64(&p.metrics.JobsRetried),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
		QueueSize:      atomic.LoadInt32(&p.metrics.QueueSize),
	}
}
