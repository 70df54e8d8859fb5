package delivery

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// JobProcessor executes jobs for the Pool.
type JobProcessor interface {
	// Process delivers one job. A returned error is retried unless it
	// wraps ErrPermanent.
	Process(ctx context.Context, job Job) error

	// Fail records a terminal failure once retries are exhausted or the
	// error is permanent.
	Fail(ctx context.Context, job Job, cause error) error
}

// PoolConfig tunes a Pool.
type PoolConfig struct {
	Concurrency  int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	SendTimeout  time.Duration
	ClaimTimeout time.Duration
}

func (c *PoolConfig) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = time.Second
	}
}

// Pool runs a fixed number of workers. Each worker claims one job, waits
// for the limiter, processes it under a timeout, and acks or retries it
// before claiming the next.
type Pool struct {
	queue   Queue
	limiter Limiter
	proc    JobProcessor
	cfg     PoolConfig
	log     *logger.Logger

	processed int64
	retried   int64
	failed    int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a stopped pool. A nil limiter means no limit.
func NewPool(q Queue, l Limiter, proc JobProcessor, cfg PoolConfig) *Pool {
	cfg.defaults()
	if l == nil {
		l = Unlimited{}
	}
	return &Pool{
		queue:   q,
		limiter: l,
		proc:    proc,
		cfg:     cfg,
		log:     logger.With("component", "delivery.Pool"),
	}
}

// Start launches the workers. Calling Start on a running pool is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)

	p.log.Info("starting workers", "concurrency", p.cfg.Concurrency, "max_attempts", p.cfg.MaxAttempts)
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("workers stopped",
		"processed", atomic.LoadInt64(&p.processed),
		"retried", atomic.LoadInt64(&p.retried),
		"failed", atomic.LoadInt64(&p.failed),
	)
}

// Stats returns counters since the pool was created.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"processed": atomic.LoadInt64(&p.processed),
		"retried":   atomic.LoadInt64(&p.retried),
		"failed":    atomic.LoadInt64(&p.failed),
	}
}

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	for ctx.Err() == nil {
		job, err := p.queue.Claim(ctx, p.cfg.ClaimTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("claim failed", "worker", n, "error", err.Error())
			sleep(ctx, time.Second)
			continue
		}
		if job == nil {
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			// hand the job back untouched either way
			p.release(job)
			if ctx.Err() != nil {
				return
			}
			p.log.Error("rate limiter unavailable", "worker", n, "error", err.Error())
			sleep(ctx, Backoff(1, p.cfg.BackoffBase, p.cfg.BackoffMax))
			continue
		}
		p.handle(ctx, job)
	}
}

func (p *Pool) release(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.queue.Retry(ctx, job, 0); err != nil {
		p.log.Warn("release job", "job_id", job.ID, "error", err.Error())
	}
}

func (p *Pool) handle(ctx context.Context, job *Job) {
	metrics.SendAttempts.Inc()
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	err := p.proc.Process(jobCtx, *job)
	cancel()
	metrics.SendDuration.Observe(time.Since(start).Seconds())

	// bookkeeping outlives a shutdown so a finished job is not redelivered
	bctx, bcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer bcancel()

	attempts := job.Attempt + 1
	switch {
	case err == nil:
		atomic.AddInt64(&p.processed, 1)
		p.ack(bctx, job)

	case errors.Is(err, ErrPermanent):
		atomic.AddInt64(&p.failed, 1)
		metrics.SendsFailed.WithLabelValues("permanent").Inc()
		p.fail(bctx, job, err)

	case attempts >= p.cfg.MaxAttempts:
		atomic.AddInt64(&p.failed, 1)
		metrics.SendsFailed.WithLabelValues("exhausted").Inc()
		p.log.Error("send failed after final attempt",
			"job_id", job.ID,
			"campaign_send_id", job.CampaignSendID,
			"attempts", attempts,
			"error", err.Error(),
		)
		p.fail(bctx, job, err)

	default:
		atomic.AddInt64(&p.retried, 1)
		job.Attempt = attempts
		delay := Backoff(attempts, p.cfg.BackoffBase, p.cfg.BackoffMax)
		p.log.Debug("send attempt failed, retrying",
			"campaign_send_id", job.CampaignSendID,
			"attempt", attempts,
			"delay", delay.String(),
			"error", err.Error(),
		)
		if rerr := p.queue.Retry(bctx, job, delay); rerr != nil {
			p.log.Error("requeue failed", "job_id", job.ID, "error", rerr.Error())
		}
	}
}

func (p *Pool) fail(ctx context.Context, job *Job, cause error) {
	if err := p.proc.Fail(ctx, *job, cause); err != nil {
		// left unacked: the job is reclaimed and the send guard decides
		p.log.Error("record failure", "campaign_send_id", job.CampaignSendID, "error", err.Error())
		return
	}
	p.ack(ctx, job)
}

func (p *Pool) ack(ctx context.Context, job *Job) {
	if err := p.queue.Ack(ctx, job); err != nil {
		p.log.Error("ack failed", "job_id", job.ID, "error", err.Error())
	}
}

// Backoff returns the delay before retry number attempt (1-based):
// base*2^(attempt-1) capped at max, with jitter in [d/2, d].
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
