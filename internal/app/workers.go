package app

import (
	"context"
	"fmt"
	"log"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/delivery"
	"github.com/ignite/campaign-engine/internal/notify"
	"github.com/ignite/campaign-engine/internal/render"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/scheduler"
	"github.com/ignite/campaign-engine/internal/transport"
)

// CampaignTickLock serializes the promote/finalize tick across instances.
const CampaignTickLock = "scheduler:campaigns"

// Workers is the delivery side of the engine: the worker pool, the
// campaign and queue loops, and the completion event consumer.
type Workers struct {
	pool       *delivery.Pool
	schedulers []*scheduler.Scheduler
	consumer   *notify.SQSConsumer
}

// NewTransport builds the configured mail transport.
func NewTransport(ctx context.Context, cfg config.TransportConfig) (transport.Transport, error) {
	switch cfg.Kind {
	case config.TransportSES:
		return transport.NewSESTransport(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region, cfg.SES.ConfigurationSet)
	case config.TransportLog:
		return transport.NewLogTransport(), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
}

func processorConfig(cfg *config.Config) delivery.ProcessorConfig {
	return delivery.ProcessorConfig{
		TrackingBaseURL:    cfg.Tracking.BaseURL,
		UnsubscribeBaseURL: cfg.Transport.UnsubscribeBaseURL,
		DefaultFromName:    cfg.Transport.DefaultFromName,
		DefaultFromEmail:   cfg.Transport.DefaultFromEmail,
		DefaultReplyTo:     cfg.Transport.ReplyTo,
	}
}

// NewWorkers assembles the delivery side without starting it.
func (a *App) NewWorkers(ctx context.Context) (*Workers, error) {
	cfg := a.Config
	t, err := NewTransport(ctx, cfg.Transport)
	if err != nil {
		return nil, err
	}
	proc := delivery.NewProcessor(postgres.NewDeliveryStore(a.DB), t, render.NewRenderer(), processorConfig(cfg))

	var limiter delivery.Limiter
	switch {
	case cfg.Delivery.RateLimiter == config.LimiterRedis && a.Redis != nil:
		limiter = delivery.NewRedisWindowLimiter(a.Redis, cfg.Delivery.QueueName, cfg.Delivery.RateLimitPerMinute)
	case cfg.Delivery.RateLimiter == config.LimiterRedis:
		log.Println("rate_limiter is redis but Redis is disabled, limiting per process")
		fallthrough
	default:
		limiter = delivery.NewLocalLimiter(cfg.Delivery.RateLimitPerMinute)
	}

	w := &Workers{
		pool: delivery.NewPool(a.Queue, limiter, proc, delivery.PoolConfig{
			Concurrency:  cfg.Delivery.Concurrency,
			MaxAttempts:  cfg.Delivery.MaxAttempts,
			BackoffBase:  cfg.Delivery.BackoffBase(),
			BackoffMax:   cfg.Delivery.BackoffMax(),
			SendTimeout:  cfg.Delivery.SendTimeout(),
			ClaimTimeout: cfg.Delivery.PollInterval(),
		}),
	}

	jobs := scheduler.NewCampaignJobs(a.Campaigns, a.CampaignRepo, a.Locks(CampaignTickLock))
	jobs.SetBatchSize(cfg.Scheduler.BatchSize)
	jobs.SetStrandedAfter(cfg.Delivery.VisibilityTimeout())
	campaigns, err := scheduler.New("campaigns", cfg.Scheduler.Interval(), jobs.Tick)
	if err != nil {
		return nil, err
	}
	w.schedulers = append(w.schedulers, campaigns)

	if rq, ok := a.Queue.(scheduler.RecoverableQueue); ok {
		maint, err := scheduler.New("queue-maintenance", cfg.Delivery.PollInterval()*5, scheduler.QueueMaintenance(rq, cfg.Delivery.VisibilityTimeout()))
		if err != nil {
			return nil, err
		}
		w.schedulers = append(w.schedulers, maint)
	}

	if a.SQS != nil {
		if hook := a.Webhook(); hook != nil {
			w.consumer = notify.NewSQSConsumer(a.SQS, cfg.Notify.SQSQueueURL, hook)
		} else {
			log.Println("notify.bus is sqs but no webhook_url is set, completion events are not consumed here")
		}
	}
	return w, nil
}

// Start launches the pool, the loops and the consumer.
func (w *Workers) Start(ctx context.Context) {
	w.pool.Start(ctx)
	for _, s := range w.schedulers {
		s.Start()
	}
	if w.consumer != nil {
		w.consumer.Start(ctx)
	}
}

// Stop halts the loops first so nothing new is enqueued, then drains the
// pool.
func (w *Workers) Stop() {
	for _, s := range w.schedulers {
		s.Stop()
	}
	if w.consumer != nil {
		w.consumer.Stop()
	}
	w.pool.Stop()
}
