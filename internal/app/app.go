// Package app wires the engine's components from configuration. The
// server, worker and tracking binaries share it so each process builds
// the same services over the same stores.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/delivery"
	"github.com/ignite/campaign-engine/internal/notify"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/httpretry"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/report"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/segment"
	"github.com/ignite/campaign-engine/internal/sendwindow"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/service/suppression"
	"github.com/ignite/campaign-engine/internal/tracking"
)

// App holds the shared infrastructure and the services built on it.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client // nil when Redis is disabled

	// Queue is Redis-backed when Redis is enabled. Otherwise it is an
	// in-memory queue, usable only when producer and workers share a
	// process.
	Queue  delivery.Queue
	Events notify.Publisher
	Locks  distlock.Factory

	SQS *sqs.Client // nil unless notify.bus is sqs
	S3  *s3.Client  // nil without a reports bucket

	CampaignRepo *postgres.CampaignRepo

	Campaigns    *campaign.Service
	Segments     *segment.Service
	Resolver     *segment.Resolver
	Suppressions *suppression.Service
	Reports      *report.Service
	Exporter     *report.Exporter // nil without a reports bucket
	Recorder     *tracking.Recorder

	closers []func()
}

// ConfigureLogging applies the log settings to the default logger.
func ConfigureLogging(cfg config.LogConfig) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	if cfg.RedactPII != nil {
		logger.SetRedactPII(*cfg.RedactPII)
	}
}

// New connects to Postgres and, if enabled, Redis and AWS, then builds
// every service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database url is required (set DATABASE_URL)")
	}
	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime())
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db}
	a.closers = append(a.closers, func() { db.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			opts = &redis.Options{Addr: cfg.Redis.URL}
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, func() { client.Close() })
		a.Queue = delivery.NewRedisQueue(client, cfg.Delivery.QueueName)
		log.Printf("Redis connected, queue %q", cfg.Delivery.QueueName)
	} else {
		a.Queue = delivery.NewMemoryQueue()
		log.Println("Redis disabled: in-memory queue, Postgres advisory locks")
	}
	a.Locks = distlock.NewFactory(a.Redis, db, cfg.Scheduler.LockTTL())

	if err := a.setupAWS(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.Events = a.publisher()

	a.CampaignRepo = postgres.NewCampaignRepo(db)
	segments := postgres.NewSegmentRepo(db)
	a.Segments = segment.NewService(segments)
	a.Resolver = segment.NewResolver(segments)
	a.Suppressions = suppression.NewService(postgres.NewSuppressionRepo(db), cfg.Suppression.FrequencyCapPerDay)
	a.Reports = report.NewService(postgres.NewReportRepo(db))
	if a.S3 != nil {
		a.Exporter = report.NewExporter(a.S3, report.ExporterConfig{
			Bucket:   cfg.Reports.S3Bucket,
			Prefix:   cfg.Reports.S3Prefix,
			Region:   cfg.Reports.S3Region,
			Compress: true,
		})
	}
	a.Campaigns = campaign.NewService(campaign.Deps{
		Repo:     a.CampaignRepo,
		Sends:    a.CampaignRepo,
		Resolver: a.Resolver,
		Filter:   a.Suppressions,
		Gate:     sendwindow.New(),
		Queue:    a.Queue,
		Events:   a.Events,
		Locks:    a.Locks,
	})
	a.Recorder = tracking.NewRecorder(postgres.NewTrackingRepo(db), a.Suppressions, cfg.Tracking.TokenExpiry())
	return a, nil
}

func (a *App) setupAWS(ctx context.Context) error {
	cfg := a.Config
	if cfg.Notify.Bus == config.BusSQS {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Transport.SES.Region))
		if err != nil {
			return fmt.Errorf("load AWS config for SQS: %w", err)
		}
		a.SQS = sqs.NewFromConfig(awsCfg)
	}
	if cfg.Reports.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Reports.S3Region))
		if err != nil {
			return fmt.Errorf("load AWS config for S3: %w", err)
		}
		a.S3 = s3.NewFromConfig(awsCfg)
	}
	return nil
}

// publisher picks where completion events go. With SQS the webhook is
// called by whichever worker consumes the queue.
func (a *App) publisher() notify.Publisher {
	cfg := a.Config.Notify
	if a.SQS != nil {
		return notify.NewSQSPublisher(a.SQS, cfg.SQSQueueURL)
	}
	if cfg.WebhookURL == "" {
		return notify.Discard{}
	}
	bus := notify.NewBus(a.Webhook(), cfg.BufferSize, cfg.WebhookTimeout())
	a.closers = append(a.closers, bus.Close)
	return bus
}

// Webhook builds the completion webhook dispatcher, or nil when no URL
// is configured.
func (a *App) Webhook() *notify.WebhookDispatcher {
	cfg := a.Config.Notify
	if cfg.WebhookURL == "" {
		return nil
	}
	client := httpretry.NewRetryClient(&http.Client{Timeout: cfg.WebhookTimeout()}, cfg.WebhookMaxRetries)
	return notify.NewWebhookDispatcher(client, cfg.WebhookURL)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
