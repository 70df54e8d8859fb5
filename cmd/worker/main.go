package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/campaign-engine/internal/app"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/metrics"
)

func main() {
	log.Println("Starting Campaign Delivery Worker...")

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if !cfg.Redis.Enabled {
		// Jobs enqueued by the API server would never reach this process.
		log.Fatal("The standalone worker needs Redis; without it run the server with embedded workers")
	}
	app.ConfigureLogging(cfg.Log)
	if cfg.Metrics.Enabled {
		metrics.Register()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()
	log.Println("Connected to database and Redis")

	workers, err := a.NewWorkers(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize workers: %v", err)
	}
	workers.Start(ctx)
	log.Printf("Delivery pool started (concurrency %d, transport %s, %d/min)",
		cfg.Delivery.Concurrency, cfg.Transport.Kind, cfg.Delivery.RateLimitPerMinute)
	log.Printf("Campaign scheduler started (every %s)", cfg.Scheduler.Interval())

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := a.Queue.Depth(ctx)
				if err != nil {
					log.Printf("Worker heartbeat - queue depth unavailable: %v", err)
					continue
				}
				log.Printf("Worker heartbeat - %d jobs queued", depth)
			}
		}
	}()

	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	workers.Stop()
	cancel()

	log.Println("Worker stopped")
}
