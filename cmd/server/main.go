package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/campaign-engine/internal/api"
	"github.com/ignite/campaign-engine/internal/app"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/tracking"
	"github.com/ignite/campaign-engine/migrations"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Campaign Engine API Server (cmd/server/main.go)           ║")
	log.Println("║  Operator API, public tracking endpoints, health checks    ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}
	app.ConfigureLogging(cfg.Log)

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("Connecting to database at ...@%s/...", extractHost(cfg.Database.URL))
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()
	log.Println("Database connected")

	if os.Getenv("AUTO_MIGRATE") == "true" {
		if err := migrations.Up(a.DB); err != nil {
			log.Fatalf("Migrations failed: %v", err)
		}
		log.Println("Migrations applied")
	}

	// The in-memory queue only reaches workers in the same process.
	var workers *app.Workers
	if a.Redis == nil || os.Getenv("EMBEDDED_WORKERS") == "true" {
		workers, err = a.NewWorkers(ctx)
		if err != nil {
			log.Fatalf("Failed to initialize delivery workers: %v", err)
		}
		workers.Start(ctx)
		log.Printf("Embedded delivery workers started (concurrency %d)", cfg.Delivery.Concurrency)
	}

	handlers := &api.Handlers{
		Campaigns:    a.Campaigns,
		Segments:     a.Segments,
		Resolver:     a.Resolver,
		Suppressions: a.Suppressions,
		Reports:      a.Reports,
	}
	if a.Exporter != nil {
		handlers.Exporter = a.Exporter
	}

	var bucket api.BucketHeader
	if a.S3 != nil {
		bucket = a.S3
	}
	routerCfg := api.RouterConfig{
		CORSOrigins: cfg.Server.CORSOrigins,
		Tracking:    tracking.NewHandler(a.Recorder).Routes(),
		Health:      api.NewHealthChecker(a.DB, a.Redis, bucket, cfg.Reports.S3Bucket, a.Queue),
	}
	if cfg.Metrics.Enabled {
		metrics.Register()
		routerCfg.Metrics = metrics.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
		log.Printf("Prometheus metrics at %s", cfg.Metrics.Path)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.SetupRoutes(handlers, routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized, server is ready")

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if workers != nil {
		log.Println("Draining delivery workers...")
		workers.Stop()
	}
	cancel()

	log.Println("Server stopped")
}
