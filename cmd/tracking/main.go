package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/campaign-engine/internal/app"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/repository/postgres"
	"github.com/ignite/campaign-engine/internal/service/suppression"
	"github.com/ignite/campaign-engine/internal/tracking"
)

// Public open/click/unsubscribe endpoints, deployable apart from the API
// so recipient traffic never reaches the operator surface.
func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	app.ConfigureLogging(cfg.Log)

	port := os.Getenv("PORT")
	if port == "" {
		port = fmt.Sprint(cfg.Tracking.Port)
	}

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	suppressions := suppression.NewService(postgres.NewSuppressionRepo(db), cfg.Suppression.FrequencyCapPerDay)
	rec := tracking.NewRecorder(postgres.NewTrackingRepo(db), suppressions, cfg.Tracking.TokenExpiry())

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Mount("/t", tracking.NewHandler(rec).Routes())

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("tracking service listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down tracking service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
