package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the pieces mounted next to the operator API.
type RouterConfig struct {
	CORSOrigins []string
	// Tracking is the public open/click/unsubscribe router, mounted at /t.
	Tracking http.Handler
	// Metrics is the Prometheus handler, mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
	Health      *HealthChecker
}

// SetupRoutes builds the top-level router: public tracking and probes at
// the root, the operator API under /api behind the org middleware.
func SetupRoutes(h *Handlers, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderOrganizationID, HeaderUserID},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.HandleHealth)
		r.Get("/health/live", cfg.Health.HandleLiveness)
		r.Get("/health/ready", cfg.Health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.Metrics)
	}
	if cfg.Tracking != nil {
		r.Mount("/t", cfg.Tracking)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireOrgContext)

		r.Route("/segments", func(r chi.Router) {
			r.Get("/", h.ListSegments)
			r.Post("/", h.CreateSegment)
			r.Post("/preview", h.PreviewSegment)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSegment)
				r.Put("/", h.UpdateSegment)
				r.Delete("/", h.DeleteSegment)
				r.Get("/recipients", h.SegmentRecipients)
			})
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Put("/", h.UpdateCampaign)
				r.Delete("/", h.DeleteCampaign)
				r.Post("/send", h.SendCampaign)
				r.Post("/schedule", h.ScheduleCampaign)
				r.Post("/unschedule", h.UnscheduleCampaign)
				r.Post("/clone", h.CloneCampaign)
				r.Post("/ab/winner", h.ApplyWinner)
				r.Post("/ab/remainder", h.SendRemainder)

				r.Get("/sends", h.SendLog)
				r.Post("/sends/export", h.ExportSendLog)
				r.Get("/links", h.LinkClicks)
				r.Get("/failures", h.Failures)
				r.Get("/summary", h.Summary)
			})
		})

		r.Route("/suppressions", func(r chi.Router) {
			r.Get("/", h.ListSuppressions)
			r.Post("/", h.AddSuppression)
			r.Delete("/{id}", h.RemoveSuppression)
		})
	})

	return r
}
