package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/RailKPI/internal/calibration"
	"github.com/MikeSquared-Agency/RailKPI/internal/config"
	"github.com/MikeSquared-Agency/RailKPI/internal/hermes"
	"github.com/MikeSquared-Agency/RailKPI/internal/store"
)

// Deps are the services the API serves from.
type Deps struct {
	Repo        *store.Repository
	Calibration *calibration.Service
	Hermes      hermes.Client
	Defaults    DefaultsFunc
}

func NewRouter(d Deps, cfg config.ServerConfig, surveyDir string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", ClientIDHeader},
			MaxAge:         300,
		}))
	}
	r.Use(RateLimitMiddleware(cfg.RateLimit))

	scoring := NewScoringHandler(d.Repo)
	calibrations := NewCalibrationsHandler(d.Calibration, d.Repo.Store(), surveyDir)
	coefficients := NewCoefficientsHandler(d.Repo, d.Hermes, d.Defaults)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/catalog", scoring.Catalog)

		r.Post("/score", scoring.Score)
		r.Post("/inverse", scoring.Inverse)
		r.Post("/sensitivity", scoring.Sensitivity)
		r.Post("/indicators/score", scoring.Indicator)
		r.Post("/projections", scoring.Project)
		r.Post("/composite/physical-access", scoring.PhysicalAccess)
		r.Post("/composite/transfer-convenience", scoring.TransferConvenience)

		r.Get("/coefficients", coefficients.List)
		r.Get("/coefficients/{rail_type}/{kpi}", coefficients.Get)

		r.Get("/calibrations", calibrations.List)

		// Everything below can rewrite the live coefficient table.
		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminToken))
			r.Put("/coefficients", coefficients.Replace)
			r.Post("/coefficients/restore", coefficients.Restore)
			r.Post("/calibrations", calibrations.Create)
			r.Post("/calibrations/batch", calibrations.Batch)
			r.Post("/calibrations/refresh", calibrations.Refresh)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
