package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/waitwise/clinic-queue/internal/queue"
	"github.com/waitwise/clinic-queue/internal/report"
)

type RouterConfig struct {
	Service *queue.Service
	Reports *report.Generator
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health and metrics
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// Patient-facing endpoints
	r.Post("/register", registerHandler(cfg.Service))
	r.Get("/clinics/nearby", listClinicsHandler(cfg.Service))
	r.Post("/triage", triageHandler(cfg.Service))
	r.Post("/book", bookHandler(cfg.Service))
	r.Post("/cancel", cancelHandler(cfg.Service))
	r.Post("/notify-next", notifyNextHandler(cfg.Service))
	r.Post("/appointments/{id}/confirm", confirmHandler(cfg.Service))
	r.Post("/report", reportHandler(cfg.Reports))

	return r
}
