// Package api exposes the dashboard over HTTP: an embedded single-page UI
// and a small JSON API that runs analyses on demand.
package api

import (
	"context"
	"log"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wata-gh/prdash/internal/domain"
)

// Runner runs one analysis per dashboard request.
type Runner interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error)
}

// RunnerFactory builds a runner bound to one credential. The dashboard takes
// the token per request, so the gateway cannot be constructed up front.
type RunnerFactory func(token string) (Runner, error)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	NewRunner    RunnerFactory
	DefaultToken string
	Logger       *log.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware)

	h := NewDashboardHandler(cfg.NewRunner, cfg.DefaultToken, cfg.Logger)
	r.Get("/", h.Page)
	r.Get("/api/health", HealthHandler)
	r.Post("/api/analyze", h.Analyze)

	return r
}
