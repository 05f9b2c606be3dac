// Package api wires the ingest HTTP surface.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/user/error-pipeline/internal/adapter/api/handler"
	"github.com/user/error-pipeline/internal/adapter/api/middleware"
	"github.com/user/error-pipeline/internal/domain"
	"github.com/user/error-pipeline/internal/usecase"
)

// NewRouter builds the gateway router: rate limiting and request logging
// on everything, API-key auth on the ingest route.
func NewRouter(
	logger *slog.Logger,
	tenants domain.TenantStore,
	ingestUseCase *usecase.IngestUseCase,
	limiter *rate.Limiter,
	maxBodyBytes int64,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))
	r.Use(middleware.RateLimit(limiter))

	ingest := handler.NewIngestHandler(ingestUseCase, logger, maxBodyBytes)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(tenants, logger))
		r.Method(http.MethodPost, "/api/v1/events", ingest)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}
