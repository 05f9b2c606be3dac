package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/user/error-pipeline/internal/domain"
)

const APIKeyHeader = "X-API-Key"

type contextKey string

const tenantIDKey contextKey = "tenant_id"

// TenantID extracts the authenticated tenant from the request context.
func TenantID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantIDKey).(uuid.UUID)
	return id, ok
}

// Auth resolves the X-API-Key header to a tenant and stores it on the
// request context.
func Auth(tenants domain.TenantStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				logger.Warn("API key missing from request", "remote_addr", r.RemoteAddr)
				http.Error(w, "Unauthorized: API key required", http.StatusUnauthorized)
				return
			}

			tenantID, err := tenants.ResolveAPIKey(r.Context(), apiKey)
			if err != nil {
				if errors.Is(err, domain.ErrUnauthorized) {
					logger.Warn("invalid API key", "remote_addr", r.RemoteAddr)
					http.Error(w, "Unauthorized: Invalid API key", http.StatusUnauthorized)
					return
				}
				logger.Error("failed to resolve API key", "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
