package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/user/error-pipeline/internal/adapter/api/middleware"
	"github.com/user/error-pipeline/internal/domain"
	"github.com/user/error-pipeline/internal/usecase"
)

// IngestHandler accepts pre-batched event payloads from instrumented
// clients: a JSON array of event documents, optionally gzip- or
// zstd-compressed.
type IngestHandler struct {
	useCase      *usecase.IngestUseCase
	logger       *slog.Logger
	maxBodyBytes int64
}

func NewIngestHandler(uc *usecase.IngestUseCase, logger *slog.Logger, maxBodyBytes int64) *IngestHandler {
	return &IngestHandler{
		useCase:      uc,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := middleware.TenantID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	body, err := h.decompressedBody(r)
	if err != nil {
		http.Error(w, "Unsupported Content-Encoding", http.StatusUnsupportedMediaType)
		return
	}

	var submissions []usecase.EventSubmission
	if err := json.NewDecoder(body).Decode(&submissions); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad request: expected a JSON array of events", http.StatusBadRequest)
		return
	}
	if len(submissions) == 0 {
		http.Error(w, "Bad request: empty batch", http.StatusBadRequest)
		return
	}

	result, err := h.useCase.IngestBatch(r.Context(), tenantID, submissions)
	if err != nil {
		if errors.Is(err, domain.ErrQueueUnavailable) {
			w.Header().Set("Retry-After", "2")
			http.Error(w, "Service Unavailable: queue cannot accept writes", http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("failed to process ingest batch", "error", err, "tenant_id", tenantID)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	status := http.StatusAccepted
	switch {
	case result.Accepted == 0:
		status = http.StatusBadRequest
	case result.Rejected > 0:
		status = http.StatusMultiStatus
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.logger.Error("failed to encode batch result", "error", err)
	}
}

func (h *IngestHandler) decompressedBody(r *http.Request) (io.Reader, error) {
	switch r.Header.Get("Content-Encoding") {
	case "", "identity":
		return r.Body, nil
	case "gzip":
		return gzip.NewReader(r.Body)
	case "zstd":
		zr, err := zstd.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, errors.New("unsupported content encoding")
	}
}
