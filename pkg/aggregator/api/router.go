package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shardvault/shardvault/internal/logger"
	"github.com/shardvault/shardvault/pkg/aggregator"
)

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Routes:
//   - POST   /api/files/upload            - Upload a file
//   - GET    /api/files                   - List stored files
//   - GET    /api/files/{fileID}/download - Download a file
//   - DELETE /api/files/{fileID}          - Delete a file
//   - POST   /api/system-logs             - Ingest an audit entry
//   - GET    /api/health                  - Liveness and store health
func NewRouter(service *aggregator.Service) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	h := newHandler(service)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/system-logs", h.IngestAudit)

		r.Route("/files", func(r chi.Router) {
			r.Get("/", h.List)
			r.Post("/upload", h.Upload)
			r.Get("/{fileID}/download", h.Download)
			r.Delete("/{fileID}", h.Delete)
		})
	})

	return r
}

// requestLogger logs requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
