package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/incident-enrichment-service/internal/enrich"
)

// GeometrySource looks up registered geometries as GeoJSON Features.
type GeometrySource interface {
	GeoJSON(key string) ([]byte, bool)
}

// API holds the collaborators behind the /v1 routes. Timeout bounds each
// synchronous enrichment; zero means no bound beyond the request context.
type API struct {
	Builder    enrich.CardBuilder
	Geometries GeometrySource
	Timeout    time.Duration
}

// Server exposes health, readiness, metrics, and enrichment HTTP endpoints.
type Server struct {
	httpServer *http.Server
	api        API
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and the
// /v1 enrichment routes. Responses are gzip-compressed when the client accepts it.
func NewServer(addr string, ready sharedobs.ReadinessChecker, api API, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      gzhttp.GzipHandler(r),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: writeTimeout(api.Timeout),
			IdleTimeout:  60 * time.Second,
		},
		api:    api,
		logger: logger,
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/incidents/enrich", s.handleEnrich)
		r.Get("/geometries/{key}", s.handleGeometry)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func writeTimeout(enrichTimeout time.Duration) time.Duration {
	if d := enrichTimeout + 5*time.Second; d > 10*time.Second {
		return d
	}
	return 10 * time.Second
}
