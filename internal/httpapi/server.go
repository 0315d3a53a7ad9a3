package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lanegate/server/internal/lanegate/relay"
	"github.com/lanegate/server/internal/lanegate/types"
)

// BarrierOpener runs a timed relay cycle.  *relay.Barrier satisfies it.
type BarrierOpener interface {
	Cycle(ctx context.Context, req relay.CycleRequest) ([]int, error)
}

// HealthSource reports reader connectivity.  *reader.Registry satisfies it.
type HealthSource interface {
	Summary() types.HealthSummary
}

type Dependencies struct {
	Logger  *zap.Logger
	Addr    string
	Barrier BarrierOpener
	Health  HealthSource

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	// JWTSecret enables bearer auth on the barrier API.  Empty disables it.
	JWTSecret      string
	AllowedOrigins []string
}

type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	router     chi.Router
	barrier    BarrierOpener
	health     HealthSource
	verifier   *tokenVerifier
	validate   *validator.Validate
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		logger:   logger.Named("http"),
		router:   chi.NewRouter(),
		barrier:  d.Barrier,
		health:   d.Health,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if d.JWTSecret != "" {
		s.verifier = newTokenVerifier([]byte(d.JWTSecret))
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/readers/health", s.handleReaderHealth)
		r.With(s.requireAuth).Post("/barrier/open", s.handleBarrierOpen)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed")
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReaderHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, types.HealthSummary{Readers: []types.ReaderHealth{}})
		return
	}
	writeJSON(w, http.StatusOK, s.health.Summary())
}
