package api

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tallyworks/tally/pkg/access"
	"github.com/tallyworks/tally/pkg/httputil"
	"github.com/tallyworks/tally/pkg/middleware"
	"github.com/tallyworks/tally/pkg/observability"
	"github.com/tallyworks/tally/pkg/service"
	"github.com/tallyworks/tally/pkg/store"
)

// maxRequestBytes caps request bodies. Batch validation requests are the
// largest payloads and stay well under this.
const maxRequestBytes = 1 << 20

// ServerConfig collects everything the API server needs.
type ServerConfig struct {
	Service     *service.Service
	Store       *store.Store
	AccessStore *access.Store
	Resolver    *access.Resolver
	Logger      *observability.Logger
	Metrics     *observability.Metrics

	// RateLimit enables per-user token bucket rate limiting.
	RateLimit bool
	// Tracing wraps the handler chain with otelhttp instrumentation.
	Tracing bool
}

// Server is the HTTP front of the resourcing API. All routes live under
// /api/v1 and every request must carry an X-User-ID header identifying
// an active user.
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer creates the API server and wires the full middleware chain.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
	}

	// Allocation routes first: the entity routes use a {collection}
	// variable that would otherwise swallow /allocations/... paths.
	NewAllocationHandlers(cfg.Service).RegisterRoutes(s.router)
	NewEntityHandlers(cfg.Service, cfg.Store).RegisterRoutes(s.router)

	// Innermost first: identity must run before rate limiting so the
	// limiter can key on the resolved user instead of the client IP.
	var h http.Handler = s.router
	h = httputil.ContentTypeMiddleware(h)
	h = httputil.MaxBytesMiddleware(maxRequestBytes)(h)
	if cfg.RateLimit {
		h = middleware.NewRateLimitMiddleware().Handler(h)
	}
	h = middleware.NewUserIdentity(cfg.AccessStore, cfg.Resolver).Handler(h)
	if cfg.Metrics != nil {
		h = observability.HTTPMetricsMiddleware(cfg.Metrics)(h)
	}
	h = httputil.RecoveryMiddleware(h)
	h = httputil.LoggingMiddleware(h)
	h = s.loggerMiddleware(h)
	h = middleware.RequestID(h)
	if cfg.Tracing {
		h = otelhttp.NewHandler(h, "tally-api")
	}
	s.handler = h

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the bare mux for tests that bypass the middleware chain.
func (s *Server) Router() *mux.Router {
	return s.router
}

// loggerMiddleware seeds the request context with the server logger so
// handlers can pull a request-scoped logger via observability.FromContext.
// When tracing is on, the logger carries the active trace and span ids.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := observability.UpdateLoggerWithTraceContext(r.Context(), s.logger)
		ctx := observability.WithLogger(r.Context(), logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// NewOpsMux builds the operational endpoint mux served on a separate
// listener: /health/live, /health/ready, /health and /metrics.
func NewOpsMux(db *sql.DB, registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	observability.RegisterHealthRoutes(mux, observability.NewHealthChecker(db))
	if registry != nil {
		observability.RegisterMetricsEndpoint(mux, registry)
	}
	return mux
}
