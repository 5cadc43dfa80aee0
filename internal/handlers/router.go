package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tripdesk/planner/internal/platform/httpx"
)

// RouteRegistrar mounts a route group on r.
type RouteRegistrar func(r chi.Router)

// Option configures NewRouter.
type Option func(*router)

type router struct {
	prefix  string
	timeout time.Duration
	global  []func(http.Handler) http.Handler
	health  *HealthHandlers
	trips   RouteRegistrar
}

// NewRouter serves the probes at the root and the planner API under /api/v1/trips. When no
// trip routes are configured the group answers 503 so readiness and routing failures are
// distinguishable.
func NewRouter(opts ...Option) chi.Router {
	cfg := router{prefix: "/api/v1", timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.CleanPath)
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.With(middleware.Timeout(cfg.timeout)).Route(cfg.prefix+"/trips", func(trips chi.Router) {
		if cfg.trips == nil {
			trips.HandleFunc("/*", plannerUnavailable)
			return
		}
		cfg.trips(trips)
	})
	return r
}

func plannerUnavailable(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("planner_unavailable", "trip planner is not configured", http.StatusServiceUnavailable))
}

// WithMiddlewares runs mw on every route after the request id and real ip middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *router) { cfg.global = append(cfg.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *router) { cfg.health = h }
}

func WithTripRoutes(reg RouteRegistrar) Option {
	return func(cfg *router) { cfg.trips = reg }
}

// WithHandlerTimeout bounds trip handlers. Probes are not affected.
func WithHandlerTimeout(d time.Duration) Option {
	return func(cfg *router) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}
