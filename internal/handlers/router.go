package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lumiere-salon/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

const (
	apiPrefix         = "/api/v1"
	requestTimeout    = 30 * time.Second
	errorNotFoundCode = "route_not_found"
)

// groupOrder fixes the mount order of the API groups under apiPrefix.
var groupOrder = []string{"/refunds", "/bookings", "/shipping", "/admin"}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []middlewareFunc
}

type routerConfig struct {
	middlewares []middlewareFunc
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

func (c *routerConfig) group(path string) *routeGroup {
	g, ok := c.groups[path]
	if !ok {
		g = &routeGroup{}
		c.groups[path] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the chi router: request id, real ip, path cleaning and a request timeout run ahead of
// caller middleware; /healthz and /readyz sit outside the versioned prefix.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []middlewareFunc{
			middleware.RequestID,
			middleware.RealIP,
			middleware.CleanPath,
			middleware.Timeout(requestTimeout),
		},
		groups: map[string]*routeGroup{
			"/admin": {middlewares: []middlewareFunc{RequireAdmin}},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	useAll(r, cfg.middlewares)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, path := range groupOrder {
			g, ok := cfg.groups[path]
			if !ok || g.registrar == nil {
				continue
			}
			api.Route(path, func(sub chi.Router) {
				useAll(sub, g.middlewares)
				g.registrar(sub)
			})
		}
	})
	return r
}

func useAll(r chi.Router, mws []middlewareFunc) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// WithMiddlewares appends global middleware after the built-in chain.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithRefundRoutes mounts reg under /refunds.
func WithRefundRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/refunds").registrar = reg }
}

// WithBookingRoutes mounts reg under /bookings.
func WithBookingRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/bookings").registrar = reg }
}

// WithShippingRoutes mounts reg under /shipping.
func WithShippingRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/shipping").registrar = reg }
}

// WithAdminRoutes mounts reg under /admin. The group always requires a staff actor.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/admin").registrar = reg }
}

// WithAdminMiddlewares appends middleware to the /admin group after the staff check.
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group("/admin")
		g.middlewares = append(g.middlewares, mw...)
	}
}
