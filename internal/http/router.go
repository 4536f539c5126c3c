package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dropDatabas3/socialauth/internal/auth/flow"
	"github.com/dropDatabas3/socialauth/internal/auth/linker"
	"github.com/dropDatabas3/socialauth/internal/domain/repository"
	"github.com/dropDatabas3/socialauth/internal/http/middlewares"
	"github.com/dropDatabas3/socialauth/internal/oauth/provider"
	"github.com/dropDatabas3/socialauth/internal/rate"
	"github.com/dropDatabas3/socialauth/internal/session"
)

// API agrupa las dependencias de los handlers.
type API struct {
	flow      *flow.Service
	linker    *linker.Service
	sessions  *session.Manager
	providers *provider.Registry
	store     repository.Store
	cachePing func(ctx context.Context) error // nil con cache en memoria
	loginPath string
}

// Deps son las dependencias para construir el router.
type Deps struct {
	Flow      *flow.Service
	Linker    *linker.Service
	Sessions  *session.Manager
	Providers *provider.Registry
	Store     repository.Store
	CachePing func(ctx context.Context) error

	// LoginPath es la página a la que se redirige un callback fallido,
	// con ?error=<código genérico>. Default "/login".
	LoginPath string

	// Limiters por grupo de endpoints; nil desactiva el límite.
	LoginLimiter    rate.Limiter
	CallbackLimiter rate.Limiter

	Metrics prometheus.Registerer
}

// NewRouter arma el router chi completo del servicio.
func NewRouter(d Deps) http.Handler {
	a := &API{
		flow:      d.Flow,
		linker:    d.Linker,
		sessions:  d.Sessions,
		providers: d.Providers,
		store:     d.Store,
		cachePing: d.CachePing,
		loginPath: d.LoginPath,
	}
	if a.loginPath == "" {
		a.loginPath = "/login"
	}

	metricsHandler := RegisterMetrics(d.Metrics)

	r := chi.NewRouter()
	r.Use(middlewares.WithRequestID())
	r.Use(middlewares.WithSession(d.Sessions))
	r.Use(middlewares.WithLogging())
	r.Use(middlewares.WithRecover())

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/auth", func(r chi.Router) {
		r.Route("/oauth", func(r chi.Router) {
			r.Get("/providers", instrument("/auth/oauth/providers", a.handleProviders))

			r.Get("/{provider}/login",
				limited("/auth/oauth/{provider}/login", d.LoginLimiter, a.handleLogin))
			r.Post("/confirm-link",
				limited("/auth/oauth/confirm-link", d.LoginLimiter, a.handleConfirmLink))
			r.Get("/{provider}/callback",
				limited("/auth/oauth/{provider}/callback", d.CallbackLimiter, a.handleCallback))
		})

		r.Group(func(r chi.Router) {
			r.Use(middlewares.RequireSession())
			r.Get("/me", instrument("/auth/me", a.handleMe))
			r.Post("/logout", instrument("/auth/logout", a.handleLogout))
			r.Get("/connections", instrument("/auth/connections", a.handleConnections))
			r.Delete("/connections/{id}", instrument("/auth/connections/{id}", a.handleDisconnect))
		})
	})

	return r
}

// instrument agrega métricas HTTP usando el patrón de ruta como label.
func instrument(pattern string, h http.HandlerFunc) http.HandlerFunc {
	wrapped := withHTTPMetrics(pattern)(h)
	return wrapped.ServeHTTP
}

// limited aplica rate limiting (si hay limiter) por dentro de las métricas:
// los 429 también cuentan en http_requests_total y en el counter de rechazos.
func limited(pattern string, l rate.Limiter, h http.HandlerFunc) http.HandlerFunc {
	if l != nil {
		h = middlewares.WithRateLimit(l)(h).ServeHTTP
	}
	return instrument(pattern, h)
}
