package app

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/MuistotKartalla/muistot-backend-sub001/internal/auth"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/observability"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/cache"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/platform/httpx"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/projects"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/rbac"
	"github.com/MuistotKartalla/muistot-backend-sub001/internal/shared"
	"github.com/MuistotKartalla/muistot-backend-sub001/jobs"
)

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Cache           redis.UniversalClient
	Authenticator   *auth.Authenticator
	Negotiator      *httpx.Negotiator
	AuthHandler     *auth.Handler
	ProjectsHandler *projects.Handler
	JobsHandler     *jobs.Handler
	Metrics         *observability.Metrics
	Health          map[string]HealthCheck
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", healthHandler(logger, params.Health))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(cache.Attach(params.Cache))
		if params.Authenticator != nil {
			r.Use(params.Authenticator.Middleware)
		}

		if params.AuthHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(language(params.Negotiator, true))
				params.AuthHandler.MountRoutes(r)
			})
		}
		if params.ProjectsHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(language(params.Negotiator, false))
				params.ProjectsHandler.MountRoutes(r)
			})
		}
		if params.ProjectsHandler != nil || params.JobsHandler != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(language(params.Negotiator, true))
				if params.ProjectsHandler != nil {
					params.ProjectsHandler.MountAdminRoutes(r)
				}
				if params.JobsHandler != nil {
					r.Route("/jobs", func(r chi.Router) {
						r.Use(rbac.RequireScopes(shared.ScopeSuperuser))
						params.JobsHandler.MountRoutes(r)
					})
				}
			})
		}
	})

	return r
}

func language(n *httpx.Negotiator, defaultOnInvalid bool) func(http.Handler) http.Handler {
	if n == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return n.Middleware(defaultOnInvalid)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler runs every check with a short deadline. Any failure turns
// the response into 503.
func healthHandler(logger *slog.Logger, checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		out := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				logger.Warn("health check failed", slog.String("check", name), slog.Any("error", err))
				out.Checks[name] = "unavailable"
				out.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			out.Checks[name] = "ok"
		}
		httpx.JSON(w, status, out)
	}
}
