package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// OpsRoutes configures the operational endpoints of a worker process.
type OpsRoutes struct {
	Checks  map[string]Check
	Metrics http.Handler // promhttp handler; /metrics is omitted when nil
	Logger  *slog.Logger
}

// NewOpsRouter serves /healthz, /readyz and, when configured, /metrics.
func NewOpsRouter(routes OpsRoutes) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", LivenessHandler())
	r.Get("/readyz", ReadinessHandler(routes.Logger, routes.Checks))
	if routes.Metrics != nil {
		r.Handle("/metrics", routes.Metrics)
	}
	return r
}
