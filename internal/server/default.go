package server

import (
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/civicworks/civicdesk/pkg/configuration"
	"github.com/civicworks/civicdesk/pkg/httpapi"
	"github.com/civicworks/civicdesk/pkg/metrics"
	"github.com/civicworks/civicdesk/pkg/middleware"
	"github.com/civicworks/civicdesk/pkg/server"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Pool          *pgxpool.Pool
	Controllers   []server.Controller
}

// Default assembles the standard middleware stack around the given
// controllers. Order matters: the logger attaches the request id first, the
// pool rides along for transactional handlers, and the actor resolver guards
// every mutating route.
func Default(options *DefaultOptions) *server.HTTPServer {
	middlewares := []mux.MiddlewareFunc{
		middleware.WithLogger(options.Logger, options.Configuration),
		middleware.ProvidePool(options.Pool),
		middleware.ResolveActor(options.Configuration),
	}

	controllers := options.Controllers
	if options.Configuration.Prometheus.Enabled {
		controllers = append(controllers, metrics.NewPrometheusController(options.Configuration.Prometheus.Path))
	}

	return server.NewHTTPServer(
		controllers,
		middlewares,
		httpapi.NotFound(),
		httpapi.MethodNotAllowed(),
	)
}
