package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/ordersync/api/controllers"
	"github.com/angelmondragon/ordersync/api/middleware"
	"github.com/angelmondragon/ordersync/pkg/config"
	"github.com/angelmondragon/ordersync/pkg/logger"
)

// NewRouter wires the local HTTP surface: the order view, the stream state,
// the local actions, health, and metrics.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	engine controllers.Engine,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Get("/healthz", controllers.HealthLive(cfg))
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(engine, logg))
			r.Post("/{orderKey}/cancel", controllers.CancelOrder(engine, logg))
			r.Delete("/{orderKey}", controllers.DeleteOrder(engine, logg))
			r.Delete("/{orderKey}/items/{productId}", controllers.RemoveItem(engine, logg))
		})
		r.Get("/stream/state", controllers.StreamState(engine, logg))
	})

	return r
}
