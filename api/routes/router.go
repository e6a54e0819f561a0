package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flable/flable-backend/api/controllers"
	"github.com/flable/flable-backend/api/middleware"
	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/logger"
)

const (
	apiRateScope  = "api"
	syncRateScope = "sync_trigger"
)

// Deps carries the services the HTTP surface is wired to.
type Deps struct {
	Connections controllers.ConnectionService
	Sync        controllers.SyncTrigger
	Campaigns   controllers.CampaignService
	Reporting   interface {
		controllers.SyncRunReader
		controllers.StoreDataReader
		controllers.CampaignReporter
	}
	Limiter  middleware.WindowLimiter
	Health   map[string]controllers.Pinger
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Health))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	authed := chi.Chain(
		middleware.Auth(cfg.JWT, logg),
		middleware.RateLimit(deps.Limiter, apiRateScope, cfg.RateLimit.PerAccount, cfg.RateLimit.Window, logg),
	)
	syncLimit := middleware.RateLimit(deps.Limiter, syncRateScope, cfg.RateLimit.SyncTrigger, cfg.RateLimit.Window, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/integrations", func(r chi.Router) {
			r.Get("/shopify/callback", controllers.ShopifyCallback(deps.Connections, logg))

			r.Group(func(r chi.Router) {
				r.Use(authed...)
				r.Get("/", controllers.ListIntegrations(deps.Connections, logg))
				r.Post("/shopify", controllers.ConnectShopifyToken(deps.Connections, logg))
				r.Post("/shopify/connect", controllers.ConnectShopify(deps.Connections, logg))
				r.Get("/{connectionId}", controllers.GetIntegration(deps.Connections, logg))
				r.Delete("/{connectionId}", controllers.DeleteIntegration(deps.Connections, logg))
				r.Get("/{connectionId}/sync-runs", controllers.ListSyncRuns(deps.Reporting, logg))
				r.Get("/{connectionId}/products", controllers.ListProducts(deps.Reporting, logg))
				r.Get("/{connectionId}/orders", controllers.ListOrders(deps.Reporting, logg))
				r.Get("/{connectionId}/orders/summary", controllers.OrderSummary(deps.Reporting, logg))
				r.With(syncLimit).Post("/{connectionId}/sync", controllers.TriggerSync(deps.Connections, deps.Sync, logg))
			})
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Use(authed...)
			r.Get("/", controllers.ListCampaigns(deps.Campaigns, logg))
			r.Get("/{campaignId}", controllers.GetCampaign(deps.Campaigns, logg))
			r.Put("/{campaignId}/budget", controllers.SetCampaignBudget(deps.Campaigns, logg))
			r.Get("/{campaignId}/metrics", controllers.CampaignMetrics(deps.Reporting, logg))
			r.Get("/{campaignId}/decisions", controllers.CampaignDecisions(deps.Reporting, logg))
			r.Get("/{campaignId}/evaluations", controllers.CampaignEvaluations(deps.Reporting, logg))
		})
	})

	return r
}
