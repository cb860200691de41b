package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pagemint/pagemint-backend/api/controllers"
	webhookcontrollers "github.com/pagemint/pagemint-backend/api/controllers/webhooks"
	"github.com/pagemint/pagemint-backend/api/middleware"
	"github.com/pagemint/pagemint-backend/internal/billing"
	"github.com/pagemint/pagemint-backend/internal/credits"
	"github.com/pagemint/pagemint-backend/internal/ledger"
	"github.com/pagemint/pagemint-backend/internal/usage"
	stripewebhook "github.com/pagemint/pagemint-backend/internal/webhooks/stripe"
	"github.com/pagemint/pagemint-backend/pkg/config"
	"github.com/pagemint/pagemint-backend/pkg/db"
	"github.com/pagemint/pagemint-backend/pkg/enums"
	"github.com/pagemint/pagemint-backend/pkg/logger"
	"github.com/pagemint/pagemint-backend/pkg/redis"
)

type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Cache         redis.Pinger
	CreditEngine  credits.Engine
	LedgerService ledger.Service
	UsageRepo     usage.Repository
	Billing       *billing.Service
	Webhooks      *stripewebhook.Service
	WebhookGuard  *stripewebhook.IdempotencyGuard
	Registry      *prometheus.Registry
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.DB, p.Cache, p.Logger))
	})

	if p.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Get("/v1/plans", controllers.ListPlans(p.Billing, p.Logger))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.Webhooks, p.Config.Stripe.Secret, p.WebhookGuard, p.Logger))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(p.Config.JWT, p.Logger))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/credits", func(r chi.Router) {
			r.Post("/spend", controllers.SpendCredits(p.CreditEngine, p.Logger))
			r.Get("/balance", controllers.GetBalance(p.LedgerService, p.Billing, p.Logger))
			r.Get("/history", controllers.GetHistory(p.LedgerService, p.Logger))
			r.Get("/usage", controllers.GetUsageHistory(p.UsageRepo, p.Logger))
			r.Get("/usage/{key}", controllers.GetUsageEvent(p.CreditEngine, p.Logger))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(p.Config.JWT, p.Logger))
		r.Use(middleware.RequireRole(string(enums.ActorRoleOperator), p.Logger))

		r.Get("/ping", controllers.AdminPing())
		r.Route("/v1/credits", func(r chi.Router) {
			r.Post("/grant", controllers.AdminGrantCredits(p.CreditEngine, p.Logger))
		})
	})

	return r
}
