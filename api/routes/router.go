package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/projecthub-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/projecthub-backend/api/controllers/webhooks"
	"github.com/angelmondragon/projecthub-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/projecthub-backend/internal/checkout"
	"github.com/angelmondragon/projecthub-backend/internal/downloads"
	"github.com/angelmondragon/projecthub-backend/internal/purchases"
	"github.com/angelmondragon/projecthub-backend/internal/reconciliation"
	"github.com/angelmondragon/projecthub-backend/internal/transactions"
	"github.com/angelmondragon/projecthub-backend/pkg/config"
	"github.com/angelmondragon/projecthub-backend/pkg/enums"
	"github.com/angelmondragon/projecthub-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/projecthub-backend/pkg/redis"
)

// Dependencies is everything the HTTP surface needs from cmd/api.
type Dependencies struct {
	Config         *config.Config
	Logger         *logger.Logger
	Readiness      map[string]controllers.Pinger
	Idempotency    pkgredis.IdempotencyStore
	RateLimiter    middleware.RateLimitStore
	Checkout       checkoutsvc.Service
	Reconciler     reconciliation.Controller
	Ledger         transactions.Service
	Purchases      purchases.Service
	Downloads      downloads.Service
	Webhooks       webhookcontrollers.Receiver
	MetricsHandler http.Handler
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	redeemPolicy := middleware.NewRateLimitPolicy("redeem", cfg.RateLimit.RedeemWindow, cfg.RateLimit.RedeemLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.Readiness, logg))
	})
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.With(middleware.RateLimit(redeemPolicy, deps.RateLimiter, logg)).
		Get("/api/download/{token}", controllers.RedeemDownload(deps.Downloads, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.Webhooks, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.Route("/payments/checkout", func(r chi.Router) {
				r.With(middleware.Idempotency(deps.Idempotency, logg)).
					Post("/session", controllers.CheckoutSession(deps.Checkout, logg))
				r.Get("/status/{sessionId}", controllers.CheckoutStatus(deps.Reconciler, logg))
			})

			r.Post("/downloads", controllers.IssueDownload(deps.Downloads, logg))
			r.Get("/purchases", controllers.ListPurchases(deps.Purchases, logg))

			r.Route("/admin/transactions", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
				r.Get("/{sessionId}", controllers.AdminTransaction(deps.Ledger, logg))
				r.Post("/{sessionId}/reconcile", controllers.AdminReconcile(deps.Reconciler, logg))
			})
		})
	})

	return r
}
