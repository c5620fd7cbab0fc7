package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keymartlabs/keymart-backend/api/controllers"
	webhookcontrollers "github.com/keymartlabs/keymart-backend/api/controllers/webhooks"
	"github.com/keymartlabs/keymart-backend/api/middleware"
	checkoutsvc "github.com/keymartlabs/keymart-backend/internal/checkout"
	"github.com/keymartlabs/keymart-backend/internal/orders"
	"github.com/keymartlabs/keymart-backend/internal/refunds"
	paypalwebhook "github.com/keymartlabs/keymart-backend/internal/webhooks/paypal"
	"github.com/keymartlabs/keymart-backend/pkg/config"
	"github.com/keymartlabs/keymart-backend/pkg/db"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
	"github.com/keymartlabs/keymart-backend/pkg/paypal"
	"github.com/keymartlabs/keymart-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	checkoutService checkoutsvc.Service,
	ordersRepo orders.Repository,
	refundsService refunds.Service,
	paypalClient *paypal.Client,
	paypalWebhookService *paypalwebhook.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
		middleware.Actor(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})
	r.Get("/healthz", controllers.HealthReady(cfg, logg, dbP, redisClient))

	// Webhook delivery is deduplicated internally by processor event id,
	// never by the caller-facing idempotency key middleware.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paypal", webhookcontrollers.PayPal(paypalClient, paypalWebhookService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(redisClient, logg))

		// Guests may commit a checkout session; order lookup works for
		// guests too, gated by ownership inside the controller.
		r.Post("/checkout/{sessionID}/commit", controllers.CheckoutCommit(checkoutService, logg))
		r.Get("/orders/{orderNumber}", controllers.OrderDetail(ordersRepo, logg))

		r.Route("/refunds", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser(logg))
				r.Post("/", controllers.RefundCreate(refundsService, logg))
				r.Get("/{requestID}", controllers.RefundDetail(refundsService, logg))
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser(logg), middleware.RequireRole("admin", logg))
				r.Post("/{requestID}/review", controllers.RefundDecision(refundsService, refunds.ActionReviewed, logg))
				r.Post("/{requestID}/approve", controllers.RefundDecision(refundsService, refunds.ActionApproved, logg))
				r.Post("/{requestID}/reject", controllers.RefundDecision(refundsService, refunds.ActionRejected, logg))
				r.Post("/{requestID}/retry", controllers.RefundDecision(refundsService, refunds.ActionRetried, logg))
			})
		})
	})

	return r
}
