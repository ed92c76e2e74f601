package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cmor03/keepsake-sub000/api/controllers"
	admincontrollers "github.com/cmor03/keepsake-sub000/api/controllers/admin"
	ordercontrollers "github.com/cmor03/keepsake-sub000/api/controllers/orders"
	uploadcontrollers "github.com/cmor03/keepsake-sub000/api/controllers/uploads"
	webhookcontrollers "github.com/cmor03/keepsake-sub000/api/controllers/webhooks"
	"github.com/cmor03/keepsake-sub000/api/middleware"
	"github.com/cmor03/keepsake-sub000/internal/orders"
	"github.com/cmor03/keepsake-sub000/internal/payments"
	"github.com/cmor03/keepsake-sub000/internal/transform"
	"github.com/cmor03/keepsake-sub000/internal/uploads"
	squarewebhook "github.com/cmor03/keepsake-sub000/internal/webhooks/square"
	"github.com/cmor03/keepsake-sub000/pkg/config"
	"github.com/cmor03/keepsake-sub000/pkg/db"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
	"github.com/cmor03/keepsake-sub000/pkg/pubsub"
	"github.com/cmor03/keepsake-sub000/pkg/redis"
	"github.com/cmor03/keepsake-sub000/pkg/square"
	"github.com/cmor03/keepsake-sub000/pkg/storage/gcs"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gcsClient gcs.Pinger,
	pubsubClient pubsub.Pinger,
	ordersSvc orders.Service,
	paymentsSvc payments.Service,
	uploadsSvc uploads.Service,
	dispatcher *transform.Dispatcher,
	squareClient *square.Client,
	squareWebhookSvc *squarewebhook.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient, gcsClient, pubsubClient))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(squareWebhookSvc, squareClient, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.With(middleware.Idempotency(redisClient, logg)).
			Post("/", ordercontrollers.Create(ordersSvc, logg))

		r.Route("/{orderId}", func(r chi.Router) {
			r.Use(middleware.OrderAuth(cfg.OrderToken, logg))
			r.Get("/", ordercontrollers.Detail(ordersSvc, logg))
			r.With(middleware.Idempotency(redisClient, logg)).
				Post("/confirm-payment", ordercontrollers.ConfirmPayment(paymentsSvc, logg))
			r.Post("/images", uploadcontrollers.Submit(uploadsSvc, cfg.Uploads, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.AdminKey(cfg.Admin, logg))
		r.Post("/orders/{orderId}/retransform", admincontrollers.Retransform(dispatcher, logg))
	})

	return r
}
