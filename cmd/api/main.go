package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cmor03/keepsake-sub000/api/routes"
	"github.com/cmor03/keepsake-sub000/internal/orders"
	"github.com/cmor03/keepsake-sub000/internal/payments"
	"github.com/cmor03/keepsake-sub000/internal/transform"
	"github.com/cmor03/keepsake-sub000/internal/uploads"
	squarewebhook "github.com/cmor03/keepsake-sub000/internal/webhooks/square"
	"github.com/cmor03/keepsake-sub000/pkg/config"
	"github.com/cmor03/keepsake-sub000/pkg/db"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
	"github.com/cmor03/keepsake-sub000/pkg/mailer"
	"github.com/cmor03/keepsake-sub000/pkg/metrics"
	"github.com/cmor03/keepsake-sub000/pkg/migrate"
	"github.com/cmor03/keepsake-sub000/pkg/pubsub"
	"github.com/cmor03/keepsake-sub000/pkg/redis"
	"github.com/cmor03/keepsake-sub000/pkg/square"
	"github.com/cmor03/keepsake-sub000/pkg/storage/gcs"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	requireResource(ctx, logg, "gcs", err)
	defer gcsClient.Close()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	squareClient, err := square.NewClient(ctx, cfg.Square, logg)
	requireResource(ctx, logg, "square", err)

	mailClient := mailer.NewClient(cfg.Mailer, logg)
	transformMetrics := metrics.NewTransformMetrics(prometheus.DefaultRegisterer)

	ordersRepo := orders.NewRepository(dbClient.DB())

	ordersSvc, err := orders.NewService(ordersRepo, cfg.OrderToken, cfg.Uploads)
	requireResource(ctx, logg, "orders service", err)

	paymentsSvc, err := payments.NewService(ordersRepo, squareClient, mailClient, logg, transformMetrics)
	requireResource(ctx, logg, "payments service", err)

	dispatcher, err := transform.NewDispatcher(
		ordersRepo,
		transform.NewGCPPublisher(pubsubClient.TransformPublisher()),
		logg,
		transformMetrics,
	)
	requireResource(ctx, logg, "transform dispatcher", err)

	uploadsSvc, err := uploads.NewService(
		ordersRepo,
		gcsClient,
		dispatcher,
		paymentsSvc,
		logg,
		cfg.Uploads.MaxUploadMB,
		cfg.Uploads.MaxFileCount,
	)
	requireResource(ctx, logg, "uploads service", err)

	webhookGuard, err := squarewebhook.NewIdempotencyGuard(redisClient, cfg.Square.EventDedupTTL, squarewebhook.EventScope)
	requireResource(ctx, logg, "webhook idempotency guard", err)

	webhookSvc, err := squarewebhook.NewService(squarewebhook.ServiceParams{
		Repo:      ordersRepo,
		Confirmer: paymentsSvc,
		Guard:     webhookGuard,
		Logger:    logg,
	})
	requireResource(ctx, logg, "square webhook service", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			gcsClient,
			pubsubClient,
			ordersSvc,
			paymentsSvc,
			uploadsSvc,
			dispatcher,
			squareClient,
			webhookSvc,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
