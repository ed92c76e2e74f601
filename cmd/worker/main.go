package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cmor03/keepsake-sub000/internal/orders"
	"github.com/cmor03/keepsake-sub000/internal/transform"
	"github.com/cmor03/keepsake-sub000/pkg/config"
	"github.com/cmor03/keepsake-sub000/pkg/db"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
	"github.com/cmor03/keepsake-sub000/pkg/mailer"
	"github.com/cmor03/keepsake-sub000/pkg/metrics"
	"github.com/cmor03/keepsake-sub000/pkg/migrate"
	"github.com/cmor03/keepsake-sub000/pkg/pubsub"
	"github.com/cmor03/keepsake-sub000/pkg/storage/gcs"
	"github.com/cmor03/keepsake-sub000/pkg/transformer"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "transform-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "transform-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	requireResource(ctx, logg, "gcs", err)
	defer gcsClient.Close()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	transformClient, err := transformer.NewClient(cfg.Transformer)
	requireResource(ctx, logg, "transformer", err)

	mailClient := mailer.NewClient(cfg.Mailer, logg)
	transformMetrics := metrics.NewTransformMetrics(prometheus.DefaultRegisterer)

	consumer, err := transform.NewConsumer(
		orders.NewRepository(dbClient.DB()),
		gcsClient,
		transformClient,
		mailClient,
		pubsubClient.TransformSubscription(),
		logg,
		transformMetrics,
	)
	requireResource(ctx, logg, "transform consumer", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{"env": cfg.App.Env})
	logg.Info(runCtx, "transform worker ready")

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return consumer.Run(groupCtx)
	})
	group.Go(func() error {
		return serveHealth(groupCtx, cfg.App.Port, logg)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "transform worker not working", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "transform worker shutting down gracefully")
}

// serveHealth exposes liveness and metrics so the worker can be probed like
// the api process.
func serveHealth(ctx context.Context, port string, logg *logger.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"status":"live"}}`))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: ":" + port, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Close()
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "worker health server stopped", err)
			return err
		}
		return nil
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
