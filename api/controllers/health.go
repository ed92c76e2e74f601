package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/cmor03/keepsake-sub000/api/responses"
	"github.com/cmor03/keepsake-sub000/pkg/config"
	pkgerrors "github.com/cmor03/keepsake-sub000/pkg/errors"
	"github.com/cmor03/keepsake-sub000/pkg/logger"
)

const readyCheckTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Keepsake-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every backing dependency and reports the first failure.
func HealthReady(cfg *config.Config, logg *logger.Logger, db, redis, gcs, pubsub pinger) http.HandlerFunc {
	checks := []struct {
		name   string
		target pinger
	}{
		{name: "db", target: db},
		{name: "redis", target: redis},
		{name: "gcs", target: gcs},
		{name: "pubsub", target: pubsub},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Keepsake-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		for _, check := range checks {
			if check.target == nil {
				continue
			}
			if err := check.target.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, check.name+" unavailable"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
