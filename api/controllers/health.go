package controllers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/pixpay-backend/api/responses"
	"github.com/angelmondragon/pixpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/pixpay-backend/pkg/errors"
	"github.com/angelmondragon/pixpay-backend/pkg/logger"
)

const readinessTimeout = 3 * time.Second

// Pinger is implemented by every dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health is the liveness probe: {"status":"ok","service":"<name>"}.
func Health(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-PixPay-Env", cfg.App.Env)
		responses.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": cfg.Service.Name,
		})
	}
}

// HealthReady pings every named dependency concurrently.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-PixPay-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			name, dep := name, dep
			g.Go(func() error {
				if err := dep.Ping(gctx); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable").
						WithDetails(map[string]any{"dependency": name})
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "ready",
			"service": cfg.Service.Name,
		})
	}
}
