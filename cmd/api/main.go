package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"radish-rewards/internal/app"
	"radish-rewards/internal/infra/config"
	httpinfra "radish-rewards/internal/infra/http"
	applog "radish-rewards/internal/infra/log"
	"radish-rewards/internal/infra/metrics"
)

// api serves highlight queries, balances and manual job triggers without
// running the periodic scheduler.
func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv).With().Str("component", "api").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: startup failed")
	}
	defer a.Close()

	srv := httpinfra.NewServer(logger, a.Health)
	srv.Mount("/api/v1", a.API.Router())

	go func() {
		if err := srv.Start(cfg.HTTPAddr); err != nil {
			logger.Error().Err(err).Msg("api: server failed")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("api: stopped")
}
