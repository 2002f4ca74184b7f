package main

import (
	"context"
	"errors"
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

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv).With().Str("component", "scheduler").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: startup failed")
	}
	defer a.Close()

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	srv := httpinfra.NewServer(logger, a.Health)
	srv.Mount("/api/v1", a.API.Router())
	go func() {
		if err := srv.Start(cfg.HTTPAddr); err != nil {
			logger.Error().Err(err).Msg("scheduler: http server stopped")
			stop()
		}
	}()

	logger.Info().
		Str("tz", cfg.TZ).
		Dur("tick", cfg.Jobs.Tick).
		Time("next_ranking", a.Planner.RankingSlot(time.Now()).AddDate(0, 0, 1)).
		Msg("scheduler: started")

	a.Runner.Tick(ctx)
	ticker := time.NewTicker(cfg.Jobs.Tick)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			a.Runner.Tick(ctx)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("scheduler: http shutdown failed")
	}
	logger.Info().Msg("scheduler: stopped")
}
