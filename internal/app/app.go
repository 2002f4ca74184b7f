// Package app wires storage, queues and services from AppConfig.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"radish-rewards/internal/adapters/httpapi"
	"radish-rewards/internal/adapters/memory"
	"radish-rewards/internal/adapters/repo"
	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/cache"
	"radish-rewards/internal/infra/config"
	"radish-rewards/internal/infra/db"
	"radish-rewards/internal/infra/idgen"
	"radish-rewards/internal/infra/queue"
	"radish-rewards/internal/usecase/jobs"
	"radish-rewards/internal/usecase/ledger"
	"radish-rewards/internal/usecase/ranking"
	"radish-rewards/internal/usecase/retention"
	"radish-rewards/internal/usecase/schedule"
)

// App holds the wired services of one process.
type App struct {
	Config    config.AppConfig
	Pool      *pgxpool.Pool
	Redis     redis.UniversalClient
	Events    domain.EventPublisher
	Queue     *queue.RedisEventQueue
	Ledger    *ledger.Service
	Ranking   *ranking.Service
	Retention *retention.Service
	Planner   *schedule.Planner
	Runner    *jobs.Runner
	API       *httpapi.Server

	highlights domain.HighlightQueries
	closers    []func()
	log        zerolog.Logger
}

type store interface {
	domain.CommentSource
	domain.HighlightRepo
	domain.HighlightQueries
	domain.LedgerRepo
}

// New connects to the configured backends. Without PG_DSN the services run on
// the in-memory store and without REDIS_ADDR job locks are process local.
func New(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, log: logger}

	planner, err := schedule.NewPlanner(cfg.TZ, cfg.Ranking.Hour, cfg.Retention.Weekday, cfg.Retention.Hour)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	a.Planner = planner

	var st store
	if cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.Pool = pool
		a.closers = append(a.closers, pool.Close)
		st = repo.NewPostgres(pool)
	} else {
		logger.Warn().Msg("app: PG_DSN is empty, using in-memory storage")
		st = memory.NewStore()
	}
	a.highlights = st

	var (
		locker domain.JobLocker   = cache.NewLocalJobLocker()
		runs   domain.JobRunStore = cache.NewLocalJobRunStore()
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		locker = cache.NewRedisJobLocker(client)
		runs = cache.NewRedisJobRunStore(client)
		a.Queue = queue.NewRedisEventQueue(client, cfg.Events.Queue)
	}

	switch {
	case cfg.Events.RabbitURL != "":
		pub, err := queue.NewRabbitPublisher(cfg.Events.RabbitURL, cfg.Events.Queue)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		a.Events = pub
	case a.Queue != nil:
		a.Events = a.Queue
	default:
		a.Events = queue.NewLogPublisher(logger)
	}

	numbers, err := idgen.NewSnowflake(cfg.Ledger.SnowflakeNode)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("snowflake: %w", err)
	}

	a.Ledger = ledger.NewService(st, numbers, logger,
		ledger.WithRetry(cfg.Ledger.MaxRetries, cfg.Ledger.RetryBase),
		ledger.WithPublisher(a.Events),
	)

	rankingOpts := []ranking.Option{}
	if cfg.Ranking.LikeBonusEnabled {
		rankingOpts = append(rankingOpts, ranking.WithLikeBonus(a.Ledger))
	}
	a.Ranking = ranking.NewService(st, st, ranking.Config{
		CandidateLimit:  cfg.Ranking.CandidateLimit,
		MinRootComments: cfg.Ranking.MinRootComments,
		MinReplies:      cfg.Ranking.MinReplies,
		ActiveWindow:    cfg.Ranking.ActiveWindow,
		Workers:         cfg.Jobs.Workers,
	}, logger, rankingOpts...)

	a.Retention = retention.NewService(st, a.Ledger, logger, retention.WithWorkers(cfg.Jobs.Workers))

	a.Runner = jobs.NewRunner(jobs.Config{
		Ranking:   a.Ranking,
		Retention: a.Retention,
		Locker:    locker,
		Runs:      runs,
		Events:    a.Events,
		Planner:   planner,
		LockTTL:   cfg.Jobs.LockTTL,
	}, logger)

	a.API = httpapi.NewServer(st, a.Ledger, a.Runner,
		httpapi.WithLogger(logger.With().Str("component", "httpapi").Logger()),
		httpapi.WithLocation(planner.Location()),
	)
	return a, nil
}

// Health pings the configured backends.
func (a *App) Health(ctx context.Context) error {
	if a.Pool != nil {
		if err := a.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Highlights returns the highlight query side of the store.
func (a *App) Highlights() domain.HighlightQueries { return a.highlights }

// Close releases connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
