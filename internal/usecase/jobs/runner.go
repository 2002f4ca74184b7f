// Package jobs wraps the ranking and retention services with the run lock,
// last-run bookkeeping, metrics and completion events.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/metrics"
	"radish-rewards/internal/usecase/schedule"
)

// Ranker runs the daily ranking.
type Ranker interface {
	RunDaily(ctx context.Context, statDate time.Time) (domain.RankingResult, error)
}

// Rewarder runs the weekly retention rewards.
type Rewarder interface {
	RunWeekly(ctx context.Context) (domain.RetentionResult, error)
}

// Runner executes jobs at most once at a time across replicas.
type Runner struct {
	ranking   Ranker
	retention Rewarder
	locker    domain.JobLocker
	runs      domain.JobRunStore
	events    domain.EventPublisher
	planner   *schedule.Planner
	lockTTL   time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// Config holds Runner dependencies.
type Config struct {
	Ranking   Ranker
	Retention Rewarder
	Locker    domain.JobLocker
	Runs      domain.JobRunStore
	Events    domain.EventPublisher
	Planner   *schedule.Planner
	LockTTL   time.Duration
	Now       func() time.Time
}

// NewRunner creates a runner.
func NewRunner(cfg Config, logger zerolog.Logger) *Runner {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		ranking:   cfg.Ranking,
		retention: cfg.Retention,
		locker:    cfg.Locker,
		runs:      cfg.Runs,
		events:    cfg.Events,
		planner:   cfg.Planner,
		lockTTL:   cfg.LockTTL,
		now:       cfg.Now,
		log:       logger.With().Str("component", "jobs").Logger(),
	}
}

// RunRanking ranks statDate. It returns domain.ErrJobLocked if another runner
// holds the ranking lock.
func (r *Runner) RunRanking(ctx context.Context, statDate time.Time) (domain.RankingResult, error) {
	var res domain.RankingResult
	err := r.run(ctx, domain.JobRanking, domain.EventRankingCompleted, func(ctx context.Context) (map[string]any, error) {
		var err error
		res, err = r.ranking.RunDaily(ctx, statDate)
		return map[string]any{
			"stat_date":            res.StatDate.Format(time.DateOnly),
			"god_comments_written": res.GodCommentsWritten,
			"sofas_written":        res.SofasWritten,
			"keys_retired":         res.KeysRetired,
			"keys_failed":          res.KeysFailed,
		}, err
	})
	return res, err
}

// RunRetention grants due retention rewards. It returns domain.ErrJobLocked if
// another runner holds the retention lock.
func (r *Runner) RunRetention(ctx context.Context) (domain.RetentionResult, error) {
	var res domain.RetentionResult
	err := r.run(ctx, domain.JobRetention, domain.EventRetentionCompleted, func(ctx context.Context) (map[string]any, error) {
		var err error
		res, err = r.retention.RunWeekly(ctx)
		return map[string]any{
			"god_comment_rewards_granted": res.GodCommentRewardsGranted,
			"sofa_rewards_granted":        res.SofaRewardsGranted,
			"already_granted":             res.AlreadyGranted,
			"failed":                      res.Failed,
		}, err
	})
	return res, err
}

// LastRun returns the last recorded run of job.
func (r *Runner) LastRun(ctx context.Context, job domain.JobName) (domain.JobRun, bool, error) {
	return r.runs.LastRun(ctx, job)
}

// Tick starts every job whose schedule slot has not completed yet.
func (r *Runner) Tick(ctx context.Context) {
	if r.planner == nil {
		return
	}
	now := r.now()

	if last, ok, err := r.runs.LastRun(ctx, domain.JobRanking); err != nil {
		r.log.Error().Err(err).Msg("jobs: read last ranking run")
	} else if r.planner.RankingDue(now, last, ok) {
		if _, err := r.RunRanking(ctx, r.planner.StatDateFor(now)); err != nil && !errors.Is(err, domain.ErrJobLocked) {
			r.log.Error().Err(err).Msg("jobs: ranking failed")
		}
	}

	if last, ok, err := r.runs.LastRun(ctx, domain.JobRetention); err != nil {
		r.log.Error().Err(err).Msg("jobs: read last retention run")
	} else if r.planner.RetentionDue(now, last, ok) {
		if _, err := r.RunRetention(ctx); err != nil && !errors.Is(err, domain.ErrJobLocked) {
			r.log.Error().Err(err).Msg("jobs: retention failed")
		}
	}
}

func (r *Runner) run(ctx context.Context, job domain.JobName, eventType domain.JobEventType, fn func(ctx context.Context) (map[string]any, error)) error {
	started := r.now()
	var result map[string]any
	err := r.locker.Run(ctx, job, r.lockTTL, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if errors.Is(err, domain.ErrJobLocked) {
		r.log.Info().Str("job", string(job)).Msg("jobs: locked by another runner, skipping")
		return err
	}
	metrics.ObserveJobRun(string(job), started, err)

	run := domain.JobRun{
		Job:        job,
		StartedAt:  started,
		FinishedAt: r.now(),
		Status:     schedule.RunSucceeded,
		Result:     result,
	}
	if err != nil {
		run.Status = "error"
	}
	if saveErr := r.runs.SaveLastRun(ctx, run); saveErr != nil {
		r.log.Error().Err(saveErr).Str("job", string(job)).Msg("jobs: save last run")
	}
	if err == nil {
		r.publish(ctx, job, eventType, result)
	}
	r.log.Info().Str("job", string(job)).Str("status", run.Status).Dur("took", run.FinishedAt.Sub(started)).Msg("jobs: run finished")
	return err
}

func (r *Runner) publish(ctx context.Context, job domain.JobName, eventType domain.JobEventType, payload map[string]any) {
	if r.events == nil {
		return
	}
	event := domain.JobEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Job:        job,
		OccurredAt: r.now().UTC(),
		Payload:    payload,
	}
	if err := r.events.Publish(ctx, event); err != nil {
		r.log.Warn().Err(err).Str("job", string(job)).Msg("jobs: publish event failed")
	}
}
