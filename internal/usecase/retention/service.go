// Package retention pays weekly rewards to authors whose highlight stays
// current.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/metrics"
)

// Service runs the weekly retention job.
type Service struct {
	highlights domain.HighlightRepo
	granter    domain.RewardGranter
	policy     domain.RewardPolicy
	workers    int
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithPolicy overrides the reward table.
func WithPolicy(p domain.RewardPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithWorkers sets the size of the worker pool.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the retention service.
func NewService(highlights domain.HighlightRepo, granter domain.RewardGranter, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		highlights: highlights,
		granter:    granter,
		policy:     domain.DefaultRewardPolicy(),
		workers:    4,
		now:        time.Now,
		log:        logger.With().Str("component", "retention").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type tally struct {
	granted atomic.Int64
	already atomic.Int64
	failed  atomic.Int64
}

// RunWeekly grants every due week of every current highlight. Weeks already
// paid come back as AlreadyGranted and are not counted as new grants.
func (s *Service) RunWeekly(ctx context.Context) (domain.RetentionResult, error) {
	now := s.now()
	var (
		result domain.RetentionResult
		errs   []error
	)
	for _, kind := range domain.HighlightKinds {
		var t tally
		if err := s.runKind(ctx, kind, now, &t); err != nil {
			errs = append(errs, err)
		}
		switch kind {
		case domain.HighlightGodComment:
			result.GodCommentRewardsGranted = int(t.granted.Load())
		case domain.HighlightSofa:
			result.SofaRewardsGranted = int(t.granted.Load())
		}
		result.AlreadyGranted += int(t.already.Load())
		result.Failed += int(t.failed.Load())
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	s.log.Info().
		Int("god_comment_rewards", result.GodCommentRewardsGranted).
		Int("sofa_rewards", result.SofaRewardsGranted).
		Int("already_granted", result.AlreadyGranted).
		Int("failed", result.Failed).
		Msg("retention: run finished")
	return result, errors.Join(errs...)
}

func (s *Service) runKind(ctx context.Context, kind domain.HighlightKind, now time.Time, t *tally) error {
	records, err := s.highlights.ListCurrent(ctx, kind)
	if err != nil {
		return fmt.Errorf("list current %s: %w", kind, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, rec := range records {
		if gctx.Err() != nil {
			break
		}
		rec := rec
		g.Go(func() error {
			s.rewardRecord(gctx, rec, now, t)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) rewardRecord(ctx context.Context, rec domain.HighlightRecord, now time.Time, t *tally) {
	weeks := domain.WeeksRetained(now, rec.CreateTime)
	if weeks > s.policy.RetentionMaxWeeks {
		weeks = s.policy.RetentionMaxWeeks
	}
	for week := 1; week <= weeks; week++ {
		out := s.granter.GrantReward(ctx, domain.RewardGrant{
			BusinessID: rec.ID,
			UserID:     rec.AuthorID,
			Period:     week,
			Kind:       rec.Kind,
		})
		metrics.IncRetentionReward(rec.Kind.String(), string(out.Status))
		switch out.Status {
		case domain.GrantGranted:
			t.granted.Add(1)
			s.log.Debug().Int64("record_id", rec.ID).Int64("user_id", rec.AuthorID).Int("week", week).Int64("amount", out.Amount).Msg("retention: reward granted")
		case domain.GrantAlreadyGranted:
			t.already.Add(1)
		default:
			t.failed.Add(1)
			s.log.Warn().Err(out.Err).Int64("record_id", rec.ID).Int64("user_id", rec.AuthorID).Int("week", week).Str("reason", string(out.FailureReason)).Msg("retention: reward failed, skipping")
		}
	}
}
