// Package ranking records the most liked comments of every post (god
// comments) and of every root comment (sofas).
package ranking

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/metrics"
)

// Config controls a ranking run.
type Config struct {
	// CandidateLimit caps how many tied leaders are recorded per key.
	CandidateLimit int
	// MinRootComments and MinReplies retire the current generation of keys
	// whose eligible comment count is at or below the threshold. Zero disables.
	MinRootComments int
	MinReplies      int
	// ActiveWindow limits key enumeration to recently touched comments. Zero
	// scans everything.
	ActiveWindow time.Duration
	Workers      int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{CandidateLimit: 5, Workers: 4}
}

// Service runs the daily ranking.
type Service struct {
	comments      domain.CommentSource
	highlights    domain.HighlightRepo
	bonus         domain.LikeBonusGranter
	cfg           Config
	now           func() time.Time
	newGeneration func() string
	log           zerolog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithLikeBonus pays a bonus when the same leader keeps its spot with more likes.
func WithLikeBonus(g domain.LikeBonusGranter) Option {
	return func(s *Service) { s.bonus = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithGenerationIDs replaces the generation id source.
func WithGenerationIDs(next func() string) Option {
	return func(s *Service) {
		if next != nil {
			s.newGeneration = next
		}
	}
}

// NewService creates the ranking service.
func NewService(comments domain.CommentSource, highlights domain.HighlightRepo, cfg Config, logger zerolog.Logger, opts ...Option) *Service {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	s := &Service{
		comments:      comments,
		highlights:    highlights,
		cfg:           cfg,
		now:           time.Now,
		newGeneration: uuid.NewString,
		log:           logger.With().Str("component", "ranking").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunDaily ranks every key of both kinds for statDate. Per-key failures are
// logged and counted. ErrGenerationInvariant aborts the run.
func (s *Service) RunDaily(ctx context.Context, statDate time.Time) (domain.RankingResult, error) {
	statDate = statDay(statDate)
	result := domain.RankingResult{StatDate: statDate}
	started := s.now()

	var errs []error
	for _, kind := range domain.HighlightKinds {
		stats, err := s.rankKind(ctx, kind, statDate)
		switch kind {
		case domain.HighlightGodComment:
			result.GodCommentsWritten += stats.written
		case domain.HighlightSofa:
			result.SofasWritten += stats.written
		}
		result.KeysRetired += stats.retired
		result.KeysFailed += stats.failed
		if errors.Is(err, domain.ErrGenerationInvariant) {
			s.log.Error().Err(err).Str("kind", kind.String()).Msg("ranking: aborting run")
			return result, err
		}
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	s.log.Info().
		Time("stat_date", statDate).
		Int("god_comments", result.GodCommentsWritten).
		Int("sofas", result.SofasWritten).
		Int("retired", result.KeysRetired).
		Int("failed", result.KeysFailed).
		Dur("took", s.now().Sub(started)).
		Msg("ranking: run finished")
	return result, errors.Join(errs...)
}

type kindStats struct {
	written int
	retired int
	failed  int
}

func (s *Service) rankKind(ctx context.Context, kind domain.HighlightKind, statDate time.Time) (kindStats, error) {
	var activeSince time.Time
	if s.cfg.ActiveWindow > 0 {
		activeSince = s.now().Add(-s.cfg.ActiveWindow)
	}
	keys, err := s.comments.ListKeys(ctx, kind, activeSince)
	if err != nil {
		return kindStats{}, fmt.Errorf("list %s keys: %w", kind, err)
	}

	var written, retired, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, id := range keys {
		if gctx.Err() != nil {
			break
		}
		key := domain.HighlightKey{Kind: kind, ID: id}
		g.Go(func() error {
			out, err := s.rankKey(gctx, key, statDate)
			if err != nil {
				if errors.Is(err, domain.ErrGenerationInvariant) {
					return err
				}
				failed.Add(1)
				metrics.IncHighlightKeyFailed(kind.String())
				s.log.Error().Err(err).Str("key", key.String()).Msg("ranking: key failed, skipping")
				return nil
			}
			written.Add(int64(out.written))
			if out.retired {
				retired.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	metrics.IncHighlightsWritten(kind.String(), int(written.Load()))
	return kindStats{
		written: int(written.Load()),
		retired: int(retired.Load()),
		failed:  int(failed.Load()),
	}, err
}

type keyOutcome struct {
	written int
	retired bool
}

func (s *Service) threshold(kind domain.HighlightKind) int {
	if kind == domain.HighlightSofa {
		return s.cfg.MinReplies
	}
	return s.cfg.MinRootComments
}

func (s *Service) rankKey(ctx context.Context, key domain.HighlightKey, statDate time.Time) (keyOutcome, error) {
	if limit := s.threshold(key.Kind); limit > 0 {
		n, err := s.comments.CountEligible(ctx, key)
		if err != nil {
			return keyOutcome{}, fmt.Errorf("count %s: %w", key, err)
		}
		if n <= limit {
			retired, err := s.highlights.RetireCurrent(ctx, key)
			if err != nil {
				return keyOutcome{}, fmt.Errorf("retire %s: %w", key, err)
			}
			if retired > 0 {
				s.log.Info().Str("key", key.String()).Int("eligible", n).Msg("ranking: below threshold, generation retired")
			}
			return keyOutcome{retired: retired > 0}, nil
		}
	}

	candidates, err := s.comments.TopComments(ctx, key, s.cfg.CandidateLimit)
	if err != nil {
		return keyOutcome{}, fmt.Errorf("top comments %s: %w", key, err)
	}
	sortCandidates(candidates)
	leaders := tiedLeaders(candidates)
	if len(leaders) == 0 {
		return keyOutcome{}, nil
	}

	current, err := s.highlights.CurrentHighlight(ctx, key)
	hasCurrent := err == nil
	if err != nil && !errors.Is(err, domain.ErrHighlightNotFound) {
		return keyOutcome{}, fmt.Errorf("current highlight %s: %w", key, err)
	}
	if hasCurrent && !needsSupersede(current, leaders[0]) {
		return keyOutcome{}, nil
	}

	records := buildGeneration(key, leaders, statDate, s.newGeneration(), s.now())
	inserted, err := s.highlights.ReplaceCurrent(ctx, key, records)
	if err != nil {
		return keyOutcome{}, fmt.Errorf("replace %s: %w", key, err)
	}
	s.log.Debug().Str("key", key.String()).Int64("comment_id", leaders[0].ID).Int64("likes", leaders[0].LikeCount).Int("ties", len(leaders)).Msg("ranking: generation superseded")

	if hasCurrent && current.CommentID == leaders[0].ID && leaders[0].LikeCount > current.LikeCount {
		s.grantLikeBonus(ctx, current, leaders[0].LikeCount-current.LikeCount)
	}
	return keyOutcome{written: len(inserted)}, nil
}

func (s *Service) grantLikeBonus(ctx context.Context, previous domain.HighlightRecord, increment int64) {
	if s.bonus == nil {
		return
	}
	out := s.bonus.GrantLikeBonus(ctx, domain.LikeBonus{
		RecordID:  previous.ID,
		UserID:    previous.AuthorID,
		Increment: increment,
		Kind:      previous.Kind,
	})
	if out.Status == domain.GrantFailed {
		s.log.Warn().Err(out.Err).Int64("record_id", previous.ID).Str("reason", string(out.FailureReason)).Msg("ranking: like bonus failed")
	}
}
