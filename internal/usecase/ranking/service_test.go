package ranking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"radish-rewards/internal/adapters/memory"
	"radish-rewards/internal/domain"
)

var (
	testNow  = time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	testStat = time.Date(2026, 3, 1, 15, 30, 0, 0, time.UTC)
)

func rootComment(id, post, likes int64, created time.Time) domain.Comment {
	return domain.Comment{
		ID:         id,
		PostID:     post,
		LikeCount:  likes,
		AuthorID:   100 + id,
		AuthorName: fmt.Sprintf("user%d", id),
		Content:    fmt.Sprintf("comment %d", id),
		CreateTime: created,
		IsEnabled:  true,
	}
}

func reply(id, post, parent, likes int64, created time.Time) domain.Comment {
	c := rootComment(id, post, likes, created)
	c.ParentID = &parent
	return c
}

func newRanking(source domain.CommentSource, repo domain.HighlightRepo, cfg Config, opts ...Option) *Service {
	var n int
	var mu sync.Mutex
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithGenerationIDs(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("gen-%d", n)
		}),
	}, opts...)
	return NewService(source, repo, cfg, zerolog.Nop(), opts...)
}

func TestRunDailyTiedLeaders(t *testing.T) {
	store := memory.NewStore()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store.PutComment(rootComment(1, 10, 10, day.Add(10*time.Hour)))
	store.PutComment(rootComment(2, 10, 10, day.Add(9*time.Hour)))
	store.PutComment(rootComment(3, 10, 8, day.Add(11*time.Hour)))

	svc := newRanking(store, store, DefaultConfig())
	res, err := svc.RunDaily(context.Background(), testStat)
	require.NoError(t, err)
	require.Equal(t, 2, res.GodCommentsWritten)
	require.Equal(t, 0, res.SofasWritten)
	require.Equal(t, day, res.StatDate)

	current, err := store.ListCurrentByKey(context.Background(), domain.HighlightKey{Kind: domain.HighlightGodComment, ID: 10})
	require.NoError(t, err)
	require.Len(t, current, 2)
	require.Equal(t, int64(1), current[0].CommentID)
	require.Equal(t, 1, current[0].Rank)
	require.Equal(t, int64(2), current[1].CommentID)
	require.Equal(t, 2, current[1].Rank)
	require.Equal(t, current[0].GenerationID, current[1].GenerationID)
	require.Equal(t, day, current[0].StatDate)

	_, err = store.CurrentForComment(context.Background(), 3)
	require.ErrorIs(t, err, domain.ErrHighlightNotFound)
}

func TestRunDailyIdempotentWithoutChanges(t *testing.T) {
	store := memory.NewStore()
	store.PutComment(rootComment(1, 10, 5, testNow.Add(-time.Hour)))
	svc := newRanking(store, store, DefaultConfig())
	ctx := context.Background()

	first, err := svc.RunDaily(ctx, testStat)
	require.NoError(t, err)
	require.Equal(t, 1, first.GodCommentsWritten)

	second, err := svc.RunDaily(ctx, testStat)
	require.NoError(t, err)
	require.Equal(t, 0, second.GodCommentsWritten)
	require.Len(t, store.Highlights(), 1)
}

func TestRunDailySupersedesOnLeaderChange(t *testing.T) {
	store := memory.NewStore()
	store.PutComment(rootComment(1, 10, 5, testNow.Add(-2*time.Hour)))
	store.PutComment(rootComment(2, 10, 3, testNow.Add(-time.Hour)))
	svc := newRanking(store, store, DefaultConfig())
	ctx := context.Background()

	_, err := svc.RunDaily(ctx, testStat)
	require.NoError(t, err)

	store.UpdateLikes(2, 9)
	res, err := svc.RunDaily(ctx, testStat.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, res.GodCommentsWritten)

	history := store.Highlights()
	require.Len(t, history, 2)
	require.False(t, history[0].IsCurrent)
	require.True(t, history[1].IsCurrent)
	require.Equal(t, int64(2), history[1].CommentID)
	require.NotEqual(t, history[0].GenerationID, history[1].GenerationID)
}

func TestRunDailySofas(t *testing.T) {
	store := memory.NewStore()
	store.PutComment(rootComment(1, 10, 0, testNow.Add(-3*time.Hour)))
	store.PutComment(reply(2, 10, 1, 4, testNow.Add(-2*time.Hour)))
	store.PutComment(reply(3, 10, 1, 6, testNow.Add(-time.Hour)))
	deleted := reply(4, 10, 1, 50, testNow.Add(-time.Hour))
	deleted.IsDeleted = true
	store.PutComment(deleted)

	svc := newRanking(store, store, DefaultConfig())
	res, err := svc.RunDaily(context.Background(), testStat)
	require.NoError(t, err)
	require.Equal(t, 1, res.GodCommentsWritten)
	require.Equal(t, 1, res.SofasWritten)

	sofa, err := store.CurrentHighlight(context.Background(), domain.HighlightKey{Kind: domain.HighlightSofa, ID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(3), sofa.CommentID)
	require.NotNil(t, sofa.ParentCommentID)
	require.Equal(t, int64(1), *sofa.ParentCommentID)
	require.Equal(t, int64(10), sofa.PostID)
}

func TestRunDailyCapsTiedLeaders(t *testing.T) {
	store := memory.NewStore()
	for i := int64(1); i <= 7; i++ {
		store.PutComment(rootComment(i, 10, 4, testNow.Add(-time.Duration(i)*time.Minute)))
	}
	svc := newRanking(store, store, Config{CandidateLimit: 5})
	res, err := svc.RunDaily(context.Background(), testStat)
	require.NoError(t, err)
	require.Equal(t, 5, res.GodCommentsWritten)
}

func TestRunDailyThresholdRetires(t *testing.T) {
	store := memory.NewStore()
	store.PutComment(rootComment(1, 10, 5, testNow.Add(-time.Hour)))
	store.PutComment(rootComment(2, 10, 1, testNow.Add(-time.Hour)))
	ctx := context.Background()

	_, err := newRanking(store, store, DefaultConfig()).RunDaily(ctx, testStat)
	require.NoError(t, err)

	res, err := newRanking(store, store, Config{MinRootComments: 2}).RunDaily(ctx, testStat)
	require.NoError(t, err)
	require.Equal(t, 1, res.KeysRetired)
	require.Equal(t, 0, res.GodCommentsWritten)

	_, err = store.CurrentHighlight(ctx, domain.HighlightKey{Kind: domain.HighlightGodComment, ID: 10})
	require.ErrorIs(t, err, domain.ErrHighlightNotFound)
}

func TestRunDailyActiveWindow(t *testing.T) {
	store := memory.NewStore()
	store.PutComment(rootComment(1, 10, 5, testNow.Add(-48*time.Hour)))
	store.PutComment(rootComment(2, 20, 5, testNow.Add(-time.Hour)))

	res, err := newRanking(store, store, Config{ActiveWindow: 24 * time.Hour}).RunDaily(context.Background(), testStat)
	require.NoError(t, err)
	require.Equal(t, 1, res.GodCommentsWritten)
	_, err = store.CurrentForComment(context.Background(), 2)
	require.NoError(t, err)
}

type failingSource struct {
	*memory.Store
	failKey int64
}

func (f *failingSource) TopComments(ctx context.Context, key domain.HighlightKey, limit int) ([]domain.Comment, error) {
	if key.ID == f.failKey {
		return nil, errors.New("connection reset")
	}
	return f.Store.TopComments(ctx, key, limit)
}

func TestRunDailyIsolatesKeyFailures(t *testing.T) {
	store := memory.NewStore()
	store.PutComment(rootComment(1, 10, 5, testNow.Add(-time.Hour)))
	store.PutComment(rootComment(2, 20, 5, testNow.Add(-time.Hour)))
	store.PutComment(rootComment(3, 30, 5, testNow.Add(-time.Hour)))

	svc := newRanking(&failingSource{Store: store, failKey: 20}, store, DefaultConfig())
	res, err := svc.RunDaily(context.Background(), testStat)
	require.NoError(t, err)
	require.Equal(t, 2, res.GodCommentsWritten)
	require.Equal(t, 1, res.KeysFailed)
}

type brokenRepo struct {
	*memory.Store
}

func (b *brokenRepo) ReplaceCurrent(context.Context, domain.HighlightKey, []domain.HighlightRecord) ([]domain.HighlightRecord, error) {
	return nil, domain.ErrGenerationInvariant
}

func TestRunDailyAbortsOnInvariantViolation(t *testing.T) {
	store := memory.NewStore()
	store.PutComment(rootComment(1, 10, 5, testNow.Add(-time.Hour)))
	store.PutComment(reply(2, 10, 1, 5, testNow.Add(-time.Hour)))

	svc := newRanking(store, &brokenRepo{Store: store}, DefaultConfig())
	res, err := svc.RunDaily(context.Background(), testStat)
	require.ErrorIs(t, err, domain.ErrGenerationInvariant)
	require.Equal(t, 0, res.SofasWritten)
}

type listErrorSource struct {
	*memory.Store
}

func (l *listErrorSource) ListKeys(ctx context.Context, kind domain.HighlightKind, since time.Time) ([]int64, error) {
	if kind == domain.HighlightGodComment {
		return nil, errors.New("timeout")
	}
	return l.Store.ListKeys(ctx, kind, since)
}

func TestRunDailyContinuesAfterListFailure(t *testing.T) {
	store := memory.NewStore()
	store.PutComment(rootComment(1, 10, 0, testNow.Add(-time.Hour)))
	store.PutComment(reply(2, 10, 1, 5, testNow.Add(-time.Hour)))

	svc := newRanking(&listErrorSource{Store: store}, store, DefaultConfig())
	res, err := svc.RunDaily(context.Background(), testStat)
	require.Error(t, err)
	require.Equal(t, 1, res.SofasWritten)
}

type bonusRecorder struct {
	mu    sync.Mutex
	calls []domain.LikeBonus
}

func (b *bonusRecorder) GrantLikeBonus(_ context.Context, bonus domain.LikeBonus) domain.GrantOutcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, bonus)
	return domain.GrantOutcome{Status: domain.GrantGranted}
}

func TestRunDailyLikeBonusForSameLeader(t *testing.T) {
	store := memory.NewStore()
	store.PutComment(rootComment(1, 10, 5, testNow.Add(-time.Hour)))
	bonus := &bonusRecorder{}
	svc := newRanking(store, store, DefaultConfig(), WithLikeBonus(bonus))
	ctx := context.Background()

	_, err := svc.RunDaily(ctx, testStat)
	require.NoError(t, err)
	first, err := store.CurrentForComment(ctx, 1)
	require.NoError(t, err)

	store.UpdateLikes(1, 8)
	_, err = svc.RunDaily(ctx, testStat)
	require.NoError(t, err)

	require.Len(t, bonus.calls, 1)
	require.Equal(t, first.ID, bonus.calls[0].RecordID)
	require.Equal(t, int64(3), bonus.calls[0].Increment)
	require.Equal(t, int64(101), bonus.calls[0].UserID)

	store.PutComment(rootComment(2, 10, 20, testNow.Add(-time.Minute)))
	_, err = svc.RunDaily(ctx, testStat)
	require.NoError(t, err)
	require.Len(t, bonus.calls, 1, "a new leader earns no like bonus")
}
