package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"radish-rewards/internal/adapters/memory"
	"radish-rewards/internal/domain"
)

type seqNumbers struct{ n atomic.Int64 }

func (s *seqNumbers) NextTransactionNo() string {
	return fmt.Sprintf("TXN_%d", s.n.Add(1))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.JobEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func newTestService(repo domain.LedgerRepo, opts ...Option) *Service {
	opts = append([]Option{WithRetry(3, 0)}, opts...)
	return NewService(repo, &seqNumbers{}, zerolog.Nop(), opts...)
}

func TestGrantRewardOnce(t *testing.T) {
	store := memory.NewStore()
	pub := &recordingPublisher{}
	svc := newTestService(store, WithPublisher(pub))
	ctx := context.Background()

	grant := domain.RewardGrant{BusinessID: 11, UserID: 7, Period: 1, Kind: domain.HighlightGodComment}
	first := svc.GrantReward(ctx, grant)
	require.Equal(t, domain.GrantGranted, first.Status)
	require.Equal(t, int64(15), first.Amount)
	require.NotEmpty(t, first.TransactionNo)

	second := svc.GrantReward(ctx, grant)
	require.Equal(t, domain.GrantAlreadyGranted, second.Status)
	require.Equal(t, first.TransactionNo, second.TransactionNo)

	bal, err := svc.GetOrCreateBalance(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(15), bal.Balance)
	require.Equal(t, int64(15), bal.TotalEarned)
	require.Equal(t, int64(1), bal.Version)

	txs := store.Transactions()
	require.Len(t, txs, 1)
	require.Equal(t, "GOD_COMMENT_RETENTION:11:W1", txs[0].IdempotencyKey)
	require.Equal(t, domain.TxRetentionReward, txs[0].TransactionType)

	require.Len(t, pub.events, 1)
	require.Equal(t, domain.EventRewardGranted, pub.events[0].Type)
}

func TestGrantRewardSofaAmountAndWeeks(t *testing.T) {
	svc := newTestService(memory.NewStore())
	ctx := context.Background()

	for week := 1; week <= 3; week++ {
		out := svc.GrantReward(ctx, domain.RewardGrant{BusinessID: 3, UserID: 9, Period: week, Kind: domain.HighlightSofa})
		require.True(t, out.Granted(), "week %d", week)
		require.Equal(t, int64(10), out.Amount)
	}
	bal, err := svc.GetOrCreateBalance(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, int64(30), bal.Balance)
}

func TestGrantRewardRejectsInvalid(t *testing.T) {
	svc := newTestService(memory.NewStore())
	cases := map[string]domain.RewardGrant{
		"week zero":    {BusinessID: 1, UserID: 1, Period: 0, Kind: domain.HighlightGodComment},
		"week beyond":  {BusinessID: 1, UserID: 1, Period: 4, Kind: domain.HighlightGodComment},
		"unknown kind": {BusinessID: 1, UserID: 1, Period: 1, Kind: domain.HighlightKind(9)},
		"no user":      {BusinessID: 1, Period: 1, Kind: domain.HighlightSofa},
	}
	for name, grant := range cases {
		t.Run(name, func(t *testing.T) {
			out := svc.GrantReward(context.Background(), grant)
			require.Equal(t, domain.GrantFailed, out.Status)
			require.Equal(t, domain.FailureInvalidRequest, out.FailureReason)
		})
	}
}

func TestGrantRewardConcurrentExactlyOnce(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store)
	ctx := context.Background()
	grant := domain.RewardGrant{BusinessID: 42, UserID: 5, Period: 2, Kind: domain.HighlightGodComment}

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
		already atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch svc.GrantReward(ctx, grant).Status {
			case domain.GrantGranted:
				granted.Add(1)
			case domain.GrantAlreadyGranted:
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), granted.Load())
	require.Equal(t, int32(31), already.Load())
	bal, err := store.GetBalance(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, int64(15), bal.Balance)
	require.Len(t, store.Transactions(), 1)
}

type conflictRepo struct {
	*memory.Store
	calls atomic.Int32
}

func (r *conflictRepo) ApplyMutation(context.Context, domain.LedgerMutation) (domain.LedgerTransaction, error) {
	r.calls.Add(1)
	return domain.LedgerTransaction{}, domain.ErrVersionConflict
}

func TestGrantRewardRetriesExhausted(t *testing.T) {
	repo := &conflictRepo{Store: memory.NewStore()}
	svc := newTestService(repo)

	out := svc.GrantReward(context.Background(), domain.RewardGrant{BusinessID: 1, UserID: 2, Period: 1, Kind: domain.HighlightSofa})
	require.Equal(t, domain.GrantFailed, out.Status)
	require.Equal(t, domain.FailureVersionConflict, out.FailureReason)
	require.True(t, errors.Is(out.Err, domain.ErrVersionConflict))
	require.Equal(t, int32(4), repo.calls.Load(), "one attempt plus three retries")
}

type duplicateRepo struct {
	*memory.Store
}

func (r *duplicateRepo) ApplyMutation(context.Context, domain.LedgerMutation) (domain.LedgerTransaction, error) {
	return domain.LedgerTransaction{}, domain.ErrDuplicateIdempotencyKey
}

func TestGrantRewardUniqueViolationIsAlreadyGranted(t *testing.T) {
	svc := newTestService(&duplicateRepo{Store: memory.NewStore()})
	out := svc.GrantReward(context.Background(), domain.RewardGrant{BusinessID: 1, UserID: 2, Period: 1, Kind: domain.HighlightSofa})
	require.Equal(t, domain.GrantAlreadyGranted, out.Status)
}

func TestGrantLikeBonus(t *testing.T) {
	svc := newTestService(memory.NewStore())
	ctx := context.Background()

	out := svc.GrantLikeBonus(ctx, domain.LikeBonus{RecordID: 8, UserID: 3, Increment: 4, Kind: domain.HighlightGodComment})
	require.True(t, out.Granted())
	require.Equal(t, int64(20), out.Amount)

	again := svc.GrantLikeBonus(ctx, domain.LikeBonus{RecordID: 8, UserID: 3, Increment: 4, Kind: domain.HighlightGodComment})
	require.Equal(t, domain.GrantAlreadyGranted, again.Status)

	sofa := svc.GrantLikeBonus(ctx, domain.LikeBonus{RecordID: 9, UserID: 3, Increment: 2, Kind: domain.HighlightSofa})
	require.Equal(t, int64(6), sofa.Amount)

	bad := svc.GrantLikeBonus(ctx, domain.LikeBonus{RecordID: 10, UserID: 3, Increment: 0, Kind: domain.HighlightSofa})
	require.Equal(t, domain.FailureInvalidRequest, bad.FailureReason)
}

func TestTransfer(t *testing.T) {
	store := memory.NewStore()
	store.SetBalance(domain.UserBalance{UserID: 1, Balance: 100, TotalEarned: 100})
	svc := newTestService(store)
	ctx := context.Background()

	out := svc.Transfer(ctx, domain.TransferRequest{FromUserID: 1, ToUserID: 2, Amount: 30, Fee: 2, Note: "thanks"})
	require.True(t, out.Success, "err: %v", out.Err)

	from, err := store.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(68), from.Balance)
	require.Equal(t, int64(32), from.TotalSpent)
	require.Equal(t, int64(30), from.TotalTransferredOut)

	to, err := store.GetBalance(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(30), to.Balance)
	require.Equal(t, int64(30), to.TotalTransferredIn)

	changes, err := svc.ListBalanceChanges(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, int64(100), changes[0].BalanceBefore)
	require.Equal(t, int64(68), changes[0].BalanceAfter)

	txs, err := svc.ListTransactions(ctx, 2, 0, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "USER_TRANSFER", txs[0].BusinessType)
}

func TestTransferFailures(t *testing.T) {
	store := memory.NewStore()
	store.SetBalance(domain.UserBalance{UserID: 1, Balance: 50, FrozenBalance: 20})
	svc := newTestService(store)
	ctx := context.Background()

	cases := []struct {
		name   string
		req    domain.TransferRequest
		reason domain.FailureReason
	}{
		{"self", domain.TransferRequest{FromUserID: 1, ToUserID: 1, Amount: 1}, domain.FailureSelfTransfer},
		{"zero amount", domain.TransferRequest{FromUserID: 1, ToUserID: 2}, domain.FailureInvalidAmount},
		{"negative fee", domain.TransferRequest{FromUserID: 1, ToUserID: 2, Amount: 1, Fee: -1}, domain.FailureInvalidAmount},
		{"frozen funds", domain.TransferRequest{FromUserID: 1, ToUserID: 2, Amount: 31}, domain.FailureInsufficientFunds},
		{"fee overflow", domain.TransferRequest{FromUserID: 1, ToUserID: 2, Amount: 30, Fee: 1}, domain.FailureInsufficientFunds},
		{"unknown sender", domain.TransferRequest{FromUserID: 99, ToUserID: 2, Amount: 1}, domain.FailureUserNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := svc.Transfer(ctx, tc.req)
			require.False(t, out.Success)
			require.Equal(t, tc.reason, out.FailureReason)
		})
	}

	bal, err := store.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(50), bal.Balance)
	require.Equal(t, int64(0), bal.Version)
	require.Empty(t, store.Transactions())
}

func TestTransferConcurrentNeverNegative(t *testing.T) {
	store := memory.NewStore()
	store.SetBalance(domain.UserBalance{UserID: 1, Balance: 100})
	svc := newTestService(store, WithRetry(50, 0))
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(to int64) {
			defer wg.Done()
			if svc.Transfer(ctx, domain.TransferRequest{FromUserID: 1, ToUserID: to, Amount: 10}).Success {
				successes.Add(1)
			}
		}(int64(i + 2))
	}
	wg.Wait()

	bal, err := store.GetBalance(ctx, 1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, bal.Balance, int64(0))
	require.LessOrEqual(t, successes.Load(), int32(10))
	require.Equal(t, int64(100)-int64(successes.Load())*10, bal.Balance)
	require.Len(t, store.Transactions(), int(successes.Load()))
}

func TestAdminAdjust(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(store)
	ctx := context.Background()

	up := svc.AdminAdjust(ctx, 4, 25, "compensation", 1)
	require.True(t, up.Success)

	down := svc.AdminAdjust(ctx, 4, -10, "correction", 1)
	require.True(t, down.Success)

	tooMuch := svc.AdminAdjust(ctx, 4, -16, "correction", 1)
	require.False(t, tooMuch.Success)
	require.Equal(t, domain.FailureInsufficientFunds, tooMuch.FailureReason)

	zero := svc.AdminAdjust(ctx, 4, 0, "noop", 1)
	require.Equal(t, domain.FailureInvalidAmount, zero.FailureReason)

	bal, err := store.GetBalance(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, int64(15), bal.Balance)
	require.Equal(t, int64(25), bal.TotalEarned)
	require.Equal(t, int64(10), bal.TotalSpent)
}

func TestNormalizePage(t *testing.T) {
	limit, offset := normalizePage(0, -3)
	require.Equal(t, defaultPageSize, limit)
	require.Equal(t, 0, offset)

	limit, _ = normalizePage(1000, 0)
	require.Equal(t, maxPageSize, limit)
}
