// Package ledger credits rewards and moves funds between user balances.
//
// Every mutation is a compare-version write of the affected balance rows plus
// one transaction row, applied by the store in a single database transaction.
// Version conflicts are retried with exponential backoff.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/metrics"
)

const (
	defaultMaxRetries = 3
	defaultRetryBase  = 100 * time.Millisecond

	defaultPageSize = 20
	maxPageSize     = 100

	businessTypeTransfer    = "USER_TRANSFER"
	businessTypeAdminAdjust = "ADMIN_ADJUST"
)

// Service implements the ledger operations.
type Service struct {
	repo       domain.LedgerRepo
	numbers    domain.TransactionNumberer
	policy     domain.RewardPolicy
	publisher  domain.EventPublisher
	maxRetries int
	retryBase  time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithPolicy overrides the reward table.
func WithPolicy(policy domain.RewardPolicy) Option {
	return func(s *Service) { s.policy = policy }
}

// WithRetry sets how many times a version conflict is retried and the first
// backoff interval.
func WithRetry(maxRetries int, base time.Duration) Option {
	return func(s *Service) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if base >= 0 {
			s.retryBase = base
		}
	}
}

// WithPublisher publishes reward.granted events after successful grants.
func WithPublisher(p domain.EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the ledger service.
func NewService(repo domain.LedgerRepo, numbers domain.TransactionNumberer, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		numbers:    numbers,
		policy:     domain.DefaultRewardPolicy(),
		maxRetries: defaultMaxRetries,
		retryBase:  defaultRetryBase,
		now:        time.Now,
		log:        logger.With().Str("component", "ledger").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreateBalance returns the balance of a user, creating an empty row on
// first access.
func (s *Service) GetOrCreateBalance(ctx context.Context, userID int64) (domain.UserBalance, error) {
	if userID <= 0 {
		return domain.UserBalance{}, fmt.Errorf("invalid user id %d", userID)
	}
	bal, err := s.repo.EnsureBalance(ctx, userID)
	if err != nil {
		return domain.UserBalance{}, fmt.Errorf("ensure balance: %w", err)
	}
	return bal, nil
}

// ListTransactions returns the newest transactions touching the user.
func (s *Service) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]domain.LedgerTransaction, error) {
	limit, offset = normalizePage(limit, offset)
	txs, err := s.repo.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// ListBalanceChanges returns the newest balance change log entries.
func (s *Service) ListBalanceChanges(ctx context.Context, userID int64, limit int) ([]domain.BalanceChangeLog, error) {
	limit, _ = normalizePage(limit, 0)
	changes, err := s.repo.ListBalanceChanges(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list balance changes: %w", err)
	}
	return changes, nil
}

// GrantReward credits the weekly retention reward of a highlight record.
// The call is idempotent per (kind, record, week).
func (s *Service) GrantReward(ctx context.Context, g domain.RewardGrant) domain.GrantOutcome {
	if !g.Kind.Valid() || g.UserID <= 0 || g.BusinessID <= 0 || g.Period < 1 || g.Period > s.policy.RetentionMaxWeeks {
		return domain.GrantOutcome{
			Status:        domain.GrantFailed,
			FailureReason: domain.FailureInvalidRequest,
			Err:           fmt.Errorf("invalid reward grant %+v", g),
		}
	}
	amount := s.policy.RetentionPerWeek[g.Kind]
	businessID := g.BusinessID
	return s.credit(ctx, creditRequest{
		op:             "grant_reward",
		userID:         g.UserID,
		amount:         amount,
		txType:         domain.TxRetentionReward,
		businessType:   g.Kind.Code() + "_RETENTION",
		businessID:     &businessID,
		idempotencyKey: domain.RetentionKey(g.Kind, g.BusinessID, g.Period),
		remark:         fmt.Sprintf("%s retention reward, week %d", g.Kind, g.Period),
	})
}

// GrantLikeBonus credits the like bonus of a superseded generation.
func (s *Service) GrantLikeBonus(ctx context.Context, b domain.LikeBonus) domain.GrantOutcome {
	if !b.Kind.Valid() || b.UserID <= 0 || b.RecordID <= 0 || b.Increment <= 0 {
		return domain.GrantOutcome{
			Status:        domain.GrantFailed,
			FailureReason: domain.FailureInvalidRequest,
			Err:           fmt.Errorf("invalid like bonus %+v", b),
		}
	}
	recordID := b.RecordID
	return s.credit(ctx, creditRequest{
		op:             "grant_like_bonus",
		userID:         b.UserID,
		amount:         b.Increment * s.policy.LikeBonusPerLike[b.Kind],
		txType:         domain.TxLikeReward,
		businessType:   b.Kind.Code() + "_LIKE_BONUS",
		businessID:     &recordID,
		idempotencyKey: domain.LikeBonusKey(b.Kind, b.RecordID),
		remark:         fmt.Sprintf("%s like bonus, +%d likes", b.Kind, b.Increment),
	})
}

type creditRequest struct {
	op             string
	userID         int64
	amount         int64
	txType         domain.TransactionType
	businessType   string
	businessID     *int64
	idempotencyKey string
	remark         string
}

func (s *Service) credit(ctx context.Context, req creditRequest) domain.GrantOutcome {
	logger := s.log.With().Int64("user_id", req.userID).Str("idempotency_key", req.idempotencyKey).Logger()

	existing, err := s.repo.FindSuccessByIdempotencyKey(ctx, req.idempotencyKey)
	switch {
	case err == nil:
		return alreadyGranted(existing)
	case !errors.Is(err, domain.ErrTransactionNotFound):
		return domain.GrantOutcome{Status: domain.GrantFailed, FailureReason: domain.FailureStorage, Err: err}
	}
	if req.amount <= 0 {
		return domain.GrantOutcome{
			Status:        domain.GrantFailed,
			FailureReason: domain.FailureInvalidAmount,
			Err:           fmt.Errorf("non-positive reward amount %d", req.amount),
		}
	}

	userID := req.userID
	txNo := s.numbers.NextTransactionNo()
	var written domain.LedgerTransaction
	err = s.retry(ctx, req.op, func() error {
		bal, err := s.repo.EnsureBalance(ctx, req.userID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("ensure balance: %w", err))
		}
		written, err = s.repo.ApplyMutation(ctx, domain.LedgerMutation{
			Changes: []domain.BalanceChange{{
				UserID:          req.userID,
				ExpectedVersion: bal.Version,
				BalanceDelta:    req.amount,
				EarnedDelta:     req.amount,
				ChangeType:      string(req.txType),
			}},
			Transaction: domain.LedgerTransaction{
				TransactionNo:   txNo,
				ToUserID:        &userID,
				Amount:          req.amount,
				TransactionType: req.txType,
				Status:          domain.TxStatusSuccess,
				BusinessType:    req.businessType,
				BusinessID:      req.businessID,
				IdempotencyKey:  req.idempotencyKey,
				Remark:          req.remark,
			},
		})
		if err != nil && !errors.Is(err, domain.ErrVersionConflict) {
			return backoff.Permanent(err)
		}
		return err
	})

	switch {
	case err == nil:
		logger.Info().Int64("amount", req.amount).Str("transaction_no", written.TransactionNo).Msg("ledger: reward granted")
		s.publishGranted(ctx, written)
		return domain.GrantOutcome{Status: domain.GrantGranted, Amount: req.amount, TransactionNo: written.TransactionNo}
	case errors.Is(err, domain.ErrDuplicateIdempotencyKey):
		existing, findErr := s.repo.FindSuccessByIdempotencyKey(ctx, req.idempotencyKey)
		if findErr != nil {
			return domain.GrantOutcome{Status: domain.GrantAlreadyGranted}
		}
		return alreadyGranted(existing)
	case errors.Is(err, domain.ErrVersionConflict):
		logger.Warn().Err(err).Msg("ledger: reward retries exhausted")
		return domain.GrantOutcome{Status: domain.GrantFailed, FailureReason: domain.FailureVersionConflict, Err: err}
	default:
		logger.Error().Err(err).Msg("ledger: reward failed")
		return domain.GrantOutcome{Status: domain.GrantFailed, FailureReason: domain.FailureStorage, Err: err}
	}
}

func alreadyGranted(tx domain.LedgerTransaction) domain.GrantOutcome {
	return domain.GrantOutcome{Status: domain.GrantAlreadyGranted, Amount: tx.Amount, TransactionNo: tx.TransactionNo}
}

// Transfer moves Amount from the sender to the recipient and charges Fee to
// the sender. Either both balances change or neither does.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) domain.TransferOutcome {
	switch {
	case req.FromUserID <= 0 || req.ToUserID <= 0:
		return failedTransfer(domain.FailureInvalidRequest, fmt.Errorf("invalid user ids %d -> %d", req.FromUserID, req.ToUserID))
	case req.FromUserID == req.ToUserID:
		return failedTransfer(domain.FailureSelfTransfer, errors.New("cannot transfer to self"))
	case req.Amount <= 0 || req.Fee < 0:
		return failedTransfer(domain.FailureInvalidAmount, fmt.Errorf("invalid amount %d fee %d", req.Amount, req.Fee))
	}

	from, to := req.FromUserID, req.ToUserID
	debit := req.Amount + req.Fee
	txNo := s.numbers.NextTransactionNo()
	err := s.retry(ctx, "transfer", func() error {
		sender, err := s.repo.GetBalance(ctx, req.FromUserID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if sender.Available() < debit {
			return backoff.Permanent(domain.ErrInsufficientFunds)
		}
		recipient, err := s.repo.EnsureBalance(ctx, req.ToUserID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("ensure recipient balance: %w", err))
		}
		_, err = s.repo.ApplyMutation(ctx, domain.LedgerMutation{
			Changes: []domain.BalanceChange{
				{
					UserID:           req.FromUserID,
					ExpectedVersion:  sender.Version,
					BalanceDelta:     -debit,
					SpentDelta:       debit,
					TransferOutDelta: req.Amount,
					ChangeType:       string(domain.TxTransfer),
				},
				{
					UserID:          req.ToUserID,
					ExpectedVersion: recipient.Version,
					BalanceDelta:    req.Amount,
					EarnedDelta:     req.Amount,
					TransferInDelta: req.Amount,
					ChangeType:      string(domain.TxTransfer),
				},
			},
			Transaction: domain.LedgerTransaction{
				TransactionNo:   txNo,
				FromUserID:      &from,
				ToUserID:        &to,
				Amount:          req.Amount,
				Fee:             req.Fee,
				TransactionType: domain.TxTransfer,
				Status:          domain.TxStatusSuccess,
				BusinessType:    businessTypeTransfer,
				Remark:          req.Note,
			},
		})
		if err != nil && !errors.Is(err, domain.ErrVersionConflict) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		s.log.Warn().Err(err).Int64("from_user_id", from).Int64("to_user_id", to).Int64("amount", req.Amount).Msg("ledger: transfer failed")
		return failedTransfer(failureFor(err), err)
	}
	s.log.Info().Int64("from_user_id", from).Int64("to_user_id", to).Int64("amount", req.Amount).Str("transaction_no", txNo).Msg("ledger: transfer completed")
	return domain.TransferOutcome{Success: true, TransactionNo: txNo}
}

// AdminAdjust changes a balance by delta on behalf of an operator. Negative
// deltas never take the balance below zero.
func (s *Service) AdminAdjust(ctx context.Context, userID, delta int64, reason string, operatorID int64) domain.TransferOutcome {
	if userID <= 0 {
		return failedTransfer(domain.FailureInvalidRequest, fmt.Errorf("invalid user id %d", userID))
	}
	if delta == 0 {
		return failedTransfer(domain.FailureInvalidAmount, errors.New("adjustment delta is zero"))
	}

	uid, op := userID, operatorID
	amount := delta
	change := domain.BalanceChange{UserID: userID, BalanceDelta: delta, ChangeType: string(domain.TxAdminAdjust)}
	tx := domain.LedgerTransaction{
		TransactionNo:   s.numbers.NextTransactionNo(),
		TransactionType: domain.TxAdminAdjust,
		Status:          domain.TxStatusSuccess,
		BusinessType:    businessTypeAdminAdjust,
		BusinessID:      &op,
		Remark:          reason,
	}
	if delta > 0 {
		change.EarnedDelta = delta
		tx.ToUserID = &uid
	} else {
		amount = -delta
		change.SpentDelta = amount
		tx.FromUserID = &uid
	}
	tx.Amount = amount

	err := s.retry(ctx, "admin_adjust", func() error {
		bal, err := s.repo.EnsureBalance(ctx, userID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("ensure balance: %w", err))
		}
		if delta < 0 && bal.Available() < amount {
			return backoff.Permanent(domain.ErrInsufficientFunds)
		}
		change.ExpectedVersion = bal.Version
		_, err = s.repo.ApplyMutation(ctx, domain.LedgerMutation{Changes: []domain.BalanceChange{change}, Transaction: tx})
		if err != nil && !errors.Is(err, domain.ErrVersionConflict) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Int64("delta", delta).Msg("ledger: admin adjust failed")
		return failedTransfer(failureFor(err), err)
	}
	s.log.Info().Int64("user_id", userID).Int64("delta", delta).Int64("operator_id", operatorID).Str("reason", reason).Msg("ledger: balance adjusted")
	return domain.TransferOutcome{Success: true, TransactionNo: tx.TransactionNo}
}

func failedTransfer(reason domain.FailureReason, err error) domain.TransferOutcome {
	return domain.TransferOutcome{FailureReason: reason, Err: err}
}

func failureFor(err error) domain.FailureReason {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return domain.FailureInsufficientFunds
	case errors.Is(err, domain.ErrBalanceNotFound):
		return domain.FailureUserNotFound
	case errors.Is(err, domain.ErrVersionConflict):
		return domain.FailureVersionConflict
	default:
		return domain.FailureStorage
	}
}

// retry runs fn until it succeeds, returns a permanent error or maxRetries
// retries have been spent. Only ErrVersionConflict is retried.
func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxRetries)), ctx)

	return backoff.RetryNotify(fn, policy, func(err error, wait time.Duration) {
		metrics.IncLedgerConflict(op)
		s.log.Debug().Err(err).Str("operation", op).Dur("wait", wait).Msg("ledger: version conflict, retrying")
	})
}

func (s *Service) publishGranted(ctx context.Context, tx domain.LedgerTransaction) {
	if s.publisher == nil {
		return
	}
	payload := map[string]any{
		"transaction_no":   tx.TransactionNo,
		"transaction_type": string(tx.TransactionType),
		"amount":           tx.Amount,
		"idempotency_key":  tx.IdempotencyKey,
	}
	if tx.ToUserID != nil {
		payload["user_id"] = *tx.ToUserID
	}
	event := domain.JobEvent{
		ID:         uuid.NewString(),
		Type:       domain.EventRewardGranted,
		OccurredAt: s.now().UTC(),
		Payload:    payload,
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("transaction_no", tx.TransactionNo).Msg("ledger: publish reward event failed")
	}
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

var (
	_ domain.RewardGranter    = (*Service)(nil)
	_ domain.LikeBonusGranter = (*Service)(nil)
)
