package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBalanceNotFound is returned when a user has no balance row.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrTransactionNotFound is returned when a ledger transaction is missing.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInsufficientFunds is returned when a debit exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrVersionConflict is returned when a balance changed between read and write.
	ErrVersionConflict = errors.New("balance version conflict")

	// ErrDuplicateIdempotencyKey is returned when a successful transaction with
	// the same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// TransactionType tags the business meaning of a ledger transaction.
type TransactionType string

const (
	TxSystemGrant     TransactionType = "SYSTEM_GRANT"
	TxLikeReward      TransactionType = "LIKE_REWARD"
	TxCommentReward   TransactionType = "COMMENT_REWARD"
	TxRetentionReward TransactionType = "RETENTION_REWARD"
	TxTransfer        TransactionType = "TRANSFER"
	TxTip             TransactionType = "TIP"
	TxConsume         TransactionType = "CONSUME"
	TxRefund          TransactionType = "REFUND"
	TxPenalty         TransactionType = "PENALTY"
	TxAdminAdjust     TransactionType = "ADMIN_ADJUST"
)

// TransactionStatus is the lifecycle state of a ledger transaction.
// Pending moves to Success or Failed exactly once.
type TransactionStatus string

const (
	TxStatusPending TransactionStatus = "pending"
	TxStatusSuccess TransactionStatus = "success"
	TxStatusFailed  TransactionStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s TransactionStatus) Terminal() bool {
	return s == TxStatusSuccess || s == TxStatusFailed
}

// UserBalance is the per-user balance row. Version increments on every mutation.
type UserBalance struct {
	UserID              int64     `json:"user_id"`
	Balance             int64     `json:"balance"`
	FrozenBalance       int64     `json:"frozen_balance"`
	TotalEarned         int64     `json:"total_earned"`
	TotalSpent          int64     `json:"total_spent"`
	TotalTransferredIn  int64     `json:"total_transferred_in"`
	TotalTransferredOut int64     `json:"total_transferred_out"`
	Version             int64     `json:"version"`
	CreateTime          time.Time `json:"create_time"`
	UpdateTime          time.Time `json:"update_time"`
}

// Available is the balance that can be debited.
func (b UserBalance) Available() int64 {
	return b.Balance - b.FrozenBalance
}

// LedgerTransaction is an immutable ledger entry.
type LedgerTransaction struct {
	ID              int64             `json:"id"`
	TransactionNo   string            `json:"transaction_no"`
	FromUserID      *int64            `json:"from_user_id,omitempty"`
	ToUserID        *int64            `json:"to_user_id,omitempty"`
	Amount          int64             `json:"amount"`
	Fee             int64             `json:"fee"`
	TransactionType TransactionType   `json:"transaction_type"`
	Status          TransactionStatus `json:"status"`
	BusinessType    string            `json:"business_type,omitempty"`
	BusinessID      *int64            `json:"business_id,omitempty"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	Remark          string            `json:"remark,omitempty"`
	CreateTime      time.Time         `json:"create_time"`
}

// BalanceChange describes the deltas applied to one balance row. The write
// succeeds only if the row still has ExpectedVersion.
type BalanceChange struct {
	UserID           int64
	ExpectedVersion  int64
	BalanceDelta     int64
	EarnedDelta      int64
	SpentDelta       int64
	TransferInDelta  int64
	TransferOutDelta int64
	ChangeType       string
}

// LedgerMutation groups balance changes with the transaction that explains
// them. Stores apply it atomically.
type LedgerMutation struct {
	Changes     []BalanceChange
	Transaction LedgerTransaction
}

// BalanceChangeLog records a balance before and after one change.
type BalanceChangeLog struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	TransactionNo string    `json:"transaction_no"`
	ChangeAmount  int64     `json:"change_amount"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	ChangeType    string    `json:"change_type"`
	CreateTime    time.Time `json:"create_time"`
}

// LedgerRepo is the storage contract of the ledger.
type LedgerRepo interface {
	GetBalance(ctx context.Context, userID int64) (UserBalance, error)
	// EnsureBalance returns the balance row, creating an empty one if needed.
	EnsureBalance(ctx context.Context, userID int64) (UserBalance, error)
	FindSuccessByIdempotencyKey(ctx context.Context, key string) (LedgerTransaction, error)
	// ApplyMutation commits all changes and the transaction together. It
	// returns ErrVersionConflict if any expected version is stale and
	// ErrDuplicateIdempotencyKey if the key is already taken.
	ApplyMutation(ctx context.Context, m LedgerMutation) (LedgerTransaction, error)
	ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]LedgerTransaction, error)
	ListBalanceChanges(ctx context.Context, userID int64, limit int) ([]BalanceChangeLog, error)
}

// TransactionNumberer issues unique transaction numbers.
type TransactionNumberer interface {
	NextTransactionNo() string
}

// RetentionKey derives the idempotency key of a weekly retention reward.
func RetentionKey(kind HighlightKind, recordID int64, week int) string {
	return fmt.Sprintf("%s_RETENTION:%d:W%d", kind.Code(), recordID, week)
}

// LikeBonusKey derives the idempotency key of a like bonus paid when the
// generation recordID was superseded by the same leader with more likes.
func LikeBonusKey(kind HighlightKind, recordID int64) string {
	return fmt.Sprintf("%s_LIKE_BONUS:%d", kind.Code(), recordID)
}
