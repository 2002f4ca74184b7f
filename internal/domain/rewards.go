package domain

import (
	"context"
	"time"
)

// RetentionWeek is the length of one retention period.
const RetentionWeek = 7 * 24 * time.Hour

// GrantStatus is the outcome of a reward or ledger operation.
type GrantStatus string

const (
	GrantGranted        GrantStatus = "granted"
	GrantAlreadyGranted GrantStatus = "already_granted"
	GrantFailed         GrantStatus = "failed"
)

// FailureReason classifies failed ledger operations.
type FailureReason string

const (
	FailureNone              FailureReason = ""
	FailureInvalidRequest    FailureReason = "invalid_request"
	FailureInvalidAmount     FailureReason = "invalid_amount"
	FailureSelfTransfer      FailureReason = "self_transfer"
	FailureInsufficientFunds FailureReason = "insufficient_funds"
	FailureUserNotFound      FailureReason = "user_not_found"
	FailureVersionConflict   FailureReason = "version_conflict"
	FailureStorage           FailureReason = "storage_error"
)

// GrantOutcome is returned by reward grants. AlreadyGranted is not an error.
type GrantOutcome struct {
	Status        GrantStatus   `json:"status"`
	Amount        int64         `json:"amount"`
	TransactionNo string        `json:"transaction_no,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	Err           error         `json:"-"`
}

// Granted reports whether the call credited the user.
func (o GrantOutcome) Granted() bool { return o.Status == GrantGranted }

// TransferOutcome is returned by transfers and adjustments.
type TransferOutcome struct {
	Success       bool          `json:"success"`
	TransactionNo string        `json:"transaction_no,omitempty"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	Err           error         `json:"-"`
}

// RewardGrant asks for the weekly retention reward of one highlight record.
type RewardGrant struct {
	BusinessID int64
	UserID     int64
	Period     int
	Kind       HighlightKind
}

// LikeBonus asks for the like bonus of a superseded generation.
type LikeBonus struct {
	RecordID  int64
	UserID    int64
	Increment int64
	Kind      HighlightKind
}

// TransferRequest moves funds between two users.
type TransferRequest struct {
	FromUserID int64
	ToUserID   int64
	Amount     int64
	Fee        int64
	Note       string
}

// RewardGranter credits retention rewards.
type RewardGranter interface {
	GrantReward(ctx context.Context, grant RewardGrant) GrantOutcome
}

// LikeBonusGranter credits like bonuses.
type LikeBonusGranter interface {
	GrantLikeBonus(ctx context.Context, bonus LikeBonus) GrantOutcome
}

// RewardPolicy holds reward amounts per highlight kind.
type RewardPolicy struct {
	RetentionPerWeek  map[HighlightKind]int64
	RetentionMaxWeeks int
	LikeBonusPerLike  map[HighlightKind]int64
}

// DefaultRewardPolicy returns the production reward table.
func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{
		RetentionPerWeek: map[HighlightKind]int64{
			HighlightGodComment: 15,
			HighlightSofa:       10,
		},
		RetentionMaxWeeks: 3,
		LikeBonusPerLike: map[HighlightKind]int64{
			HighlightGodComment: 5,
			HighlightSofa:       3,
		},
	}
}

// WeeksRetained returns the number of whole weeks between since and now.
func WeeksRetained(now, since time.Time) int {
	if now.Before(since) {
		return 0
	}
	return int(now.Sub(since) / RetentionWeek)
}

// RetentionResult is returned by a weekly retention run.
type RetentionResult struct {
	GodCommentRewardsGranted int `json:"god_comment_rewards_granted"`
	SofaRewardsGranted       int `json:"sofa_rewards_granted"`
	AlreadyGranted           int `json:"already_granted"`
	Failed                   int `json:"failed"`
}
