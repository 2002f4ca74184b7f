package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/metrics"
)

const balanceColumns = `user_id, balance, frozen_balance, total_earned, total_spent,
total_transferred_in, total_transferred_out, version, create_time, update_time`

const transactionColumns = `id, transaction_no, from_user_id, to_user_id, amount, fee, transaction_type,
status, business_type, business_id, idempotency_key, remark, create_time`

// GetBalance implements domain.LedgerRepo.
func (p *Postgres) GetBalance(ctx context.Context, userID int64) (domain.UserBalance, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM user_balances WHERE user_id = $1`, userID)
	bal, err := scanBalance(row)
	metrics.ObserveNetworkRequest("postgres", "balance_get", "user_balances", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserBalance{}, domain.ErrBalanceNotFound
	}
	return bal, err
}

// EnsureBalance implements domain.LedgerRepo. Concurrent callers race on the
// primary key and all end up reading the same row.
func (p *Postgres) EnsureBalance(ctx context.Context, userID int64) (domain.UserBalance, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO user_balances (user_id)
VALUES ($1)
ON CONFLICT (user_id) DO NOTHING
`, userID)
	metrics.ObserveNetworkRequest("postgres", "balance_ensure", "user_balances", start, err)
	if err != nil {
		return domain.UserBalance{}, err
	}
	return p.GetBalance(ctx, userID)
}

// FindSuccessByIdempotencyKey implements domain.LedgerRepo.
func (p *Postgres) FindSuccessByIdempotencyKey(ctx context.Context, key string) (domain.LedgerTransaction, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT `+transactionColumns+`
FROM ledger_transactions
WHERE idempotency_key = $1 AND status = 'success'
`, key)
	tx, err := scanTransaction(row)
	metrics.ObserveNetworkRequest("postgres", "transaction_by_key", "ledger_transactions", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerTransaction{}, domain.ErrTransactionNotFound
	}
	return tx, err
}

// ApplyMutation implements domain.LedgerRepo. Balance rows are updated in
// user id order with a version guard. The unique index on successful
// idempotency keys turns a lost race into ErrDuplicateIdempotencyKey.
func (p *Postgres) ApplyMutation(ctx context.Context, m domain.LedgerMutation) (domain.LedgerTransaction, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "ledger_transactions", start, err)
	if err != nil {
		return domain.LedgerTransaction{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t := m.Transaction
	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO ledger_transactions (transaction_no, from_user_id, to_user_id, amount, fee, transaction_type,
	status, business_type, business_id, idempotency_key, remark)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id, create_time
`, t.TransactionNo, t.FromUserID, t.ToUserID, t.Amount, t.Fee, string(t.TransactionType),
		string(t.Status), nullString(t.BusinessType), t.BusinessID, nullString(t.IdempotencyKey), nullString(t.Remark)).
		Scan(&t.ID, &t.CreateTime)
	metrics.ObserveNetworkRequest("postgres", "transaction_insert", "ledger_transactions", start, err)
	if err != nil {
		if code, constraint := pgErrorCode(err); code == pgUniqueViolation && constraint == idempotencyIndex {
			return domain.LedgerTransaction{}, domain.ErrDuplicateIdempotencyKey
		}
		return domain.LedgerTransaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	changes := append([]domain.BalanceChange(nil), m.Changes...)
	sort.Slice(changes, func(i, j int) bool { return changes[i].UserID < changes[j].UserID })
	for _, ch := range changes {
		var after int64
		start = time.Now()
		err = tx.QueryRow(ctx, `
UPDATE user_balances
SET balance = balance + $3,
	total_earned = total_earned + $4,
	total_spent = total_spent + $5,
	total_transferred_in = total_transferred_in + $6,
	total_transferred_out = total_transferred_out + $7,
	version = version + 1,
	update_time = now()
WHERE user_id = $1 AND version = $2
RETURNING balance
`, ch.UserID, ch.ExpectedVersion, ch.BalanceDelta, ch.EarnedDelta, ch.SpentDelta, ch.TransferInDelta, ch.TransferOutDelta).Scan(&after)
		metrics.ObserveNetworkRequest("postgres", "balance_update", "user_balances", start, ignoreNoRows(err))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return domain.LedgerTransaction{}, domain.ErrVersionConflict
		case err != nil:
			if code, _ := pgErrorCode(err); code == pgCheckViolation {
				return domain.LedgerTransaction{}, domain.ErrInsufficientFunds
			}
			return domain.LedgerTransaction{}, fmt.Errorf("update balance %d: %w", ch.UserID, err)
		}

		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO balance_change_logs (user_id, transaction_no, change_amount, balance_before, balance_after, change_type)
VALUES ($1, $2, $3, $4, $5, $6)
`, ch.UserID, t.TransactionNo, ch.BalanceDelta, after-ch.BalanceDelta, after, ch.ChangeType)
		metrics.ObserveNetworkRequest("postgres", "balance_log_insert", "balance_change_logs", start, err)
		if err != nil {
			return domain.LedgerTransaction{}, fmt.Errorf("insert balance log: %w", err)
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "ledger_transactions", start, err)
	if err != nil {
		return domain.LedgerTransaction{}, err
	}
	return t, nil
}

// ListTransactions implements domain.LedgerRepo.
func (p *Postgres) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]domain.LedgerTransaction, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+transactionColumns+`
FROM ledger_transactions
WHERE from_user_id = $1 OR to_user_id = $1
ORDER BY id DESC
LIMIT $2 OFFSET $3
`, userID, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "transaction_list", "ledger_transactions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LedgerTransaction, 0, limit)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListBalanceChanges implements domain.LedgerRepo.
func (p *Postgres) ListBalanceChanges(ctx context.Context, userID int64, limit int) ([]domain.BalanceChangeLog, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, transaction_no, change_amount, balance_before, balance_after, change_type, create_time
FROM balance_change_logs
WHERE user_id = $1
ORDER BY id DESC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "balance_log_list", "balance_change_logs", start, err)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BalanceChangeLog, error) {
		var c domain.BalanceChangeLog
		err := row.Scan(&c.ID, &c.UserID, &c.TransactionNo, &c.ChangeAmount, &c.BalanceBefore, &c.BalanceAfter, &c.ChangeType, &c.CreateTime)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect balance changes: %w", err)
	}
	return out, nil
}

func scanBalance(row pgx.Row) (domain.UserBalance, error) {
	var b domain.UserBalance
	err := row.Scan(
		&b.UserID,
		&b.Balance,
		&b.FrozenBalance,
		&b.TotalEarned,
		&b.TotalSpent,
		&b.TotalTransferredIn,
		&b.TotalTransferredOut,
		&b.Version,
		&b.CreateTime,
		&b.UpdateTime,
	)
	return b, err
}

func scanTransaction(row pgx.Row) (domain.LedgerTransaction, error) {
	var (
		t                                    domain.LedgerTransaction
		txType, status                       string
		businessType, idempotencyKey, remark *string
	)
	err := row.Scan(
		&t.ID,
		&t.TransactionNo,
		&t.FromUserID,
		&t.ToUserID,
		&t.Amount,
		&t.Fee,
		&txType,
		&status,
		&businessType,
		&t.BusinessID,
		&idempotencyKey,
		&remark,
		&t.CreateTime,
	)
	if err != nil {
		return domain.LedgerTransaction{}, err
	}
	t.TransactionType = domain.TransactionType(txType)
	t.Status = domain.TransactionStatus(status)
	t.BusinessType = deref(businessType)
	t.IdempotencyKey = deref(idempotencyKey)
	t.Remark = deref(remark)
	return t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
