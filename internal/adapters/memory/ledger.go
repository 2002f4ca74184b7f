package memory

import (
	"context"
	"sort"

	"radish-rewards/internal/domain"
)

// GetBalance implements domain.LedgerRepo.
func (s *Store) GetBalance(_ context.Context, userID int64) (domain.UserBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[userID]
	if !ok {
		return domain.UserBalance{}, domain.ErrBalanceNotFound
	}
	return b, nil
}

// EnsureBalance implements domain.LedgerRepo.
func (s *Store) EnsureBalance(_ context.Context, userID int64) (domain.UserBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[userID]; ok {
		return b, nil
	}
	now := s.now()
	b := domain.UserBalance{UserID: userID, CreateTime: now, UpdateTime: now}
	s.balances[userID] = b
	return b, nil
}

// FindSuccessByIdempotencyKey implements domain.LedgerRepo.
func (s *Store) FindSuccessByIdempotencyKey(_ context.Context, key string) (domain.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.idemIndex[key]
	if !ok {
		return domain.LedgerTransaction{}, domain.ErrTransactionNotFound
	}
	return s.txs[i], nil
}

// ApplyMutation implements domain.LedgerRepo. All checks run before any
// state changes so a failed mutation leaves nothing behind.
func (s *Store) ApplyMutation(_ context.Context, m domain.LedgerMutation) (domain.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := m.Transaction
	if tx.IdempotencyKey != "" && tx.Status == domain.TxStatusSuccess {
		if _, dup := s.idemIndex[tx.IdempotencyKey]; dup {
			return domain.LedgerTransaction{}, domain.ErrDuplicateIdempotencyKey
		}
	}
	for _, ch := range m.Changes {
		b, ok := s.balances[ch.UserID]
		if !ok {
			return domain.LedgerTransaction{}, domain.ErrBalanceNotFound
		}
		if b.Version != ch.ExpectedVersion {
			return domain.LedgerTransaction{}, domain.ErrVersionConflict
		}
		if b.Balance+ch.BalanceDelta < 0 {
			return domain.LedgerTransaction{}, domain.ErrInsufficientFunds
		}
	}

	now := s.now()
	s.nextTxID++
	tx.ID = s.nextTxID
	tx.CreateTime = now
	s.txs = append(s.txs, tx)
	if tx.IdempotencyKey != "" && tx.Status == domain.TxStatusSuccess {
		s.idemIndex[tx.IdempotencyKey] = len(s.txs) - 1
	}

	for _, ch := range m.Changes {
		b := s.balances[ch.UserID]
		before := b.Balance
		b.Balance += ch.BalanceDelta
		b.TotalEarned += ch.EarnedDelta
		b.TotalSpent += ch.SpentDelta
		b.TotalTransferredIn += ch.TransferInDelta
		b.TotalTransferredOut += ch.TransferOutDelta
		b.Version++
		b.UpdateTime = now
		s.balances[ch.UserID] = b

		s.nextChangeID++
		s.changes = append(s.changes, domain.BalanceChangeLog{
			ID:            s.nextChangeID,
			UserID:        ch.UserID,
			TransactionNo: tx.TransactionNo,
			ChangeAmount:  ch.BalanceDelta,
			BalanceBefore: before,
			BalanceAfter:  b.Balance,
			ChangeType:    ch.ChangeType,
			CreateTime:    now,
		})
	}
	return tx, nil
}

// ListTransactions implements domain.LedgerRepo.
func (s *Store) ListTransactions(_ context.Context, userID int64, limit, offset int) ([]domain.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LedgerTransaction, 0)
	for i := len(s.txs) - 1; i >= 0; i-- {
		tx := s.txs[i]
		if (tx.FromUserID != nil && *tx.FromUserID == userID) || (tx.ToUserID != nil && *tx.ToUserID == userID) {
			out = append(out, tx)
		}
	}
	return page(out, limit, offset), nil
}

// ListBalanceChanges implements domain.LedgerRepo.
func (s *Store) ListBalanceChanges(_ context.Context, userID int64, limit int) ([]domain.BalanceChangeLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BalanceChangeLog, 0)
	for _, ch := range s.changes {
		if ch.UserID == userID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, limit, 0), nil
}
