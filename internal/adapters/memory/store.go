// Package memory keeps comments, highlights and the ledger in process memory.
// It mirrors the Postgres adapter's transactional guarantees and is used in
// dev mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"radish-rewards/internal/domain"
)

// Store implements the comment source, highlight and ledger repositories.
type Store struct {
	mu sync.Mutex

	comments   map[int64]domain.Comment
	highlights []domain.HighlightRecord
	balances   map[int64]domain.UserBalance
	txs        []domain.LedgerTransaction
	changes    []domain.BalanceChangeLog
	idemIndex  map[string]int

	nextHighlightID int64
	nextTxID        int64
	nextChangeID    int64
	now             func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		comments:  make(map[int64]domain.Comment),
		balances:  make(map[int64]domain.UserBalance),
		idemIndex: make(map[string]int),
		now:       time.Now,
	}
}

// PutComment inserts or replaces a comment.
func (s *Store) PutComment(c domain.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[c.ID] = c
}

// UpdateLikes sets the like count of a comment.
func (s *Store) UpdateLikes(commentID, likes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[commentID]
	if !ok {
		return
	}
	c.LikeCount = likes
	now := s.now()
	c.ModifyTime = &now
	s.comments[commentID] = c
}

// SetBalance overwrites a balance row, creating it if needed.
func (s *Store) SetBalance(b domain.UserBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.CreateTime.IsZero() {
		b.CreateTime = s.now()
	}
	s.balances[b.UserID] = b
}

// Highlights returns a copy of the full highlight history.
func (s *Store) Highlights() []domain.HighlightRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.HighlightRecord(nil), s.highlights...)
}

// Transactions returns a copy of all ledger transactions.
func (s *Store) Transactions() []domain.LedgerTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LedgerTransaction(nil), s.txs...)
}

func groupKey(c domain.Comment, kind domain.HighlightKind) (int64, bool) {
	switch kind {
	case domain.HighlightGodComment:
		if c.ParentID == nil {
			return c.PostID, true
		}
	case domain.HighlightSofa:
		if c.ParentID != nil {
			return *c.ParentID, true
		}
	}
	return 0, false
}

// ListKeys implements domain.CommentSource.
func (s *Store) ListKeys(_ context.Context, kind domain.HighlightKind, activeSince time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]struct{})
	keys := make([]int64, 0)
	for _, c := range s.comments {
		if !c.Eligible() {
			continue
		}
		key, ok := groupKey(c, kind)
		if !ok {
			continue
		}
		if !activeSince.IsZero() {
			touched := c.CreateTime
			if c.ModifyTime != nil {
				touched = *c.ModifyTime
			}
			if !touched.After(activeSince) {
				continue
			}
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

func (s *Store) eligibleLocked(key domain.HighlightKey) []domain.Comment {
	out := make([]domain.Comment, 0)
	for _, c := range s.comments {
		if !c.Eligible() {
			continue
		}
		if k, ok := groupKey(c, key.Kind); ok && k == key.ID {
			out = append(out, c)
		}
	}
	return out
}

// TopComments implements domain.CommentSource.
func (s *Store) TopComments(_ context.Context, key domain.HighlightKey, limit int) ([]domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.eligibleLocked(key)
	sort.Slice(out, func(i, j int) bool {
		if out[i].LikeCount != out[j].LikeCount {
			return out[i].LikeCount > out[j].LikeCount
		}
		if !out[i].CreateTime.Equal(out[j].CreateTime) {
			return out[i].CreateTime.After(out[j].CreateTime)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountEligible implements domain.CommentSource.
func (s *Store) CountEligible(_ context.Context, key domain.HighlightKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.eligibleLocked(key)), nil
}

func (s *Store) currentLocked(key domain.HighlightKey) []int {
	idx := make([]int, 0)
	for i, h := range s.highlights {
		if h.IsCurrent && h.Key() == key {
			idx = append(idx, i)
		}
	}
	return idx
}

// CurrentHighlight implements domain.HighlightRepo.
func (s *Store) CurrentHighlight(_ context.Context, key domain.HighlightKey) (domain.HighlightRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best  domain.HighlightRecord
		found bool
	)
	for _, i := range s.currentLocked(key) {
		if !found || s.highlights[i].Rank < best.Rank {
			best = s.highlights[i]
			found = true
		}
	}
	if !found {
		return domain.HighlightRecord{}, domain.ErrHighlightNotFound
	}
	return best, nil
}

// ReplaceCurrent implements domain.HighlightRepo.
func (s *Store) ReplaceCurrent(_ context.Context, key domain.HighlightKey, records []domain.HighlightRecord) ([]domain.HighlightRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	generations := make(map[string]struct{})
	for _, r := range records {
		if r.Key() != key {
			return nil, domain.ErrGenerationInvariant
		}
		generations[r.GenerationID] = struct{}{}
	}
	if len(generations) > 1 {
		return nil, domain.ErrGenerationInvariant
	}

	for _, i := range s.currentLocked(key) {
		s.highlights[i].IsCurrent = false
	}
	inserted := make([]domain.HighlightRecord, 0, len(records))
	for _, r := range records {
		s.nextHighlightID++
		r.ID = s.nextHighlightID
		r.IsCurrent = true
		if r.CreateTime.IsZero() {
			r.CreateTime = s.now()
		}
		s.highlights = append(s.highlights, r)
		inserted = append(inserted, r)
	}
	return inserted, nil
}

// RetireCurrent implements domain.HighlightRepo.
func (s *Store) RetireCurrent(_ context.Context, key domain.HighlightKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.currentLocked(key)
	for _, i := range idx {
		s.highlights[i].IsCurrent = false
	}
	return len(idx), nil
}

// ListCurrent implements domain.HighlightRepo.
func (s *Store) ListCurrent(_ context.Context, kind domain.HighlightKind) ([]domain.HighlightRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HighlightRecord, 0)
	for _, h := range s.highlights {
		if h.IsCurrent && h.Kind == kind {
			out = append(out, h)
		}
	}
	return out, nil
}

// ListCurrentByKey implements domain.HighlightQueries.
func (s *Store) ListCurrentByKey(_ context.Context, key domain.HighlightKey) ([]domain.HighlightRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HighlightRecord, 0)
	for _, i := range s.currentLocked(key) {
		out = append(out, s.highlights[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

// CurrentForComment implements domain.HighlightQueries.
func (s *Store) CurrentForComment(_ context.Context, commentID int64) (domain.HighlightRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.highlights {
		if h.IsCurrent && h.CommentID == commentID {
			return h, nil
		}
	}
	return domain.HighlightRecord{}, domain.ErrHighlightNotFound
}

// HistoryByPost implements domain.HighlightQueries.
func (s *Store) HistoryByPost(_ context.Context, postID int64, limit, offset int) ([]domain.HighlightRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.HighlightRecord, 0)
	for i := len(s.highlights) - 1; i >= 0; i-- {
		if s.highlights[i].PostID == postID {
			out = append(out, s.highlights[i])
		}
	}
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var (
	_ domain.CommentSource    = (*Store)(nil)
	_ domain.HighlightRepo    = (*Store)(nil)
	_ domain.HighlightQueries = (*Store)(nil)
	_ domain.LedgerRepo       = (*Store)(nil)
)
