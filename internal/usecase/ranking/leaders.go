package ranking

import (
	"sort"
	"time"

	"radish-rewards/internal/domain"
)

// sortCandidates orders comments by like count desc, create time desc and
// id desc so ties always resolve the same way.
func sortCandidates(comments []domain.Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		a, b := comments[i], comments[j]
		if a.LikeCount != b.LikeCount {
			return a.LikeCount > b.LikeCount
		}
		if !a.CreateTime.Equal(b.CreateTime) {
			return a.CreateTime.After(b.CreateTime)
		}
		return a.ID > b.ID
	})
}

// tiedLeaders returns the prefix of sorted candidates sharing the top like
// count.
func tiedLeaders(sorted []domain.Comment) []domain.Comment {
	if len(sorted) == 0 {
		return nil
	}
	top := sorted[0].LikeCount
	n := 1
	for n < len(sorted) && sorted[n].LikeCount == top {
		n++
	}
	return sorted[:n]
}

// needsSupersede reports whether the leader differs from the current
// generation by comment or like count.
func needsSupersede(current domain.HighlightRecord, leader domain.Comment) bool {
	return current.CommentID != leader.ID || current.LikeCount != leader.LikeCount
}

// buildGeneration turns tied leaders into ranked records of one generation.
func buildGeneration(key domain.HighlightKey, leaders []domain.Comment, statDate time.Time, generationID string, now time.Time) []domain.HighlightRecord {
	records := make([]domain.HighlightRecord, 0, len(leaders))
	for i, c := range leaders {
		rec := domain.HighlightRecord{
			PostID:          c.PostID,
			CommentID:       c.ID,
			Kind:            key.Kind,
			StatDate:        statDate,
			LikeCount:       c.LikeCount,
			Rank:            i + 1,
			ContentSnapshot: c.Content,
			AuthorID:        c.AuthorID,
			AuthorName:      c.AuthorName,
			IsCurrent:       true,
			GenerationID:    generationID,
			CreateTime:      now,
		}
		if key.Kind == domain.HighlightSofa {
			parentID := key.ID
			rec.ParentCommentID = &parentID
		}
		records = append(records, rec)
	}
	return records
}

func statDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
