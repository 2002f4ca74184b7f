package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrHighlightNotFound is returned when a key has no current generation.
	ErrHighlightNotFound = errors.New("highlight not found")

	// ErrGenerationInvariant signals that a key ended up with more than one
	// current generation. Callers must abort the run.
	ErrGenerationInvariant = errors.New("highlight generation invariant violated")
)

// HighlightKind distinguishes post-level and reply-level highlights.
type HighlightKind int

const (
	// HighlightGodComment is the most liked root comment of a post.
	HighlightGodComment HighlightKind = 1
	// HighlightSofa is the most liked reply under a root comment.
	HighlightSofa HighlightKind = 2
)

// HighlightKinds lists kinds in processing order.
var HighlightKinds = []HighlightKind{HighlightGodComment, HighlightSofa}

func (k HighlightKind) String() string {
	switch k {
	case HighlightGodComment:
		return "GodComment"
	case HighlightSofa:
		return "Sofa"
	default:
		return fmt.Sprintf("HighlightKind(%d)", int(k))
	}
}

// Code is the upper-case form used in business types and idempotency keys.
func (k HighlightKind) Code() string {
	switch k {
	case HighlightGodComment:
		return "GOD_COMMENT"
	case HighlightSofa:
		return "SOFA"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether k is a known kind.
func (k HighlightKind) Valid() bool {
	return k == HighlightGodComment || k == HighlightSofa
}

// ParseHighlightKind accepts both String and Code spellings.
func ParseHighlightKind(raw string) (HighlightKind, error) {
	switch raw {
	case "GodComment", "GOD_COMMENT", "god", "god_comment":
		return HighlightGodComment, nil
	case "Sofa", "SOFA", "sofa":
		return HighlightSofa, nil
	}
	return 0, fmt.Errorf("unknown highlight kind %q", raw)
}

// Comment is the read-only view of a forum comment used for ranking.
type Comment struct {
	ID         int64
	PostID     int64
	ParentID   *int64
	LikeCount  int64
	AuthorID   int64
	AuthorName string
	Content    string
	CreateTime time.Time
	ModifyTime *time.Time
	IsDeleted  bool
	IsEnabled  bool
}

// Eligible reports whether the comment takes part in ranking.
func (c Comment) Eligible() bool {
	return !c.IsDeleted && c.IsEnabled
}

// HighlightKey identifies one ranking slot: a post for god comments, a root
// comment for sofas.
type HighlightKey struct {
	Kind HighlightKind
	ID   int64
}

func (k HighlightKey) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// HighlightRecord is one row of the append-only highlight history.
type HighlightRecord struct {
	ID              int64         `json:"id"`
	PostID          int64         `json:"post_id"`
	CommentID       int64         `json:"comment_id"`
	ParentCommentID *int64        `json:"parent_comment_id,omitempty"`
	Kind            HighlightKind `json:"kind"`
	StatDate        time.Time     `json:"stat_date"`
	LikeCount       int64         `json:"like_count"`
	Rank            int           `json:"rank"`
	ContentSnapshot string        `json:"content_snapshot"`
	AuthorID        int64         `json:"author_id"`
	AuthorName      string        `json:"author_name"`
	IsCurrent       bool          `json:"is_current"`
	GenerationID    string        `json:"generation_id"`
	CreateTime      time.Time     `json:"create_time"`
}

// Key returns the ranking slot the record belongs to.
func (r HighlightRecord) Key() HighlightKey {
	if r.Kind == HighlightSofa && r.ParentCommentID != nil {
		return HighlightKey{Kind: r.Kind, ID: *r.ParentCommentID}
	}
	return HighlightKey{Kind: r.Kind, ID: r.PostID}
}

// RankingResult is returned by a daily ranking run.
type RankingResult struct {
	StatDate           time.Time `json:"stat_date"`
	GodCommentsWritten int       `json:"god_comments_written"`
	SofasWritten       int       `json:"sofas_written"`
	KeysRetired        int       `json:"keys_retired"`
	KeysFailed         int       `json:"keys_failed"`
}

// CommentSource reads eligible comments from forum storage.
type CommentSource interface {
	// ListKeys returns distinct post ids (god comments) or parent ids (sofas)
	// with at least one eligible comment. A non-zero activeSince limits the
	// result to keys with comments created or modified after it.
	ListKeys(ctx context.Context, kind HighlightKind, activeSince time.Time) ([]int64, error)
	// TopComments returns eligible comments of the key ordered by like count
	// desc, create time desc.
	TopComments(ctx context.Context, key HighlightKey, limit int) ([]Comment, error)
	CountEligible(ctx context.Context, key HighlightKey) (int, error)
}

// HighlightRepo persists highlight history.
type HighlightRepo interface {
	// CurrentHighlight returns one representative row of the current generation.
	CurrentHighlight(ctx context.Context, key HighlightKey) (HighlightRecord, error)
	// ReplaceCurrent retires the current generation of key and inserts records
	// as the new one in a single transaction.
	ReplaceCurrent(ctx context.Context, key HighlightKey, records []HighlightRecord) ([]HighlightRecord, error)
	// RetireCurrent flips the current generation to history without a successor.
	RetireCurrent(ctx context.Context, key HighlightKey) (int, error)
	ListCurrent(ctx context.Context, kind HighlightKind) ([]HighlightRecord, error)
}

// HighlightQueries serves read-side lookups.
type HighlightQueries interface {
	ListCurrentByKey(ctx context.Context, key HighlightKey) ([]HighlightRecord, error)
	CurrentForComment(ctx context.Context, commentID int64) (HighlightRecord, error)
	HistoryByPost(ctx context.Context, postID int64, limit, offset int) ([]HighlightRecord, error)
}
