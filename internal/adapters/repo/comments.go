package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/metrics"
)

const eligibleComment = `NOT is_deleted AND is_enabled`

// groupColumn returns the column a kind groups by and the matching filter.
func groupColumn(kind domain.HighlightKind) (string, string, error) {
	switch kind {
	case domain.HighlightGodComment:
		return "post_id", "parent_id IS NULL", nil
	case domain.HighlightSofa:
		return "parent_id", "parent_id IS NOT NULL", nil
	}
	return "", "", fmt.Errorf("unknown highlight kind %d", int(kind))
}

// ListKeys implements domain.CommentSource.
func (p *Postgres) ListKeys(ctx context.Context, kind domain.HighlightKind, activeSince time.Time) ([]int64, error) {
	column, filter, err := groupColumn(kind)
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := fmt.Sprintf(`
SELECT DISTINCT %[1]s
FROM comments
WHERE %[2]s AND %[3]s
  AND ($1::timestamptz IS NULL OR COALESCE(modify_time, create_time) > $1)
ORDER BY %[1]s
`, column, filter, eligibleComment)

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, nullTime(activeSince))
	metrics.ObserveNetworkRequest("postgres", "comments_list_keys", "comments", start, err)
	if err != nil {
		return nil, err
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect keys: %w", err)
	}
	return keys, nil
}

// TopComments implements domain.CommentSource.
func (p *Postgres) TopComments(ctx context.Context, key domain.HighlightKey, limit int) ([]domain.Comment, error) {
	column, filter, err := groupColumn(key.Kind)
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := fmt.Sprintf(`
SELECT id, post_id, parent_id, like_count, author_id, author_name, content, create_time, modify_time, is_deleted, is_enabled
FROM comments
WHERE %s = $1 AND %s AND %s
ORDER BY like_count DESC, create_time DESC, id DESC
LIMIT $2
`, column, filter, eligibleComment)

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, key.ID, limit)
	metrics.ObserveNetworkRequest("postgres", "comments_top", "comments", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := make([]domain.Comment, 0, limit)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// CountEligible implements domain.CommentSource.
func (p *Postgres) CountEligible(ctx context.Context, key domain.HighlightKey) (int, error) {
	column, filter, err := groupColumn(key.Kind)
	if err != nil {
		return 0, err
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT COUNT(*) FROM comments WHERE %s = $1 AND %s AND %s`, column, filter, eligibleComment)
	start := time.Now()
	var n int
	err = p.pool.QueryRow(ctx, query, key.ID).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "comments_count", "comments", start, err)
	return n, err
}

func scanComment(row pgx.Row) (domain.Comment, error) {
	var c domain.Comment
	err := row.Scan(
		&c.ID,
		&c.PostID,
		&c.ParentID,
		&c.LikeCount,
		&c.AuthorID,
		&c.AuthorName,
		&c.Content,
		&c.CreateTime,
		&c.ModifyTime,
		&c.IsDeleted,
		&c.IsEnabled,
	)
	return c, err
}
