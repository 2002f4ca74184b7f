package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/metrics"
)

const highlightColumns = `id, post_id, comment_id, parent_comment_id, kind, stat_date, like_count, rank,
content_snapshot, author_id, author_name, is_current, generation_id, create_time`

// keyFilter returns the WHERE fragment selecting a key's rows. $1 is the kind
// and $2 the key id.
func keyFilter(kind domain.HighlightKind) string {
	if kind == domain.HighlightSofa {
		return "kind = $1 AND parent_comment_id = $2"
	}
	return "kind = $1 AND post_id = $2 AND parent_comment_id IS NULL"
}

// CurrentHighlight implements domain.HighlightRepo.
func (p *Postgres) CurrentHighlight(ctx context.Context, key domain.HighlightKey) (domain.HighlightRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT `+highlightColumns+`
FROM highlight_records
WHERE `+keyFilter(key.Kind)+` AND is_current
ORDER BY rank
LIMIT 1
`, int16(key.Kind), key.ID)
	rec, err := scanHighlight(row)
	metrics.ObserveNetworkRequest("postgres", "highlight_current", "highlight_records", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HighlightRecord{}, domain.ErrHighlightNotFound
	}
	return rec, err
}

// ReplaceCurrent implements domain.HighlightRepo. Retiring the old generation
// and inserting the new one happen in one transaction serialized per key.
func (p *Postgres) ReplaceCurrent(ctx context.Context, key domain.HighlightKey, records []domain.HighlightRecord) ([]domain.HighlightRecord, error) {
	for _, r := range records {
		if r.Key() != key || r.GenerationID != records[0].GenerationID {
			return nil, domain.ErrGenerationInvariant
		}
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "highlight_records", start, err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "highlight:"+key.String())
	metrics.ObserveNetworkRequest("postgres", "highlight_lock", "highlight_records", start, err)
	if err != nil {
		return nil, fmt.Errorf("lock key: %w", err)
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE highlight_records SET is_current = false
WHERE `+keyFilter(key.Kind)+` AND is_current
`, int16(key.Kind), key.ID)
	metrics.ObserveNetworkRequest("postgres", "highlight_retire", "highlight_records", start, err)
	if err != nil {
		return nil, fmt.Errorf("retire current: %w", err)
	}

	inserted := make([]domain.HighlightRecord, 0, len(records))
	for _, r := range records {
		if r.CreateTime.IsZero() {
			r.CreateTime = time.Now()
		}
		start = time.Now()
		err = tx.QueryRow(ctx, `
INSERT INTO highlight_records (post_id, comment_id, parent_comment_id, kind, stat_date, like_count, rank,
	content_snapshot, author_id, author_name, is_current, generation_id, create_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true, $11, $12)
RETURNING id
`, r.PostID, r.CommentID, r.ParentCommentID, int16(r.Kind), r.StatDate, r.LikeCount, r.Rank,
			r.ContentSnapshot, r.AuthorID, r.AuthorName, r.GenerationID, r.CreateTime).Scan(&r.ID)
		metrics.ObserveNetworkRequest("postgres", "highlight_insert", "highlight_records", start, err)
		if err != nil {
			return nil, fmt.Errorf("insert highlight: %w", err)
		}
		r.IsCurrent = true
		inserted = append(inserted, r)
	}

	var generations int
	start = time.Now()
	err = tx.QueryRow(ctx, `
SELECT COUNT(DISTINCT generation_id) FROM highlight_records
WHERE `+keyFilter(key.Kind)+` AND is_current
`, int16(key.Kind), key.ID).Scan(&generations)
	metrics.ObserveNetworkRequest("postgres", "highlight_check", "highlight_records", start, err)
	if err != nil {
		return nil, fmt.Errorf("check generations: %w", err)
	}
	if generations > 1 {
		return nil, fmt.Errorf("%s has %d current generations: %w", key, generations, domain.ErrGenerationInvariant)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "highlight_records", start, err)
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// RetireCurrent implements domain.HighlightRepo.
func (p *Postgres) RetireCurrent(ctx context.Context, key domain.HighlightKey) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE highlight_records SET is_current = false
WHERE `+keyFilter(key.Kind)+` AND is_current
`, int16(key.Kind), key.ID)
	metrics.ObserveNetworkRequest("postgres", "highlight_retire", "highlight_records", start, err)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListCurrent implements domain.HighlightRepo.
func (p *Postgres) ListCurrent(ctx context.Context, kind domain.HighlightKind) ([]domain.HighlightRecord, error) {
	return p.queryHighlights(ctx, "highlight_list_current", `
SELECT `+highlightColumns+`
FROM highlight_records
WHERE kind = $1 AND is_current
ORDER BY id
`, int16(kind))
}

// ListCurrentByKey implements domain.HighlightQueries.
func (p *Postgres) ListCurrentByKey(ctx context.Context, key domain.HighlightKey) ([]domain.HighlightRecord, error) {
	return p.queryHighlights(ctx, "highlight_list_by_key", `
SELECT `+highlightColumns+`
FROM highlight_records
WHERE `+keyFilter(key.Kind)+` AND is_current
ORDER BY rank
`, int16(key.Kind), key.ID)
}

// CurrentForComment implements domain.HighlightQueries.
func (p *Postgres) CurrentForComment(ctx context.Context, commentID int64) (domain.HighlightRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT `+highlightColumns+`
FROM highlight_records
WHERE comment_id = $1 AND is_current
ORDER BY kind
LIMIT 1
`, commentID)
	rec, err := scanHighlight(row)
	metrics.ObserveNetworkRequest("postgres", "highlight_by_comment", "highlight_records", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HighlightRecord{}, domain.ErrHighlightNotFound
	}
	return rec, err
}

// HistoryByPost implements domain.HighlightQueries.
func (p *Postgres) HistoryByPost(ctx context.Context, postID int64, limit, offset int) ([]domain.HighlightRecord, error) {
	return p.queryHighlights(ctx, "highlight_history", `
SELECT `+highlightColumns+`
FROM highlight_records
WHERE post_id = $1
ORDER BY id DESC
LIMIT $2 OFFSET $3
`, postID, limit, offset)
}

func (p *Postgres) queryHighlights(ctx context.Context, op, query string, args ...any) ([]domain.HighlightRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "highlight_records", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.HighlightRecord, 0)
	for rows.Next() {
		rec, err := scanHighlight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanHighlight(row pgx.Row) (domain.HighlightRecord, error) {
	var (
		rec  domain.HighlightRecord
		kind int16
	)
	err := row.Scan(
		&rec.ID,
		&rec.PostID,
		&rec.CommentID,
		&rec.ParentCommentID,
		&kind,
		&rec.StatDate,
		&rec.LikeCount,
		&rec.Rank,
		&rec.ContentSnapshot,
		&rec.AuthorID,
		&rec.AuthorName,
		&rec.IsCurrent,
		&rec.GenerationID,
		&rec.CreateTime,
	)
	rec.Kind = domain.HighlightKind(kind)
	return rec, err
}

func ignoreNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}
