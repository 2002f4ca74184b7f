package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/metrics"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	idempotencyIndex = "ux_ledger_transactions_idempotency_key"
)

// Postgres implements the comment source, highlight and ledger repositories
// on top of pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.CommentSource    = (*Postgres)(nil)
	_ domain.HighlightRepo    = (*Postgres)(nil)
	_ domain.HighlightQueries = (*Postgres)(nil)
	_ domain.LedgerRepo       = (*Postgres)(nil)
)

// NewPostgres creates the adapter.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	err := p.pool.Ping(ctx)
	metrics.ObserveNetworkRequest("postgres", "ping", "pool", start, err)
	return err
}

func pgErrorCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var (
	_ domain.CommentSource    = (*Postgres)(nil)
	_ domain.HighlightRepo    = (*Postgres)(nil)
	_ domain.HighlightQueries = (*Postgres)(nil)
	_ domain.LedgerRepo       = (*Postgres)(nil)
)
