package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radish-rewards/internal/adapters/memory"
	"radish-rewards/internal/app"
	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/config"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("TZ", "UTC")
	t.Setenv("PG_DSN", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("RABBITMQ_URL", "")
	cfg, err := config.Parse()
	require.NoError(t, err)
	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	return a
}

func execute(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{
		Open: func(context.Context, bool) (*app.App, error) { return a, nil },
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"migrate", "rank", "reward", "balance", "transactions", "transfer", "adjust", "events"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestAdjustThenBalance(t *testing.T) {
	a := newTestApp(t)

	_, err := execute(t, a, "adjust", "5", "--delta", "40", "--reason", "compensation", "--operator", "1")
	require.NoError(t, err)

	out, err := execute(t, a, "balance", "5")
	require.NoError(t, err)
	var bal domain.UserBalance
	require.NoError(t, json.Unmarshal([]byte(out), &bal))
	assert.Equal(t, int64(40), bal.Balance)

	out, err = execute(t, a, "transactions", "5")
	require.NoError(t, err)
	var txs []domain.LedgerTransaction
	require.NoError(t, json.Unmarshal([]byte(out), &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxAdminAdjust, txs[0].TransactionType)
}

func TestTransferFailureExitsWithError(t *testing.T) {
	a := newTestApp(t)

	out, err := execute(t, a, "transfer", "--from", "1", "--to", "2", "--amount", "10")
	require.Error(t, err)
	assert.Contains(t, out, string(domain.FailureUserNotFound))
}

func TestRankWithDate(t *testing.T) {
	a := newTestApp(t)
	store := a.Highlights().(*memory.Store)
	store.PutComment(domain.Comment{ID: 1, PostID: 10, LikeCount: 4, AuthorID: 7, CreateTime: time.Now(), IsEnabled: true})

	out, err := execute(t, a, "rank", "--date", "2026-03-01")
	require.NoError(t, err)
	var res domain.RankingResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.GodCommentsWritten)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), res.StatDate.UTC())

	_, err = execute(t, a, "rank", "--date", "03/01/2026")
	require.Error(t, err)
}

func TestBackendRequirements(t *testing.T) {
	a := newTestApp(t)

	_, err := execute(t, a, "migrate")
	require.ErrorContains(t, err, "PG_DSN")

	_, err = execute(t, a, "events")
	require.ErrorContains(t, err, "REDIS_ADDR")

	_, err = execute(t, a, "balance", "abc")
	require.Error(t, err)
}
